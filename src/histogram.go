package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Histograms of arrival-time differences between a base
 *		channel and target channels.
 *
 * Description:	Only adjacent pairs count: a delta is accumulated for
 *		(e, e_next) when e is on the base channel and the very
 *		next event is on a target channel.  For a pulsed
 *		experiment that is exactly the sync-to-detection delay,
 *		and it makes the histogram a single linear pass.
 *
 *		The same machinery, re-run with bounds fitted to the
 *		data, locates the dominant delay bin and turns it into
 *		a coincidence window for the g2 driver.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"math"
)

// Default histogram bounds: delays up to 1.5 ns in 1000 linear bins.
const (
	DefaultDelayMin = 0
	DefaultDelayMax = 1500 // ps
	DefaultBinCount = 1000
)

// DefaultPeakHalfWidth is the half-width of an extracted peak window
// in picoseconds.
const DefaultPeakHalfWidth = 50

// DelayHistogram accumulates per-target delay distributions against
// one base channel.
type DelayHistogram struct {
	BaseCh   uint8
	Min, Max float64 // delta bounds, both exclusive
	BinCount int

	counts map[uint8][]uint64
}

// NewDelayHistogram returns a histogram over the default bounds.
func NewDelayHistogram(baseCh uint8, targets []uint8) *DelayHistogram {
	var h = &DelayHistogram{
		BaseCh:   baseCh,
		Min:      DefaultDelayMin,
		Max:      DefaultDelayMax,
		BinCount: DefaultBinCount,
		counts:   map[uint8][]uint64{},
	}
	for _, ch := range targets {
		h.counts[ch] = make([]uint64, h.BinCount)
	}
	return h
}

// Accumulate folds a run of events (arrival order) into the bins.
func (h *DelayHistogram) Accumulate(events []Event) {
	var binWidth = (h.Max - h.Min) / float64(h.BinCount)
	for i := 0; i+1 < len(events); i++ {
		if events[i].Ch != h.BaseCh {
			continue
		}
		var next = events[i+1]
		var bins, ok = h.counts[next.Ch]
		if !ok {
			continue
		}
		var diff = float64(next.Time - events[i].Time)
		if diff <= h.Min || diff >= h.Max {
			continue
		}
		var bin = int((diff - h.Min) / binWidth)
		if bin >= h.BinCount { // right edge
			bin = h.BinCount - 1
		}
		bins[bin]++
	}
}

// Counts returns the bin counts for one target channel.
func (h *DelayHistogram) Counts(ch uint8) []uint64 {
	return h.counts[ch]
}

// BinCenter returns the delay at the midpoint of bin i.
func (h *DelayHistogram) BinCenter(i int) float64 {
	var binWidth = (h.Max - h.Min) / float64(h.BinCount)
	return h.Min + (float64(i)+0.5)*binWidth
}

// Window is a delay interval in picoseconds, strict at both ends
// when used as a coincidence gate.
type Window struct {
	Start float64
	End   float64
}

/*-------------------------------------------------------------------
 *
 * Name:	ExtractPeak
 *
 * Purpose:	Find the dominant base->target delay and build a
 *		coincidence window around it.
 *
 * Inputs:	events		- Event stream in arrival order.
 *		from, to	- Base and target channels.
 *		halfWidth	- Half-width of the returned window, ps.
 *
 * Returns:	[center-halfWidth, center+halfWidth] around the
 *		midpoint of the most-populated bin, or
 *		ErrInsufficientData when no adjacent from->to pairs
 *		exist.
 *
 * Description:	Deltas of adjacent from->to pairs are re-binned over
 *		their own min..max range in 1000 bins; the peak is the
 *		argmax bin, ties broken by lowest bin index.  A crude
 *		estimator, but with a clean pulsed source the dominant
 *		bin towers over the background and that is all the
 *		auto-windowing needs.
 *
 *--------------------------------------------------------------------*/

func ExtractPeak(events []Event, from, to uint8, halfWidth float64) (Window, error) {
	var diffs []float64
	for i := 0; i+1 < len(events); i++ {
		if events[i].Ch == from && events[i+1].Ch == to {
			diffs = append(diffs, float64(events[i+1].Time-events[i].Time))
		}
	}
	if len(diffs) == 0 {
		return Window{}, fmt.Errorf("%w: no adjacent %d->%d pairs to extract a peak from", ErrInsufficientData, from, to)
	}

	var minDiff, maxDiff = diffs[0], diffs[0]
	for _, d := range diffs[1:] {
		minDiff = math.Min(minDiff, d)
		maxDiff = math.Max(maxDiff, d)
	}
	if minDiff == maxDiff {
		// Degenerate but legitimate: every delay identical.
		return Window{Start: minDiff - halfWidth, End: minDiff + halfWidth}, nil
	}

	var binWidth = (maxDiff - minDiff) / DefaultBinCount
	var bins [DefaultBinCount]uint64
	for _, d := range diffs {
		var bin = int((d - minDiff) / binWidth)
		if bin >= DefaultBinCount {
			bin = DefaultBinCount - 1
		}
		bins[bin]++
	}

	var peakBin = 0
	for i, n := range bins {
		if n > bins[peakBin] {
			peakBin = i
		}
	}
	var center = minDiff + (float64(peakBin)+0.5)*binWidth
	logger.Debug("extracted peak", "from", from, "to", to, "center_ps", center)
	return Window{Start: center - halfWidth, End: center + halfWidth}, nil
}
