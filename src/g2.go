package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Second-order correlation for a three-channel
 *		experiment: sync on channel 0, detectors on 1 and 2.
 *
 * Description:	Runs three coincidence machines over one pass of the
 *		sorted stream -- [0 1], [0 2] and [0 1 2] -- gated by
 *		the detectors' peak windows, and normalizes:
 *
 *			g2 = N * N12 / (N1 * N2)
 *
 *		where N counts sync singles.  Peak windows come from
 *		the delay histogram unless the caller supplies
 *		centers.  Detector labels are swapped if needed so
 *		channel 1 is always the earlier peak.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"sort"
)

// G2Options controls CalcG2.  Zero Peak1/Peak2 means "find the peaks
// from the data".  Zero PeakHalfWidth means DefaultPeakHalfWidth.
type G2Options struct {
	Peak1         float64 // ps, window center for channel 1
	Peak2         float64 // ps, window center for channel 2
	PeakHalfWidth float64 // ps
}

// G2Result carries the counts, the windows actually used, and the
// normalized ratio.
type G2Result struct {
	PeakStart1 float64 `json:"peak_start_1"`
	PeakEnd1   float64 `json:"peak_end_1"`
	PeakStart2 float64 `json:"peak_start_2"`
	PeakEnd2   float64 `json:"peak_end_2"`

	NSync   uint64 `json:"n_sync"`
	NSync1  uint64 `json:"n_sync_1"`
	NSync2  uint64 `json:"n_sync_2"`
	NSync12 uint64 `json:"n_sync_1_2"`

	Ratio1 float64 `json:"n_sync_1/n_sync"`
	Ratio2 float64 `json:"n_sync_2/n_sync"`
	G2     float64 `json:"g2"`

	// ChannelSwapped records that detectors 1 and 2 traded labels
	// so that channel 1 holds the earlier peak.
	ChannelSwapped bool `json:"channel_swapped"`
}

/*-------------------------------------------------------------------
 *
 * Name:	CalcG2
 *
 * Purpose:	Compute g2 over a finished dataset.
 *
 * Inputs:	events	- Decoded events; any channels other than
 *			  0, 1, 2 are ignored.  Need not be sorted.
 *		opts	- Optional peak centers and half-width.
 *
 * Returns:	The result, or ErrInsufficientData when either two-fold
 *		count is zero (the ratio would be undefined) or when
 *		auto peak extraction finds no pairs.
 *
 *--------------------------------------------------------------------*/

func CalcG2(events []Event, opts G2Options) (*G2Result, error) {
	var halfWidth = opts.PeakHalfWidth
	if halfWidth == 0 {
		halfWidth = DefaultPeakHalfWidth
	}

	var data = make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Ch <= 2 {
			data = append(data, ev)
		}
	}
	sort.SliceStable(data, func(i, j int) bool { return data[i].Time < data[j].Time })

	var w1, w2 Window
	if opts.Peak1 != 0 && opts.Peak2 != 0 {
		w1 = Window{Start: opts.Peak1 - halfWidth, End: opts.Peak1 + halfWidth}
		w2 = Window{Start: opts.Peak2 - halfWidth, End: opts.Peak2 + halfWidth}
	} else {
		var err error
		w1, err = ExtractPeak(data, 0, 1, halfWidth)
		if err != nil {
			return nil, err
		}
		w2, err = ExtractPeak(data, 0, 2, halfWidth)
		if err != nil {
			return nil, err
		}
	}

	// Keep channel 1 the earlier peak; swap detector labels when it
	// is not.
	var swapped = false
	if w1.Start > w2.Start {
		swapped = true
		w1, w2 = w2, w1
		for i, ev := range data {
			switch ev.Ch {
			case 1:
				data[i].Ch = 2
			case 2:
				data[i].Ch = 1
			}
		}
	}

	var counter, err = NewCoincidenceCounter(
		[]ChannelSpec{Plain(0), Windowed(1, w1.Start, w1.End)},
		[]ChannelSpec{Plain(0), Windowed(2, w2.Start, w2.End)},
		[]ChannelSpec{Plain(0), Windowed(1, w1.Start, w1.End), Windowed(2, w2.Start, w2.End)},
	)
	if err != nil {
		return nil, err
	}
	counter.ProcessEvents(data)

	var result = &G2Result{
		PeakStart1: w1.Start, PeakEnd1: w1.End,
		PeakStart2: w2.Start, PeakEnd2: w2.End,
		NSync:          counter.Singles(0),
		NSync1:         counter.Count(0),
		NSync2:         counter.Count(1),
		NSync12:        counter.Count(2),
		ChannelSwapped: swapped,
	}
	if result.NSync1 == 0 || result.NSync2 == 0 {
		return nil, fmt.Errorf("%w: empty coincidence window (N1=%d, N2=%d), g2 is undefined",
			ErrInsufficientData, result.NSync1, result.NSync2)
	}
	result.Ratio1 = float64(result.NSync1) / float64(result.NSync)
	result.Ratio2 = float64(result.NSync2) / float64(result.NSync)
	result.G2 = float64(result.NSync) * float64(result.NSync12) / (float64(result.NSync1) * float64(result.NSync2))
	return result, nil
}
