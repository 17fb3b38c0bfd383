package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	n-fold coincidence counting over the decoded stream.
 *
 * Description:	Each configured n-tuple runs as a small state machine:
 *		a base-channel event records the tuple's start time,
 *		then the machine waits for each remaining channel in
 *		order, requiring every arrival's delay from the base to
 *		fall strictly inside that channel's peak window.  When
 *		the last channel matches, the tuple counts and the
 *		machine rearms.
 *
 *		One pass over the events feeds every machine plus a
 *		per-channel singles counter, with constant work per
 *		event and no buffering.  That keeps n-fold counting
 *		O(n * events) over arbitrarily long sorted streams,
 *		which matters because a run can easily contain 10^9
 *		events.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"sort"
	"strings"
)

// ChannelSpec names one channel of a coincidence tuple with its peak
// delay window in picoseconds.  The window is strict at both ends.
// The first spec of a tuple is the base; its window is ignored.
type ChannelSpec struct {
	Ch        uint8
	PeakStart float64
	PeakEnd   float64
}

// Plain is a ChannelSpec with no window yet.  Usable as a base, or
// for a target whose window is filled in from peak extraction before
// counting starts.
func Plain(ch uint8) ChannelSpec {
	return ChannelSpec{Ch: ch}
}

// Windowed is a ChannelSpec with an explicit peak window.
func Windowed(ch uint8, peakStart, peakEnd float64) ChannelSpec {
	return ChannelSpec{Ch: ch, PeakStart: peakStart, PeakEnd: peakEnd}
}

func (s ChannelSpec) inPeakWindow(diff float64) bool {
	return diff > s.PeakStart && diff < s.PeakEnd
}

func (s ChannelSpec) zeroWidth() bool {
	return s.PeakStart == 0 && s.PeakEnd == 0
}

// coincidenceMachine is the per-tuple state.  Invariant: 0 <= i < n,
// and baseStart is meaningful whenever i > 0.
type coincidenceMachine struct {
	channels  []ChannelSpec // channels[0] is the base
	name      string
	i         int
	baseStart uint64
	count     uint64
}

func machineName(channels []ChannelSpec) string {
	var ids = make([]string, len(channels))
	for i, c := range channels {
		ids[i] = fmt.Sprintf("%d", c.Ch)
	}
	return "[" + strings.Join(ids, " ") + "]"
}

/*-------------------------------------------------------------------
 *
 * Name:	process
 *
 * Purpose:	Feed one event through the state machine.
 *
 * Description:	A base-channel event always restarts the tuple, even
 *		mid-progress; abandoning in-flight progress keeps the
 *		machine bounded with a single-slot lookahead.  An event
 *		on the expected next channel advances only when its
 *		delay is strictly inside that channel's window; outside
 *		the window the machine keeps waiting on the same
 *		channel.  Everything else is ignored.
 *
 *--------------------------------------------------------------------*/

func (m *coincidenceMachine) process(ch uint8, truetime uint64) {
	if ch == m.channels[0].Ch {
		m.baseStart = truetime
		m.i = 1
		return
	}
	if m.i == 0 {
		return
	}
	var expected = m.channels[m.i]
	if ch != expected.Ch {
		return
	}
	var diff = float64(truetime - m.baseStart)
	if expected.inPeakWindow(diff) {
		m.i++
	}
	if m.i == len(m.channels) {
		m.count++
		m.i = 0
	}
}

// CoincidenceCounter runs any number of coincidence machines plus
// per-channel singles counters in a single pass.
type CoincidenceCounter struct {
	machines []*coincidenceMachine
	singles  map[uint8]uint64
}

/*-------------------------------------------------------------------
 *
 * Name:	NewCoincidenceCounter
 *
 * Purpose:	Configure the engine.
 *
 * Inputs:	targets	- One []ChannelSpec per machine.  The first
 *			  element of each is the base channel.
 *
 * Returns:	The counter, or ErrInvalidState when a tuple is
 *		shorter than 2 or a non-base spec still has a
 *		zero-width window.
 *
 * Description:	The singles set is the union of every channel named by
 *		any machine; events on other channels are ignored
 *		entirely.
 *
 *--------------------------------------------------------------------*/

func NewCoincidenceCounter(targets ...[]ChannelSpec) (*CoincidenceCounter, error) {
	var counter = &CoincidenceCounter{singles: map[uint8]uint64{}}
	for _, channels := range targets {
		if len(channels) < 2 {
			return nil, fmt.Errorf("%w: a coincidence tuple needs at least 2 channels, got %d", ErrInvalidState, len(channels))
		}
		for _, spec := range channels[1:] {
			if spec.zeroWidth() {
				return nil, fmt.Errorf("%w: channel %d has a zero-width peak window", ErrInvalidState, spec.Ch)
			}
		}
		var specs = make([]ChannelSpec, len(channels))
		copy(specs, channels)
		counter.machines = append(counter.machines, &coincidenceMachine{
			channels: specs,
			name:     machineName(specs),
		})
		for _, spec := range channels {
			counter.singles[spec.Ch] = 0
		}
	}
	return counter, nil
}

// CheckChannels verifies every configured channel appears in the
// given set of channels the pipeline produces.  Reported at
// configuration time so a typo'd spec fails before a long run.
func (c *CoincidenceCounter) CheckChannels(produced map[uint8]bool) error {
	var missing []int
	for ch := range c.singles {
		if !produced[ch] {
			missing = append(missing, int(ch))
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		return fmt.Errorf("%w: configured channels %v not present in the stream", ErrUnknownChannel, missing)
	}
	return nil
}

// Process feeds one event to every machine.  Events on channels no
// machine references are discarded without touching any state.
func (c *CoincidenceCounter) Process(ch uint8, truetime uint64) {
	if _, ok := c.singles[ch]; !ok {
		return
	}
	c.singles[ch]++
	for _, m := range c.machines {
		m.process(ch, truetime)
	}
}

// ProcessEvents feeds a batch through Process in order.
func (c *CoincidenceCounter) ProcessEvents(events []Event) {
	for _, ev := range events {
		c.Process(ev.Ch, ev.Time)
	}
}

// Singles returns how many events arrived on the given channel.
func (c *CoincidenceCounter) Singles(ch uint8) uint64 {
	return c.singles[ch]
}

// Count returns the coincidence count of machine k, in configuration
// order.
func (c *CoincidenceCounter) Count(k int) uint64 {
	return c.machines[k].count
}

// Counts maps each machine's name, "[0 1 2]" style, to its count.
func (c *CoincidenceCounter) Counts() map[string]uint64 {
	var out = make(map[string]uint64, len(c.machines))
	for _, m := range c.machines {
		out[m.name] = m.count
	}
	return out
}
