package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Stand-in driver for development without hardware.
 *
 * Description:	Implements the same Driver interface as the vendor
 *		library, serving a prescripted sequence of FIFO
 *		batches.  The poll loop, decode stage and analyzers
 *		cannot tell the difference, which is the point: the
 *		whole pipeline is testable on any machine.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"sync"
)

// StubDriver is a deterministic in-memory Driver.  One stub models
// one device at index 0 with NumChannels inputs.
type StubDriver struct {
	NumChannels int

	// Batches are returned from ReadFIFO in order, one per poll.
	// When they run out, ReadFIFO reports zero records and
	// CTCStatus reports completion.
	Batches [][]uint32

	// FlagsAt maps a poll-iteration number (counting GetFlags
	// calls from 0) to a flags word, for injecting overrun.
	FlagsAt map[int]int

	mu        sync.Mutex
	opened    bool
	measuring bool
	nextBatch int
	flagCalls int
}

// NewStubDriver returns a stub with the given prescripted batches.
func NewStubDriver(numChannels int, batches [][]uint32) *StubDriver {
	return &StubDriver{NumChannels: numChannels, Batches: batches}
}

func (s *StubDriver) OpenDevice(index int) error {
	if index != 0 {
		return fmt.Errorf("no device at index %d", index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *StubDriver) CloseDevice(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

func (s *StubDriver) Initialize(index int, mode Mode, ref RefSource) error {
	if mode != ModeT2 {
		return fmt.Errorf("stub only supports T2 mode")
	}
	if ref != RefInternalClock {
		return fmt.Errorf("stub only supports the internal clock")
	}
	return nil
}

func (s *StubDriver) GetNumberOfInputChannels(index int) (int, error) {
	return s.NumChannels, nil
}

func (s *StubDriver) SetSyncDivider(index int, divider int) error { return nil }
func (s *StubDriver) SetSyncEdgeTrigger(index, levelMV int, e Edge) error { return nil }
func (s *StubDriver) SetSyncChannelOffset(index, offsetPS int) error { return nil }
func (s *StubDriver) SetSyncChannelEnable(index int, enable bool) error { return nil }

func (s *StubDriver) SetInputEdgeTrigger(index, channel, levelMV int, e Edge) error { return nil }
func (s *StubDriver) SetInputChannelOffset(index, channel, offsetPS int) error { return nil }
func (s *StubDriver) SetInputChannelEnable(index, channel int, enable bool) error { return nil }

func (s *StubDriver) StartMeasurement(index int, durationMS int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return fmt.Errorf("device %d is not open", index)
	}
	s.measuring = true
	s.nextBatch = 0
	s.flagCalls = 0
	return nil
}

func (s *StubDriver) StopMeasurement(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measuring = false
	return nil
}

func (s *StubDriver) ReadFIFO(index int) (int, []uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.measuring {
		return 0, nil, fmt.Errorf("device %d is not measuring", index)
	}
	if s.nextBatch >= len(s.Batches) {
		return 0, nil, nil
	}
	var batch = s.Batches[s.nextBatch]
	s.nextBatch++
	return len(batch), batch, nil
}

func (s *StubDriver) GetFlags(index int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flags = s.FlagsAt[s.flagCalls]
	s.flagCalls++
	return flags, nil
}

func (s *StubDriver) CTCStatus(index int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextBatch >= len(s.Batches) {
		return 1, nil
	}
	return 0, nil
}

/*-------------------------------------------------------------------
 *
 * Name:	SyntheticBatches
 *
 * Purpose:	Generate FIFO batches imitating a pulsed-laser
 *		two-detector experiment, for the stub driver.
 *
 * Inputs:	pulses		- How many sync pulses to emit.
 *		periodPS	- Sync pulse spacing in picoseconds.
 *		batchPulses	- Pulses per FIFO batch.
 *
 * Returns:	Raw record batches.  Every pulse produces a sync event
 *		on channel 0; every third pulse a detection on channel
 *		1 at +300 ps; every fifth one on channel 2 at +500 ps.
 *		Overflow records appear wherever the 25-bit tag wraps.
 *
 *--------------------------------------------------------------------*/

func SyntheticBatches(pulses int, periodPS uint64, batchPulses int) [][]uint32 {
	if batchPulses < 1 {
		batchPulses = 1
	}
	var batches [][]uint32
	var events []Event
	var enc = NewT2Encoder(DefaultResolution)
	for p := 0; p < pulses; p++ {
		var t = uint64(p) * periodPS
		events = append(events, Event{Ch: 0, Time: t})
		if p%3 == 0 {
			events = append(events, Event{Ch: 1, Time: t + 300})
		}
		if p%5 == 0 {
			events = append(events, Event{Ch: 2, Time: t + 500})
		}
		if (p+1)%batchPulses == 0 {
			batches = append(batches, enc.Append(nil, events))
			events = events[:0]
		}
	}
	if len(events) > 0 {
		batches = append(batches, enc.Append(nil, events))
	}
	return batches
}
