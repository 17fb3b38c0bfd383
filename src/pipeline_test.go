package tdc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full path: stub device -> raw queue -> decode stage -> event queue.
func TestPipelineEndToEnd(t *testing.T) {
	const pulses = 30
	var drv = NewStubDriver(8, SyntheticBatches(pulses, 12500, 7))
	var d, err = OpenDevice(drv, 0, DefaultDeviceConfig(8))
	require.NoError(t, err)
	defer d.Close()

	var p = NewPipeline(DefaultResolution, nil)

	var streamDone = make(chan error, 1)
	go func() {
		streamDone <- d.Stream(context.Background(), time.Second, p.Raw)
		p.Raw.Shutdown()
	}()
	var runDone = make(chan error, 1)
	go func() {
		runDone <- p.Run()
	}()

	var events, acquisitions = CollectEvents(p.Events)
	require.NoError(t, <-streamDone)
	require.NoError(t, <-runDone)

	assert.Equal(t, 1, acquisitions)

	// Every pulse gives a sync event, every third a channel-1
	// detection, every fifth a channel-2 detection.
	var perCh = map[uint8]int{}
	for _, ev := range events {
		perCh[ev.Ch]++
	}
	assert.Equal(t, pulses, perCh[0])
	assert.Equal(t, 10, perCh[1])
	assert.Equal(t, 6, perCh[2])

	// Arrival order means non-decreasing timestamps.
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Time, events[i-1].Time)
	}
}

// Marker grammar: a consumer sees Start before any batch of an
// acquisition and End strictly before the next Start.
func TestPipelineMarkerGrammar(t *testing.T) {
	var p = NewPipeline(DefaultResolution, nil)

	var words = AppendT2Records(nil, []Event{{Ch: 0, Time: 0}, {Ch: 1, Time: 300}}, DefaultResolution)
	go func() {
		// Two back-to-back acquisitions on one pipeline.
		for i := 0; i < 2; i++ {
			p.Raw.Put(MeasStartMarker{Duration: time.Second})
			p.Raw.Put(RawBatch{Words: words})
			p.Raw.Put(MeasEndMarker{})
		}
		p.Raw.Shutdown()
	}()
	go p.Run()

	var kinds []string
	for {
		var item, err = p.Events.Get()
		if err != nil {
			break
		}
		switch item.(type) {
		case MeasStartMarker:
			kinds = append(kinds, "start")
		case EventBatch:
			kinds = append(kinds, "batch")
		case MeasEndMarker:
			kinds = append(kinds, "end")
		}
	}
	assert.Equal(t, []string{"start", "batch", "end", "start", "batch", "end"}, kinds)
}

// The decoder restarts at MeasStart: the second acquisition's
// timestamps must not inherit the first one's overflow correction.
func TestPipelineDecoderResetPerAcquisition(t *testing.T) {
	var p = NewPipeline(DefaultResolution, nil)

	var wrapped = []uint32{0xFE000001, 0x00000002} // overflow then event
	go func() {
		for i := 0; i < 2; i++ {
			p.Raw.Put(MeasStartMarker{})
			p.Raw.Put(RawBatch{Words: wrapped})
			p.Raw.Put(MeasEndMarker{})
		}
		p.Raw.Shutdown()
	}()
	go p.Run()

	var events, acquisitions = CollectEvents(p.Events)
	assert.Equal(t, 2, acquisitions)
	require.Len(t, events, 2)
	assert.Equal(t, events[0], events[1], "each acquisition starts from a zero time base")
}

// Decode-and-drain on cancellation: whatever was queued before the
// producer gave up still comes out, then the event queue shuts down.
func TestPipelineDrainAfterShutdown(t *testing.T) {
	var p = NewPipeline(DefaultResolution, nil)

	p.Raw.Put(MeasStartMarker{})
	p.Raw.Put(RawBatch{Words: []uint32{0x80000001}})
	p.Raw.Put(MeasEndMarker{})
	p.Raw.Shutdown()

	require.NoError(t, p.Run())

	var events, acquisitions = CollectEvents(p.Events)
	assert.Equal(t, 1, acquisitions)
	assert.Equal(t, []Event{{Ch: 0, Time: 5}}, events)

	var _, err = p.Events.Get()
	assert.ErrorIs(t, err, ErrQueueShutdown)
}

// The sink sees every decoded batch and a flush per acquisition.
type recordingSink struct {
	batches [][]Event
	flushes int
	closed  bool
}

func (r *recordingSink) WriteBatch(events []Event) error {
	var copied = make([]Event, len(events))
	copy(copied, events)
	r.batches = append(r.batches, copied)
	return nil
}

func (r *recordingSink) Flush() error {
	r.flushes++
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestPipelineTeesIntoSink(t *testing.T) {
	var sink = &recordingSink{}
	var p = NewPipeline(DefaultResolution, sink)

	var words = AppendT2Records(nil, []Event{{Ch: 0, Time: 0}, {Ch: 2, Time: 500}}, DefaultResolution)
	p.Raw.Put(MeasStartMarker{})
	p.Raw.Put(RawBatch{Words: words})
	p.Raw.Put(MeasEndMarker{})
	p.Raw.Shutdown()

	require.NoError(t, p.Run())
	CollectEvents(p.Events)

	require.Len(t, sink.batches, 1)
	assert.Equal(t, []Event{{Ch: 0, Time: 0}, {Ch: 2, Time: 500}}, sink.batches[0])
	assert.GreaterOrEqual(t, sink.flushes, 1)
}
