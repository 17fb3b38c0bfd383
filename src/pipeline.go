package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Decode stage of the streaming pipeline.
 *
 * Description:	One goroutine owns the raw queue's consumer side and
 *		the event queue's producer side.  It takes raw batches,
 *		runs them through the record codec, and publishes the
 *		decoded events; measurement markers pass through
 *		untouched.  A fresh decoder (and so a fresh overflow
 *		correction) starts at every MeasStart.
 *
 *		Optionally the decoded stream is tee'd into an
 *		EventSink as it goes by.
 *
 *		Shutdown is the producer's job at both ends: the
 *		source shuts the raw queue when it is done, and the
 *		decode stage drains what is left, flushes the sink and
 *		shuts the event queue.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"time"
)

// DefaultQueueCapacity bounds the pipeline queues.  At the vendor's
// worst-case rates one FIFO read can carry about a million records,
// so a handful of batches in flight is already a lot of memory.
const DefaultQueueCapacity = 16

// Pipeline connects a raw record source to event consumers.
type Pipeline struct {
	Raw    *Queue[RawItem]
	Events *Queue[EventItem]

	resolution uint64
	sink       EventSink
}

// NewPipeline builds a pipeline decoding at the given resolution in
// picoseconds (DefaultResolution for the stock device).  sink may be
// nil.
func NewPipeline(resolution uint64, sink EventSink) *Pipeline {
	return &Pipeline{
		Raw:        NewQueue[RawItem](DefaultQueueCapacity),
		Events:     NewQueue[EventItem](DefaultQueueCapacity),
		resolution: resolution,
		sink:       sink,
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	Run
 *
 * Purpose:	Pump the raw queue into the event queue until the raw
 *		queue shuts down.
 *
 * Returns:	The first sink or queue error, or nil.  The event
 *		queue is always shut down before returning, and a
 *		partially filled sink chunk is always flushed.
 *
 * Description:	Within one acquisition the decode preserves arrival
 *		order, so consumers observe non-decreasing timestamps.
 *		Nothing here reorders: one batch in, one batch out.
 *
 *--------------------------------------------------------------------*/

func (p *Pipeline) Run() error {
	defer p.Events.Shutdown()

	var dec = NewDecoderVersion(2, p.resolution)
	var runErr error
	for {
		var item, err = p.Raw.Get()
		if err != nil {
			break // raw queue shut down; we have drained it
		}
		switch v := item.(type) {
		case MeasStartMarker:
			dec = NewDecoderVersion(2, p.resolution)
			if putErr := p.Events.Put(v); putErr != nil {
				runErr = putErr
			}
		case MeasEndMarker:
			if p.sink != nil {
				if flushErr := p.sink.Flush(); flushErr != nil && runErr == nil {
					runErr = flushErr
				}
			}
			if putErr := p.Events.Put(v); putErr != nil && runErr == nil {
				runErr = putErr
			}
		case RawBatch:
			var start = time.Now()
			var events = dec.DecodeBatch(make([]Event, 0, len(v.Words)), v.Words)
			logger.Debug("decoded raw batch", "records", len(v.Words), "events", len(events), "took", time.Since(start))
			if len(events) == 0 {
				continue
			}
			if p.sink != nil {
				if sinkErr := p.sink.WriteBatch(events); sinkErr != nil && runErr == nil {
					runErr = sinkErr
				}
			}
			if putErr := p.Events.Put(EventBatch{Events: events}); putErr != nil && runErr == nil {
				runErr = putErr
			}
		default:
			if runErr == nil {
				runErr = fmt.Errorf("%w: unexpected %T on raw queue", ErrInvalidState, item)
			}
		}
		if runErr != nil && errors.Is(runErr, ErrQueueShutdown) {
			// Consumer went away; stop decoding.
			break
		}
	}
	if p.sink != nil {
		if flushErr := p.sink.Flush(); flushErr != nil && runErr == nil {
			runErr = flushErr
		}
	}
	return runErr
}

/*-------------------------------------------------------------------
 *
 * Name:	CollectEvents
 *
 * Purpose:	Consume an event queue to completion, gathering every
 *		decoded event.  Convenience for analysis over finite
 *		streams; live consumers read the queue themselves.
 *
 * Returns:	All events in arrival order, and how many acquisitions
 *		(MeasStart/MeasEnd pairs) went by.
 *
 *--------------------------------------------------------------------*/

func CollectEvents(q *Queue[EventItem]) ([]Event, int) {
	var events []Event
	var acquisitions int
	for {
		var item, err = q.Get()
		if err != nil {
			return events, acquisitions
		}
		switch v := item.(type) {
		case EventBatch:
			events = append(events, v.Events...)
		case MeasEndMarker:
			acquisitions++
		}
	}
}
