// Package tdc processes time-tagged single-photon detection events
// from a multi-channel time-to-digital converter.
//
// The toolkit ingests 32-bit T2 records, either live from a device or
// from a captured .ptu file, decodes them into a canonical
// (channel, picosecond) event stream, and reduces that stream into
// cross-channel delay histograms, n-fold coincidence counts, and the
// second-order correlation g2.
package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Shared types for the decoded event stream and the
 *		acquisition envelope.
 *
 * Description: Raw records travel from a source (device poll loop or
 *		file reader) to the decode stage as batches of 32-bit
 *		words, bracketed by measurement markers.  Decoded
 *		events travel onward as batches of Event values under
 *		the same markers.
 *
 *---------------------------------------------------------------*/

import "time"

// Event is a single canonical detection.
//
// Ch is the channel tag in a single namespace: the sync channel is 0
// and regular inputs are 1..64 (raw channel index + 1).  The device
// has no more than 64 inputs, so 8 bits are enough.
//
// Time is the absolute arrival time in picoseconds.  64 unsigned bits
// are enough for experiments of up to a few months.  Within one
// acquisition, arrival order implies non-decreasing Time.
type Event struct {
	Ch   uint8
	Time uint64
}

// MeasStartMarker opens an acquisition on a stream.  It carries a
// snapshot of the device configuration and the requested duration.
type MeasStartMarker struct {
	Config   DeviceConfig
	Duration time.Duration
}

// MeasEndMarker closes an acquisition.  Exactly one follows each
// MeasStartMarker; batches are never interleaved with markers.
type MeasEndMarker struct{}

// RawBatch is a contiguous run of undecoded 32-bit records from one
// acquisition.
type RawBatch struct {
	Words []uint32
}

// EventBatch is a contiguous run of decoded events from one
// acquisition.  Batch boundaries carry no meaning downstream beyond
// being a flush point for sinks.
type EventBatch struct {
	Events []Event
}

// RawItem is what travels on the raw queue: RawBatch, MeasStartMarker
// or MeasEndMarker.
type RawItem any

// EventItem is what travels on the event queue: EventBatch,
// MeasStartMarker or MeasEndMarker.
type EventItem any
