package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	T2 record codec.
 *
 * Description:	Each raw record is an unsigned 32-bit integer with
 *		three packed fields, MSB to LSB:
 *
 *			special : 1 bit
 *			channel : 6 bits
 *			timetag : 25 bits
 *
 *		The time tag counts in units of the device resolution
 *		(5 ps by default) and wraps every 2^25 units.  The
 *		device inserts an overflow record at each wrap; the
 *		decoder accumulates those into a 64-bit correction so
 *		that emitted timestamps are absolute.
 *
 *		This is the hot path.  The vendor manual estimates up
 *		to 80,000,000 records per second over USB 3.0, so
 *		Decode allocates nothing and does no I/O.
 *
 *---------------------------------------------------------------*/

// Time-tag wraparound, in time-tag units.
const (
	T2WraparoundV1 = 33552000
	T2WraparoundV2 = 33554432
)

// DefaultResolution is the device time resolution in picoseconds.
const DefaultResolution = 5

const (
	timetagBits = 25
	timetagMask = 1<<timetagBits - 1 // 0x1FFFFFF
	channelMask = 0x3F

	overflowChannel = 0x3F
)

// SplitRawT2Record unpacks the three fields of a raw record.
func SplitRawT2Record(raw uint32) (special uint32, channel uint32, timetag uint32) {
	special = (raw >> 31) & 0x01       // highest bit
	channel = (raw >> 25) & channelMask // next six bits
	timetag = raw & timetagMask         // the rest
	return
}

// Decoder turns raw T2 records into canonical events.  It owns the
// overflow correction, so one Decoder serves exactly one acquisition.
type Decoder struct {
	oflcorrection uint64 // in time-tag units
	wraparound    uint64
	resolution    uint64 // picoseconds per time-tag unit
}

// NewDecoder returns a decoder for the V2 record protocol at the
// default 5 ps resolution.
func NewDecoder() *Decoder {
	return &Decoder{wraparound: T2WraparoundV2, resolution: DefaultResolution}
}

// NewDecoderVersion returns a decoder for the given record protocol
// version (1 or 2) and resolution in picoseconds.
func NewDecoderVersion(version int, resolution uint64) *Decoder {
	var wrap uint64 = T2WraparoundV2
	if version == 1 {
		wrap = T2WraparoundV1
	}
	return &Decoder{wraparound: wrap, resolution: resolution}
}

/*-------------------------------------------------------------------
 *
 * Name:	Decode
 *
 * Purpose:	Decode one raw record.
 *
 * Inputs:	raw	- One 32-bit record.
 *
 * Returns:	The decoded event and true, or a zero Event and false
 *		when the record produced no event (overflow records and
 *		discarded special records).
 *
 * Description:	Four cases:
 *
 *		special=0:  input channel event.  Raw channels count
 *			from 0; canonical channels shift them up by one
 *			so that 0 can mean the sync channel.
 *
 *		special=1, channel=0x3F:  overflow.  The tag holds the
 *			wrap multiplicity; a tag of 0 is the legacy
 *			single-wrap encoding.
 *
 *		special=1, channel=0:  sync channel event.
 *
 *		special=1, channel 1..15:  external marker.  Discarded.
 *		Anything else with the special bit set is discarded
 *		too; the decoder is infallible.
 *
 *--------------------------------------------------------------------*/

func (d *Decoder) Decode(raw uint32) (Event, bool) {
	var special, channel, timetag = SplitRawT2Record(raw)
	if special == 1 {
		if channel == overflowChannel {
			if timetag == 0 { // old style overflow, shouldn't happen
				d.oflcorrection += d.wraparound
			} else {
				d.oflcorrection += d.wraparound * uint64(timetag)
			}
			return Event{}, false
		}
		if channel == 0 {
			var truetime = d.oflcorrection + uint64(timetag)
			return Event{Ch: 0, Time: truetime * d.resolution}, true
		}
		// External marker records (channel 1..15) are discarded.
		return Event{}, false
	}
	var truetime = d.oflcorrection + uint64(timetag)
	return Event{Ch: uint8(channel) + 1, Time: truetime * d.resolution}, true
}

// DecodeBatch appends the events decoded from words to dst and
// returns it.
func (d *Decoder) DecodeBatch(dst []Event, words []uint32) []Event {
	for _, w := range words {
		if ev, ok := d.Decode(w); ok {
			dst = append(dst, ev)
		}
	}
	return dst
}

/*-------------------------------------------------------------------
 *
 * Name:	AppendT2Records
 *
 * Purpose:	Encode canonical events back into raw T2 records.
 *
 * Inputs:	words	- Destination, appended to.
 *		events	- Events in non-decreasing time order.  Each
 *			  Time must be a multiple of the resolution.
 *		resolution - Picoseconds per time-tag unit.
 *
 * Returns:	The extended word slice.
 *
 * Description:	Inserts V2 overflow records in front of any event
 *		whose time-tag-unit value has passed one or more wraps
 *		since the running correction, encoding the wrap count
 *		as the overflow record's tag.  Decoding the result
 *		with a fresh Decoder reproduces the input events.
 *
 *		The stub device and the round-trip tests use this; the
 *		live path never encodes.
 *
 *--------------------------------------------------------------------*/

func AppendT2Records(words []uint32, events []Event, resolution uint64) []uint32 {
	var enc = NewT2Encoder(resolution)
	return enc.Append(words, events)
}

// T2Encoder encodes successive event batches into raw records,
// carrying the overflow correction between batches the way the
// device's own counter does.
type T2Encoder struct {
	oflcorrection uint64
	resolution    uint64
}

func NewT2Encoder(resolution uint64) *T2Encoder {
	return &T2Encoder{resolution: resolution}
}

// Append encodes one batch of events, appending to words.
func (e *T2Encoder) Append(words []uint32, events []Event) []uint32 {
	for _, ev := range events {
		var units = ev.Time / e.resolution
		if units >= e.oflcorrection+T2WraparoundV2 {
			var wraps = (units - e.oflcorrection) / T2WraparoundV2
			// One overflow record can carry up to 2^25-1
			// wraps, about 94 minutes at 5 ps; a longer gap
			// is split across several records.
			for wraps > 0 {
				var k = wraps
				if k > timetagMask {
					k = timetagMask
				}
				words = append(words, 1<<31|uint32(overflowChannel)<<25|uint32(k))
				e.oflcorrection += k * T2WraparoundV2
				wraps -= k
			}
		}
		var tag = uint32(units - e.oflcorrection)
		if ev.Ch == 0 {
			words = append(words, 1<<31|tag)
		} else {
			words = append(words, uint32(ev.Ch-1)<<25|tag)
		}
	}
	return words
}
