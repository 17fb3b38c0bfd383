package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Reader for captured .ptu time-tag files.
 *
 * Description:	A .ptu file is an 8-byte magic "PQTTTR", an 8-byte
 *		version string, a sequence of tagged header entries
 *		terminated by the "Header_End" tag, and then the raw
 *		32-bit record payload.  Everything is little-endian.
 *
 *		Each header entry is a 32-byte zero-padded identifier,
 *		a 4-byte signed index, a 4-byte type code, and a
 *		type-dependent payload: fixed types carry 8 bytes,
 *		length-prefixed types an 8-byte length plus that many
 *		bytes.
 *
 *		The reader keeps every entry, not just the ones it
 *		needs; experiments stash calibration values in the
 *		header and analysis scripts want them back.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

const ptuMagic = "PQTTTR"

// Header entry type codes.  The values read naturally in hex when
// viewed big-endian, which is how the vendor documents them; on disk
// they are little-endian like everything else.
type TagType uint32

const (
	TagEmpty8      TagType = 0xFFFF0008
	TagBool8       TagType = 0x00000008
	TagInt8        TagType = 0x10000008
	TagBitSet64    TagType = 0x11000008
	TagColor8      TagType = 0x12000008
	TagFloat8      TagType = 0x20000008
	TagTDateTime   TagType = 0x21000008
	TagFloat8Array TagType = 0x2001FFFF
	TagAnsiString  TagType = 0x4001FFFF
	TagWideString  TagType = 0x4002FFFF
	TagBinaryBlob  TagType = 0xFFFFFFFF
)

// Identifiers the toolkit looks up after parsing.
const (
	tagHeaderEnd  = "Header_End"
	tagNumRecords = "TTResult_NumberOfRecords"
	tagGlobalRes  = "MeasDesc_GlobalResolution"
)

// HeaderTag is one decoded header entry.  Which value field is
// meaningful depends on Type.
type HeaderTag struct {
	Ident string
	Index int32
	Type  TagType

	Int   int64     // Bool8 (0/1), Int8, BitSet64, Color8, and byte lengths of Float8Array/BinaryBlob
	Float float64   // Float8
	Str   string    // AnsiString, WideString
	Time  time.Time // TDateTime
	Bytes []byte    // Float8Array, BinaryBlob payload
}

// PTUHeader is the parsed container header.
type PTUHeader struct {
	Version string
	Tags    []HeaderTag
}

// Lookup returns the first entry with the given identifier.
func (h *PTUHeader) Lookup(ident string) (HeaderTag, bool) {
	for _, t := range h.Tags {
		if t.Ident == ident {
			return t, true
		}
	}
	return HeaderTag{}, false
}

// NumRecords returns the declared record count.
func (h *PTUHeader) NumRecords() (int64, error) {
	var t, ok = h.Lookup(tagNumRecords)
	if !ok {
		return 0, fmt.Errorf("%w: header has no %s entry", ErrInvalidFormat, tagNumRecords)
	}
	return t.Int, nil
}

// GlobalResolution returns the measurement resolution in seconds, if
// the header carries one.
func (h *PTUHeader) GlobalResolution() (float64, bool) {
	var t, ok = h.Lookup(tagGlobalRes)
	if !ok {
		return 0, false
	}
	return t.Float, true
}

// PTUFile reads a captured file: header first, then the raw record
// stream.
type PTUFile struct {
	Header    PTUHeader
	r         *bufio.Reader
	remaining int64
}

/*-------------------------------------------------------------------
 *
 * Name:	OpenPTU
 *
 * Purpose:	Parse the container header and position the reader at
 *		the first raw record.
 *
 * Inputs:	r	- The file contents.
 *
 * Returns:	A PTUFile ready to stream records, or ErrInvalidFormat
 *		when the magic is missing, a tag type is unknown, or
 *		the header is truncated.
 *
 *--------------------------------------------------------------------*/

func OpenPTU(r io.Reader) (*PTUFile, error) {
	var br = bufio.NewReader(r)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: reading magic: %v", ErrInvalidFormat, err)
	}
	if trimPadding(magic[:]) != ptuMagic {
		return nil, fmt.Errorf("%w: magic %q is not %q, this is not a PTU file", ErrInvalidFormat, trimPadding(magic[:]), ptuMagic)
	}

	var version [8]byte
	if _, err := io.ReadFull(br, version[:]); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrInvalidFormat, err)
	}

	var f = &PTUFile{Header: PTUHeader{Version: trimPadding(version[:])}, r: br}
	for {
		var tag, err = readHeaderTag(br)
		if err != nil {
			return nil, err
		}
		f.Header.Tags = append(f.Header.Tags, tag)
		if tag.Ident == tagHeaderEnd {
			break
		}
	}

	var num, err = f.Header.NumRecords()
	if err != nil {
		return nil, err
	}
	f.remaining = num
	logger.Debug("parsed ptu header", "version", f.Header.Version, "tags", len(f.Header.Tags), "records", num)
	return f, nil
}

func readHeaderTag(r *bufio.Reader) (HeaderTag, error) {
	var fixed [40]byte // 32-byte ident, 4-byte index, 4-byte type
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return HeaderTag{}, fmt.Errorf("%w: unexpected EOF in header entry: %v", ErrInvalidFormat, err)
	}

	var tag = HeaderTag{
		Ident: trimPadding(fixed[:32]),
		Index: int32(binary.LittleEndian.Uint32(fixed[32:36])),
		Type:  TagType(binary.LittleEndian.Uint32(fixed[36:40])),
	}

	switch tag.Type {
	case TagEmpty8:
		if _, err := readLE64(r); err != nil {
			return HeaderTag{}, err
		}
	case TagBool8, TagInt8, TagBitSet64, TagColor8:
		var v, err = readLE64(r)
		if err != nil {
			return HeaderTag{}, err
		}
		tag.Int = int64(v)
	case TagFloat8:
		var v, err = readLE64(r)
		if err != nil {
			return HeaderTag{}, err
		}
		tag.Float = math.Float64frombits(v)
	case TagTDateTime:
		var v, err = readLE64(r)
		if err != nil {
			return HeaderTag{}, err
		}
		// Days since 1899-12-30, the Delphi epoch.
		var days = math.Float64frombits(v)
		tag.Time = time.Unix(int64((days-25569)*86400), 0).UTC()
	case TagFloat8Array, TagBinaryBlob:
		var n, err = readLE64(r)
		if err != nil {
			return HeaderTag{}, err
		}
		tag.Int = int64(n)
		tag.Bytes = make([]byte, n)
		if _, err := io.ReadFull(r, tag.Bytes); err != nil {
			return HeaderTag{}, fmt.Errorf("%w: unexpected EOF in %s payload: %v", ErrInvalidFormat, tag.Ident, err)
		}
	case TagAnsiString:
		var n, err = readLE64(r)
		if err != nil {
			return HeaderTag{}, err
		}
		var buf = make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return HeaderTag{}, fmt.Errorf("%w: unexpected EOF in %s payload: %v", ErrInvalidFormat, tag.Ident, err)
		}
		tag.Str = trimPadding(buf)
	case TagWideString:
		var n, err = readLE64(r)
		if err != nil {
			return HeaderTag{}, err
		}
		var buf = make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return HeaderTag{}, fmt.Errorf("%w: unexpected EOF in %s payload: %v", ErrInvalidFormat, tag.Ident, err)
		}
		var dec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		var s, decErr = dec.String(string(buf))
		if decErr != nil {
			return HeaderTag{}, fmt.Errorf("%w: decoding wide string %s: %v", ErrInvalidFormat, tag.Ident, decErr)
		}
		tag.Str = trimPadding([]byte(s))
	default:
		return HeaderTag{}, fmt.Errorf("%w: unknown tag type 0x%08X for %s", ErrInvalidFormat, uint32(tag.Type), tag.Ident)
	}
	return tag, nil
}

func readLE64(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: unexpected EOF in header entry: %v", ErrInvalidFormat, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func trimPadding(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// Remaining reports how many declared records have not been read yet.
func (f *PTUFile) Remaining() int64 {
	return f.remaining
}

/*-------------------------------------------------------------------
 *
 * Name:	ReadRecords
 *
 * Purpose:	Read the next run of raw records.
 *
 * Inputs:	words	- Destination buffer; its length bounds the
 *			  read.
 *
 * Returns:	How many records were stored.  io.EOF after the last
 *		declared record.  ErrInvalidFormat when the file ends
 *		before the declared count.
 *
 *--------------------------------------------------------------------*/

func (f *PTUFile) ReadRecords(words []uint32) (int, error) {
	if f.remaining == 0 {
		return 0, io.EOF
	}
	var want = len(words)
	if int64(want) > f.remaining {
		want = int(f.remaining)
	}
	var buf = make([]byte, want*4)
	var n, err = io.ReadFull(f.r, buf)
	var got = n / 4
	for i := 0; i < got; i++ {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	f.remaining -= int64(got)
	if err != nil {
		return got, fmt.Errorf("%w: %d records missing from record stream: %v", ErrInvalidFormat, f.remaining, err)
	}
	return got, nil
}

// DecodeAll decodes every remaining record with a fresh decoder and
// returns the canonical events in arrival order.
func (f *PTUFile) DecodeAll() ([]Event, error) {
	var dec = NewDecoder()
	var events []Event
	var words = make([]uint32, 65536)
	for {
		var n, err = f.ReadRecords(words)
		events = dec.DecodeBatch(events, words[:n])
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	Stream
 *
 * Purpose:	Publish the file's records onto a raw queue with the
 *		same Start / Batch* / End envelope a live device
 *		produces, so the rest of the pipeline cannot tell a
 *		replay from an acquisition.
 *
 * Inputs:	out		- Raw queue.
 *		batchSize	- Records per published batch.
 *
 * Returns:	First error from the file or the queue.  MeasEnd is
 *		published even on error so consumers see a closed
 *		envelope.
 *
 *--------------------------------------------------------------------*/

func (f *PTUFile) Stream(out *Queue[RawItem], batchSize int) error {
	if batchSize <= 0 {
		batchSize = 65536
	}
	if err := out.Put(MeasStartMarker{}); err != nil {
		return err
	}
	var streamErr error
	for {
		var words = make([]uint32, batchSize)
		var n, err = f.ReadRecords(words)
		if n > 0 {
			if putErr := out.Put(RawBatch{Words: words[:n]}); putErr != nil {
				streamErr = putErr
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
	}
	if err := out.Put(MeasEndMarker{}); err != nil && streamErr == nil {
		streamErr = err
	}
	return streamErr
}
