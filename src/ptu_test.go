package tdc

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ptuBuilder assembles a synthetic capture file.
type ptuBuilder struct {
	buf bytes.Buffer
}

func newPTUBuilder() *ptuBuilder {
	var b = &ptuBuilder{}
	b.buf.WriteString("PQTTTR\x00\x00")
	b.buf.WriteString("1.0.00\x00\x00")
	return b
}

func (b *ptuBuilder) tagHeader(ident string, index int32, typ TagType) {
	var name [32]byte
	copy(name[:], ident)
	b.buf.Write(name[:])
	binary.Write(&b.buf, binary.LittleEndian, index)
	binary.Write(&b.buf, binary.LittleEndian, uint32(typ))
}

func (b *ptuBuilder) addInt(ident string, typ TagType, v int64) *ptuBuilder {
	b.tagHeader(ident, -1, typ)
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

func (b *ptuBuilder) addFloat(ident string, v float64) *ptuBuilder {
	b.tagHeader(ident, -1, TagFloat8)
	binary.Write(&b.buf, binary.LittleEndian, math.Float64bits(v))
	return b
}

func (b *ptuBuilder) addDateTime(ident string, days float64) *ptuBuilder {
	b.tagHeader(ident, -1, TagTDateTime)
	binary.Write(&b.buf, binary.LittleEndian, math.Float64bits(days))
	return b
}

func (b *ptuBuilder) addString(ident string, typ TagType, payload []byte) *ptuBuilder {
	b.tagHeader(ident, -1, typ)
	binary.Write(&b.buf, binary.LittleEndian, int64(len(payload)))
	b.buf.Write(payload)
	return b
}

func (b *ptuBuilder) addEmpty(ident string) *ptuBuilder {
	b.tagHeader(ident, -1, TagEmpty8)
	binary.Write(&b.buf, binary.LittleEndian, int64(0))
	return b
}

func (b *ptuBuilder) end() *ptuBuilder {
	return b.addEmpty("Header_End")
}

func (b *ptuBuilder) records(words []uint32) *ptuBuilder {
	for _, w := range words {
		binary.Write(&b.buf, binary.LittleEndian, w)
	}
	return b
}

func (b *ptuBuilder) reader() io.Reader {
	return bytes.NewReader(b.buf.Bytes())
}

func utf16le(s string) []byte {
	var out []byte
	for _, r := range s {
		out = append(out, byte(r), 0)
	}
	return out
}

func TestOpenPTUHeader(t *testing.T) {
	var words = []uint32{0x80000005, 0x00000007}
	var b = newPTUBuilder().
		addString("File_Comment", TagAnsiString, []byte("test run\x00\x00")).
		addString("File_CommentWide", TagWideString, utf16le("wide comment")).
		addInt("TTResult_NumberOfRecords", TagInt8, int64(len(words))).
		addFloat("MeasDesc_GlobalResolution", 5e-12).
		addInt("HW_Enabled", TagBool8, 1).
		addInt("HW_Markers", TagBitSet64, 0x0F).
		addInt("Disp_Color", TagColor8, 0x00FF00).
		addDateTime("File_CreatingTime", 45000.5).
		addString("Calib_Curve", TagFloat8Array, make([]byte, 24)).
		addString("Raw_Blob", TagBinaryBlob, []byte{1, 2, 3, 4}).
		end().
		records(words)

	var f, err = OpenPTU(b.reader())
	require.NoError(t, err)

	assert.Equal(t, "1.0.00", f.Header.Version)

	num, numErr := f.Header.NumRecords()
	require.NoError(t, numErr)
	assert.Equal(t, int64(2), num)

	res, ok := f.Header.GlobalResolution()
	require.True(t, ok)
	assert.InDelta(t, 5e-12, res, 1e-18)

	comment, ok := f.Header.Lookup("File_Comment")
	require.True(t, ok)
	assert.Equal(t, "test run", comment.Str)

	wide, ok := f.Header.Lookup("File_CommentWide")
	require.True(t, ok)
	assert.Equal(t, "wide comment", wide.Str)

	markers, ok := f.Header.Lookup("HW_Markers")
	require.True(t, ok)
	assert.Equal(t, int64(0x0F), markers.Int)

	created, ok := f.Header.Lookup("File_CreatingTime")
	require.True(t, ok)
	assert.Equal(t, 2023, created.Time.Year())

	blob, ok := f.Header.Lookup("Raw_Blob")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, blob.Bytes)

	var events, decErr = f.DecodeAll()
	require.NoError(t, decErr)
	assert.Equal(t, []Event{{Ch: 0, Time: 25}, {Ch: 1, Time: 35}}, events)
}

func TestOpenPTUBadMagic(t *testing.T) {
	var _, err = OpenPTU(bytes.NewReader([]byte("NOTAPTU\x00morebytesfollow")))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestOpenPTUUnknownTagType(t *testing.T) {
	var b = newPTUBuilder()
	b.tagHeader("Strange_Entry", -1, TagType(0xDEADBEEF))
	binary.Write(&b.buf, binary.LittleEndian, int64(0))

	var _, err = OpenPTU(b.reader())
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Contains(t, err.Error(), "unknown tag type")
}

func TestOpenPTUTruncatedHeader(t *testing.T) {
	var b = newPTUBuilder().addInt("TTResult_NumberOfRecords", TagInt8, 0)
	var full = b.buf.Bytes()

	var _, err = OpenPTU(bytes.NewReader(full[:len(full)-3]))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestOpenPTUMissingRecordCount(t *testing.T) {
	var b = newPTUBuilder().end()
	var _, err = OpenPTU(b.reader())
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Contains(t, err.Error(), "TTResult_NumberOfRecords")
}

// Declaring more records than the file holds must fail the stream,
// not silently end it.
func TestReadRecordsShortFile(t *testing.T) {
	var b = newPTUBuilder().
		addInt("TTResult_NumberOfRecords", TagInt8, 5).
		end().
		records([]uint32{0x00000001, 0x00000002})

	var f, err = OpenPTU(b.reader())
	require.NoError(t, err)

	var words = make([]uint32, 16)
	var n, readErr = f.ReadRecords(words)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, readErr, ErrInvalidFormat)
}

func TestReadRecordsHonorsDeclaredCount(t *testing.T) {
	// Two declared records plus trailing garbage that must not be
	// read as records.
	var b = newPTUBuilder().
		addInt("TTResult_NumberOfRecords", TagInt8, 2).
		end().
		records([]uint32{0x00000001, 0x00000002, 0xFFFFFFFF})

	var f, err = OpenPTU(b.reader())
	require.NoError(t, err)

	var words = make([]uint32, 16)
	n, readErr := f.ReadRecords(words)
	require.NoError(t, readErr)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint32{1, 2}, words[:2])

	_, eofErr := f.ReadRecords(words)
	assert.Equal(t, io.EOF, eofErr)
}

func TestPTUStreamEnvelope(t *testing.T) {
	var words = AppendT2Records(nil, []Event{
		{Ch: 0, Time: 0}, {Ch: 1, Time: 300}, {Ch: 0, Time: 12500}, {Ch: 2, Time: 13000},
	}, DefaultResolution)
	var b = newPTUBuilder().
		addInt("TTResult_NumberOfRecords", TagInt8, int64(len(words))).
		end().
		records(words)

	var f, err = OpenPTU(b.reader())
	require.NoError(t, err)

	var q = NewQueue[RawItem](8)
	require.NoError(t, f.Stream(q, 2))
	q.Shutdown()

	var kinds []string
	var total int
	for {
		var item, getErr = q.Get()
		if getErr != nil {
			break
		}
		switch v := item.(type) {
		case MeasStartMarker:
			kinds = append(kinds, "start")
		case RawBatch:
			kinds = append(kinds, "batch")
			total += len(v.Words)
		case MeasEndMarker:
			kinds = append(kinds, "end")
		}
	}
	assert.Equal(t, []string{"start", "batch", "batch", "end"}, kinds)
	assert.Equal(t, len(words), total)
}
