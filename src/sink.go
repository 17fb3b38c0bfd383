package tdc

/*------------------------------------------------------------------
 *
 * Purpose:	Columnar on-disk sink for the decoded event stream.
 *
 * Description:	Events are buffered into chunks and appended to a
 *		simple two-column little-endian file:
 *
 *			8-byte magic "TDCCOL01"
 *			repeated chunks:
 *				u32	row count n
 *				n * u8	channel column
 *				n * u64	timestamp column (ps)
 *
 *		A writer rotates to a new file every RotateRows rows;
 *		at 9 bytes a row the default keeps individual files
 *		around 250 MiB.  File names are
 *		{utc_timestamp}_{name}_{random}{ext} so that files
 *		from repeated runs sort chronologically and never
 *		collide.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/strftime"
)

const sinkMagic = "TDCCOL01"

// Default chunking: ten full chunks per file, about 250 MiB of rows.
const (
	DefaultChunkRows  = 2_900_000
	DefaultRotateRows = 29_000_000
)

// EventSink receives decoded event batches from the pipeline.
// WriteBatch may buffer; Flush forces buffered rows out; Close
// flushes and releases the sink.
type EventSink interface {
	WriteBatch(events []Event) error
	Flush() error
	Close() error
}

// ChunkedWriter is an EventSink writing rotated columnar files into
// one directory.
type ChunkedWriter struct {
	Dir  string
	Name string
	Ext  string // defaults to ".parquet"

	ChunkRows  int
	RotateRows int

	buf        []Event
	file       *os.File
	w          *bufio.Writer
	rowsInFile int
	paths      []string
}

// NewChunkedWriter returns a writer using the default chunking.
func NewChunkedWriter(dir string, name string) *ChunkedWriter {
	return &ChunkedWriter{
		Dir:        dir,
		Name:       name,
		Ext:        ".parquet",
		ChunkRows:  DefaultChunkRows,
		RotateRows: DefaultRotateRows,
	}
}

// Paths lists every file the writer has opened, oldest first.
func (c *ChunkedWriter) Paths() []string {
	return c.paths
}

func (c *ChunkedWriter) WriteBatch(events []Event) error {
	c.buf = append(c.buf, events...)
	for len(c.buf) >= c.ChunkRows {
		if err := c.writeChunk(c.buf[:c.ChunkRows]); err != nil {
			return err
		}
		c.buf = c.buf[c.ChunkRows:]
	}
	return nil
}

// Flush writes any partial chunk.  Called by the pipeline at the end
// of each acquisition and at shutdown.
func (c *ChunkedWriter) Flush() error {
	if len(c.buf) == 0 {
		if c.w != nil {
			return c.w.Flush()
		}
		return nil
	}
	var err = c.writeChunk(c.buf)
	c.buf = c.buf[:0]
	if err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *ChunkedWriter) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.closeFile()
}

func (c *ChunkedWriter) closeFile() error {
	if c.file == nil {
		return nil
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	var err = c.file.Close()
	c.file = nil
	c.w = nil
	c.rowsInFile = 0
	return err
}

func (c *ChunkedWriter) writeChunk(rows []Event) error {
	if c.file != nil && c.rowsInFile+len(rows) > c.RotateRows {
		logger.Info("rotating sink file", "rows", c.rowsInFile)
		if err := c.closeFile(); err != nil {
			return err
		}
	}
	if c.file == nil {
		if err := c.openFile(); err != nil {
			return err
		}
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(rows)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	for _, ev := range rows {
		if err := c.w.WriteByte(ev.Ch); err != nil {
			return err
		}
	}
	var ts [8]byte
	for _, ev := range rows {
		binary.LittleEndian.PutUint64(ts[:], ev.Time)
		if _, err := c.w.Write(ts[:]); err != nil {
			return err
		}
	}
	c.rowsInFile += len(rows)
	return nil
}

func (c *ChunkedWriter) openFile() error {
	var ext = c.Ext
	if ext == "" {
		ext = ".parquet"
	}
	var stamp, err = strftime.Format("%Y%m%dT%H%M%SZ", time.Now().UTC())
	if err != nil {
		return err
	}
	var random = uuid.NewString()[:8]
	var path = filepath.Join(c.Dir, fmt.Sprintf("%s_%s_%s%s", stamp, c.Name, random, ext))

	if mkErr := os.MkdirAll(c.Dir, 0o755); mkErr != nil {
		return mkErr
	}
	f, createErr := os.Create(path)
	if createErr != nil {
		return createErr
	}
	c.file = f
	c.w = bufio.NewWriterSize(f, 1<<20)
	c.rowsInFile = 0
	c.paths = append(c.paths, path)
	if _, magicErr := c.w.WriteString(sinkMagic); magicErr != nil {
		return magicErr
	}
	logger.Info("opened sink file", "path", path)
	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	ReadColumnarFile
 *
 * Purpose:	Read back a file the ChunkedWriter wrote.
 *
 * Returns:	All rows in written order, or ErrInvalidFormat for a
 *		bad magic or a truncated chunk.
 *
 *--------------------------------------------------------------------*/

func ReadColumnarFile(path string) ([]Event, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r = bufio.NewReader(f)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: reading magic: %v", ErrInvalidFormat, err)
	}
	if string(magic[:]) != sinkMagic {
		return nil, fmt.Errorf("%w: magic %q is not %q", ErrInvalidFormat, magic[:], sinkMagic)
	}

	var events []Event
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err == io.EOF {
			return events, nil
		} else if err != nil {
			return nil, fmt.Errorf("%w: truncated chunk header: %v", ErrInvalidFormat, err)
		}
		var n = int(binary.LittleEndian.Uint32(hdr[:]))
		var chans = make([]byte, n)
		if _, err := io.ReadFull(r, chans); err != nil {
			return nil, fmt.Errorf("%w: truncated channel column: %v", ErrInvalidFormat, err)
		}
		var times = make([]byte, n*8)
		if _, err := io.ReadFull(r, times); err != nil {
			return nil, fmt.Errorf("%w: truncated timestamp column: %v", ErrInvalidFormat, err)
		}
		for i := 0; i < n; i++ {
			events = append(events, Event{
				Ch:   chans[i],
				Time: binary.LittleEndian.Uint64(times[i*8:]),
			})
		}
	}
}
