package valuelog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

const frameHeaderLen = 12

// Ext is the archive file extension, shared with the retention sweep.
const Ext = ".dlog"

// Writer appends telemetry records to a framed binary archive. Each run gets
// its own timestamped file; old files are reaped by the housekeeping sweep,
// so rotation is simply "new writer, new file".
type Writer struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	sizeBytes int64
	closed    bool
}

// NewWriter creates a fresh archive file under dir, named after the wall
// clock at open (values-20060102-150405.dlog, with a numeric suffix on
// collision).
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(dir, "values-"+stamp+Ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	for n := 1; err != nil && errors.Is(err, os.ErrExist); n++ {
		path = filepath.Join(dir, fmt.Sprintf("values-%s-%d%s", stamp, n, Ext))
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return nil, err
	}
	return &Writer{
		path:   path,
		file:   f,
		writer: bufio.NewWriterSize(f, 1<<20),
	}, nil
}

// WriteBatch appends every record in recs. A marshal failure skips that
// record and surfaces after the rest of the batch is written.
func (w *Writer) WriteBatch(recs []domain.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("valuelog: writer closed")
	}

	var firstErr error
	for i := range recs {
		if err := w.appendLocked(&recs[i]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (w *Writer) appendLocked(r *domain.Record) error {
	b, err := cbor.Marshal(r)
	if err != nil {
		return fmt.Errorf("valuelog encode %q: %w", r.Path, err)
	}

	// frame format: [8 bytes unix-nanos][4 bytes len][len bytes cbor]
	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(r.At))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(b); err != nil {
		return err
	}
	w.sizeBytes += int64(len(hdr) + len(b))
	return nil
}

func (w *Writer) Name() string { return "valuelog" }

// Path returns the archive file this writer appends to.
func (w *Writer) Path() string { return w.path }

// SizeBytes returns bytes appended so far, including frame headers.
func (w *Writer) SizeBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sizeBytes
}

// Flush pushes buffered frames to the OS and syncs the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.writer.Flush()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	return errors.Join(flushErr, syncErr, closeErr)
}

// Read replays every complete record in an archive file. A truncated final
// frame (crash mid-write) ends the scan cleanly; a complete frame that fails
// to decode is reported as corruption.
func Read(path string, fn func(r domain.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("valuelog scan header: %w", err)
		}
		length := binary.BigEndian.Uint32(hdr[8:12])

		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("valuelog scan body: %w", err)
		}

		var rec domain.Record
		if err := cbor.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("valuelog corrupt frame: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

var _ ports.Recorder = (*Writer)(nil)
