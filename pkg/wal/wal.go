// Package wal implements the append-only write-ahead log: the durable
// redo record of every put/delete applied to the active memtable. It
// is built around a bufio.Writer over an O_APPEND *os.File, with
// mutex-guarded Append/Replay/Close, but Append is synchronous rather
// than handed off through an async channel, because the write path
// must know the WAL append succeeded before it is allowed to touch
// the memtable (see Database.Put) — fire-and-forget through a channel
// can't give that guarantee. The record layout is
// [type][timestamp][key_len][key][has_value][value?], keyed by
// wall-clock timestamp rather than a sequence number, since
// last-writer-wins resolution needs the timestamp itself at replay
// time.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"lsmdb/pkg/dberrors"
)

// OpType distinguishes a put record from a delete (tombstone) record.
type OpType uint8

const (
	OpPut OpType = 0
	OpDel OpType = 1
)

// Entry is one record appended to, or replayed from, the log.
type Entry struct {
	Op        OpType
	Timestamp int64
	Key       []byte
	Value     []byte // nil for OpDel
}

const fileName = "wal.log"

// WAL is the append-only redo log for one database directory.
type WAL struct {
	mu          sync.Mutex
	file        *os.File
	writer      *bufio.Writer
	path        string
	syncOnWrite bool
}

// Open creates or reopens wal.log under dir. syncOnWrite selects
// whether Append issues an fsync after every record (durable across an
// OS crash, not just a process crash) or relies on buffered-write
// flushing alone.
func Open(dir string, syncOnWrite bool) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty WAL directory", dberrors.ErrInvalidArgument)
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	path := filepath.Join(dir, fileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &WAL{
		file:        file,
		writer:      bufio.NewWriter(file),
		path:        path,
		syncOnWrite: syncOnWrite,
	}, nil
}

// Append serializes entry, flushes the user-space buffer, and — when
// syncOnWrite is set — fsyncs before returning. A non-nil error means
// the record is not durable and the caller must not apply it to the
// memtable.
func (w *WAL) Append(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return dberrors.ErrClosed
	}

	if err := writeEntry(w.writer, entry); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if w.syncOnWrite {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}
	return nil
}

// Replay reads records sequentially from the start of the log and
// invokes callback for each. A truncated or partial trailing record is
// treated as end-of-log and silently stops replay rather than
// propagating an error, since a crash can interrupt an append
// mid-write.
func (w *WAL) Replay(callback func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return dberrors.ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}

	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL read handle", "path", w.path, "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)
	for {
		entry, err := readEntry(reader)
		if err != nil {
			// A clean or partial/torn tail is end-of-log, not an error.
			return nil
		}
		if err := callback(entry); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}
}

// Truncate resets the log to zero length. Safe to call only once every
// record currently in the file has also been captured by an immutable
// memtable awaiting flush.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return dberrors.ErrClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek WAL after truncate: %w", err)
	}
	w.writer = bufio.NewWriter(w.file)
	return nil
}

// Close flushes and releases the underlying file handle. Idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}
	return nil
}

func writeEntry(w *bufio.Writer, e Entry) error {
	if err := w.WriteByte(byte(e.Op)); err != nil {
		return err
	}
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(e.Timestamp))
	if _, err := w.Write(tsBuf[:]); err != nil {
		return err
	}

	if len(e.Key) > math.MaxUint32 {
		return fmt.Errorf("%w: key length %d", dberrors.ErrKeyTooLarge, len(e.Key))
	}
	var keyLenBuf [4]byte
	binary.LittleEndian.PutUint32(keyLenBuf[:], uint32(len(e.Key)))
	if _, err := w.Write(keyLenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Key); err != nil {
		return err
	}

	hasValue := byte(0)
	if e.Value != nil {
		hasValue = 1
	}
	if err := w.WriteByte(hasValue); err != nil {
		return err
	}
	if hasValue == 1 {
		var valLenBuf [4]byte
		binary.LittleEndian.PutUint32(valLenBuf[:], uint32(len(e.Value)))
		if _, err := w.Write(valLenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(e.Value); err != nil {
			return err
		}
	}
	return nil
}

func readEntry(r *bufio.Reader) (Entry, error) {
	var e Entry

	opByte, err := r.ReadByte()
	if err != nil {
		return e, io.EOF
	}
	e.Op = OpType(opByte)

	var tsBuf [8]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return e, io.ErrUnexpectedEOF
	}
	e.Timestamp = int64(binary.LittleEndian.Uint64(tsBuf[:]))

	var keyLenBuf [4]byte
	if _, err := io.ReadFull(r, keyLenBuf[:]); err != nil {
		return e, io.ErrUnexpectedEOF
	}
	keyLen := binary.LittleEndian.Uint32(keyLenBuf[:])
	e.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, e.Key); err != nil {
		return e, io.ErrUnexpectedEOF
	}

	hasValue, err := r.ReadByte()
	if err != nil {
		return e, io.ErrUnexpectedEOF
	}
	if hasValue == 1 {
		var valLenBuf [4]byte
		if _, err := io.ReadFull(r, valLenBuf[:]); err != nil {
			return e, io.ErrUnexpectedEOF
		}
		valLen := binary.LittleEndian.Uint32(valLenBuf[:])
		e.Value = make([]byte, valLen)
		if _, err := io.ReadFull(r, e.Value); err != nil {
			return e, io.ErrUnexpectedEOF
		}
	}

	return e, nil
}
