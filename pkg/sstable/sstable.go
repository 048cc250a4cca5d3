// Package sstable implements the immutable, key-sorted on-disk run
// produced by a memtable flush or a compaction merge: a trailer
// holding the index and bloom filter, loaded into memory on open, a
// per-table sync.RWMutex guarding the shared *os.File, and an iterator
// style Scan for range reads. The trailer offset is recorded as a
// prefix (magic, version, offset) so the file is self-describing from
// byte zero rather than requiring a trailing index-size field, and the
// bloom filter is actually serialized into — and reloaded from — the
// trailer rather than rebuilt or skipped on open.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"lsmdb/pkg/bloom"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/memtable"
)

const (
	magic   = "STDB"
	version = uint32(1)

	prefixSize = 4 + 4 + 8 // magic + version + trailer_offset
)

// indexEntry locates one key's data record within the file.
type indexEntry struct {
	key    []byte
	offset uint64
	size   uint32
}

// Table is one open, immutable SSTable. It is reference-counted: the
// compaction manager holds the table's owning reference from creation
// until it is superseded, and every reader that is mid-scan holds an
// additional reference acquired through Acquire. The backing file is
// only actually removed once the reference count reaches zero, which
// is what lets a reader keep reading a file the compaction manager has
// already unlinked from the live list.
type Table struct {
	path string

	mu   sync.RWMutex
	file *os.File

	index  []indexEntry
	filter *bloom.Filter
	minKey []byte
	maxKey []byte

	refCount      atomic.Int32
	pendingDelete atomic.Bool
}

// Path returns the backing file path, used in log and error messages.
func (t *Table) Path() string { return t.path }

// MinKey and MaxKey report the table's inclusive key range.
func (t *Table) MinKey() []byte { return t.minKey }
func (t *Table) MaxKey() []byte { return t.maxKey }

// Acquire increments the reference count and must be paired with a
// Release. It is safe to call concurrently with Retire.
func (t *Table) Acquire() {
	t.refCount.Add(1)
}

// Release decrements the reference count; when it reaches zero and
// the table has been marked for deletion, the backing file is closed
// and unlinked.
func (t *Table) Release() {
	if t.refCount.Add(-1) == 0 && t.pendingDelete.Load() {
		t.closeAndDelete()
	}
}

// Retire marks the table as superseded by compaction and releases the
// reference the live list itself has held since creation. Once every
// other outstanding Acquire (e.g. from a reader's in-flight Snapshot)
// has been matched by a Release, the file is removed from disk — but
// not before, which is what lets a reader keep scanning a table the
// compaction manager has already dropped from its live list.
func (t *Table) Retire() {
	t.pendingDelete.Store(true)
	t.Release()
}

func (t *Table) closeAndDelete() {
	t.mu.Lock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.mu.Unlock()
	os.Remove(t.path)
}

// Close releases the file handle without deleting anything. A
// subsequent Get/Scan reopens the file on demand.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

func (t *Table) ensureOpen() (*os.File, error) {
	t.mu.RLock()
	if t.file != nil {
		f := t.file
		t.mu.RUnlock()
		return f, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		return t.file, nil
	}
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	t.file = f
	return f, nil
}

// Open loads an existing SSTable file: reads its prefix and trailer
// (index, bloom filter, key range) into memory, but does not read any
// data record until a point read or scan needs it.
func Open(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sstable %s: %w", path, err)
	}

	t := &Table{path: path, file: file}
	t.refCount.Store(1)

	if err := t.loadTrailer(); err != nil {
		file.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) loadTrailer() error {
	prefix := make([]byte, prefixSize)
	if _, err := io.ReadFull(t.file, prefix); err != nil {
		return fmt.Errorf("%w: sstable prefix truncated: %v", dberrors.ErrCorruptRecord, err)
	}
	if string(prefix[0:4]) != magic {
		return fmt.Errorf("%w: bad sstable magic in %s", dberrors.ErrCorruptRecord, t.path)
	}
	ver := binary.LittleEndian.Uint32(prefix[4:8])
	if ver != version {
		return fmt.Errorf("%w: unsupported sstable version %d", dberrors.ErrCorruptRecord, ver)
	}
	trailerOffset := binary.LittleEndian.Uint64(prefix[8:16])

	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat sstable %s: %w", t.path, err)
	}
	if trailerOffset > uint64(info.Size()) {
		return fmt.Errorf("%w: trailer offset out of range in %s", dberrors.ErrCorruptRecord, t.path)
	}

	if _, err := t.file.Seek(int64(trailerOffset), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to trailer in %s: %w", t.path, err)
	}
	trailer, err := io.ReadAll(t.file)
	if err != nil {
		return fmt.Errorf("failed to read trailer of %s: %w", t.path, err)
	}

	return t.parseTrailer(trailer)
}

func (t *Table) parseTrailer(b []byte) error {
	r := bytes.NewReader(b)

	var indexCount uint32
	if err := binary.Read(r, binary.LittleEndian, &indexCount); err != nil {
		return fmt.Errorf("%w: sstable index count truncated", dberrors.ErrCorruptRecord)
	}

	index := make([]indexEntry, 0, indexCount)
	for i := uint32(0); i < indexCount; i++ {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return fmt.Errorf("%w: sstable index entry truncated", dberrors.ErrCorruptRecord)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return fmt.Errorf("%w: sstable index key truncated", dberrors.ErrCorruptRecord)
		}
		var offset uint64
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return fmt.Errorf("%w: sstable index offset truncated", dberrors.ErrCorruptRecord)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return fmt.Errorf("%w: sstable index size truncated", dberrors.ErrCorruptRecord)
		}
		index = append(index, indexEntry{key: key, offset: offset, size: size})
	}
	t.index = index

	rest, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: sstable trailer tail unreadable", dberrors.ErrCorruptRecord)
	}
	filter, n, err := bloom.Deserialize(rest)
	if err != nil {
		return err
	}
	t.filter = filter
	rest = rest[n:]

	minKey, rest, err := readLenPrefixed(rest)
	if err != nil {
		return err
	}
	maxKey, _, err := readLenPrefixed(rest)
	if err != nil {
		return err
	}
	t.minKey = minKey
	t.maxKey = maxKey
	return nil
}

func readLenPrefixed(b []byte) (value, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: sstable key range truncated", dberrors.ErrCorruptRecord)
	}
	n := binary.LittleEndian.Uint32(b[0:4])
	if uint32(len(b)-4) < n {
		return nil, nil, fmt.Errorf("%w: sstable key range truncated", dberrors.ErrCorruptRecord)
	}
	return b[4 : 4+n], b[4+n:], nil
}

// Get performs a point read. ok is true if the key was found in the
// index (whether or not the stored record is a tombstone); callers
// must inspect Record.Deleted.
func (t *Table) Get(key []byte) (rec memtable.Record, ok bool, err error) {
	if len(t.index) == 0 {
		return memtable.Record{}, false, nil
	}
	if bytes.Compare(key, t.minKey) < 0 || bytes.Compare(key, t.maxKey) > 0 {
		return memtable.Record{}, false, nil
	}
	if t.filter != nil && !t.filter.MightContain(key) {
		return memtable.Record{}, false, nil
	}

	i := sort.Search(len(t.index), func(i int) bool {
		return bytes.Compare(t.index[i].key, key) >= 0
	})
	if i >= len(t.index) || !bytes.Equal(t.index[i].key, key) {
		return memtable.Record{}, false, nil
	}

	rec, err = t.readRecordAt(t.index[i].offset, t.index[i].size)
	if err != nil {
		return memtable.Record{}, false, err
	}
	return rec, true, nil
}

func (t *Table) readRecordAt(offset uint64, size uint32) (memtable.Record, error) {
	file, err := t.ensureOpen()
	if err != nil {
		return memtable.Record{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	buf := make([]byte, size)
	if _, err := file.ReadAt(buf, int64(offset)); err != nil {
		return memtable.Record{}, fmt.Errorf("failed to read sstable record in %s: %w", t.path, err)
	}
	rec, _, err := decodeRecord(buf)
	return rec, err
}

// Scan invokes visit for every index entry whose key falls within
// [start, end] (either bound may be nil for unbounded), in ascending
// key order, decoding and yielding the record including tombstones.
// Returning false from visit stops the scan early.
func (t *Table) Scan(start, end []byte, visit func(memtable.Record) bool) error {
	lo := 0
	if start != nil {
		lo = sort.Search(len(t.index), func(i int) bool {
			return bytes.Compare(t.index[i].key, start) >= 0
		})
	}
	for i := lo; i < len(t.index); i++ {
		entry := t.index[i]
		if end != nil && bytes.Compare(entry.key, end) > 0 {
			break
		}
		rec, err := t.readRecordAt(entry.offset, entry.size)
		if err != nil {
			return err
		}
		if !visit(rec) {
			break
		}
	}
	return nil
}

func decodeRecord(b []byte) (memtable.Record, int, error) {
	const headerSize = 8 + 1 + 4
	if len(b) < headerSize {
		return memtable.Record{}, 0, fmt.Errorf("%w: sstable record header truncated", dberrors.ErrCorruptRecord)
	}
	ts := int64(binary.LittleEndian.Uint64(b[0:8]))
	deleted := b[8] != 0
	keyLen := binary.LittleEndian.Uint32(b[9:13])
	pos := 13
	if len(b) < pos+int(keyLen) {
		return memtable.Record{}, 0, fmt.Errorf("%w: sstable record key truncated", dberrors.ErrCorruptRecord)
	}
	key := make([]byte, keyLen)
	copy(key, b[pos:pos+int(keyLen)])
	pos += int(keyLen)

	if len(b) < pos+1 {
		return memtable.Record{}, 0, fmt.Errorf("%w: sstable record has_value truncated", dberrors.ErrCorruptRecord)
	}
	hasValue := b[pos] != 0
	pos++

	var value []byte
	if hasValue {
		if len(b) < pos+4 {
			return memtable.Record{}, 0, fmt.Errorf("%w: sstable record value length truncated", dberrors.ErrCorruptRecord)
		}
		valLen := binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
		if len(b) < pos+int(valLen) {
			return memtable.Record{}, 0, fmt.Errorf("%w: sstable record value truncated", dberrors.ErrCorruptRecord)
		}
		value = make([]byte, valLen)
		copy(value, b[pos:pos+int(valLen)])
		pos += int(valLen)
	}

	return memtable.Record{Key: key, Value: value, Timestamp: ts, Deleted: deleted}, pos, nil
}

func encodeRecord(w *bufio.Writer, rec memtable.Record) (int, error) {
	n := 0
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(rec.Timestamp))
	if _, err := w.Write(tsBuf[:]); err != nil {
		return n, err
	}
	n += 8

	deleted := byte(0)
	if rec.Deleted {
		deleted = 1
	}
	if err := w.WriteByte(deleted); err != nil {
		return n, err
	}
	n++

	var keyLenBuf [4]byte
	binary.LittleEndian.PutUint32(keyLenBuf[:], uint32(len(rec.Key)))
	if _, err := w.Write(keyLenBuf[:]); err != nil {
		return n, err
	}
	n += 4
	if _, err := w.Write(rec.Key); err != nil {
		return n, err
	}
	n += len(rec.Key)

	hasValue := byte(0)
	if rec.Value != nil {
		hasValue = 1
	}
	if err := w.WriteByte(hasValue); err != nil {
		return n, err
	}
	n++

	if hasValue == 1 {
		var valLenBuf [4]byte
		binary.LittleEndian.PutUint32(valLenBuf[:], uint32(len(rec.Value)))
		if _, err := w.Write(valLenBuf[:]); err != nil {
			return n, err
		}
		n += 4
		if _, err := w.Write(rec.Value); err != nil {
			return n, err
		}
		n += len(rec.Value)
	}
	return n, nil
}
