// Package memtable implements the in-memory ordered map that absorbs
// every write before it is durable in an SSTable: an atomic.Pointer
// over a github.com/zhangyunhao116/skipmap.FuncMap[[]byte, Record]
// ordered concurrent map, keyed by a byte-slice comparator. Rotation
// (swapping the active table for a fresh one so the old one can be
// flushed) is not triggered from inside Put/Delete — it is a separate
// operation the owning database drives once byte_size crosses its
// configured threshold. Folding rotation into the mutation path is
// what lets a lost CAS race double-count an entry's size; keeping
// them apart avoids that class of bug entirely.
package memtable

import (
	"bytes"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

type orderedMap = skipmap.FuncMap[[]byte, Record]

func newOrderedMap() *orderedMap {
	return skipmap.NewFunc[[]byte, Record](func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	})
}

// Table is a single mutable, ordered, concurrent key→Record map. A
// Table never rotates itself; once the owning database decides to
// retire one, it simply stops routing writes to it and keeps the
// pointer around until it has been flushed to an SSTable.
type Table struct {
	rows      atomic.Pointer[orderedMap]
	byteSize  atomic.Int64
	rowCount  atomic.Int64
}

// New returns an empty, ready-to-use Table.
func New() *Table {
	t := &Table{}
	t.rows.Store(newOrderedMap())
	return t
}

// Put inserts or overwrites key with a live value stamped at
// timestamp. Replacing an existing record (live or tombstoned)
// adjusts byte_size by the delta between the old and new record sizes
// rather than simply adding the new size, so repeated overwrites of
// the same key don't inflate the footprint estimate.
func (t *Table) Put(key, value []byte, timestamp int64) {
	t.upsert(Record{Key: key, Value: value, Timestamp: timestamp, Deleted: false})
}

// Delete replaces key's record with a tombstone stamped at timestamp.
func (t *Table) Delete(key []byte, timestamp int64) {
	t.upsert(Record{Key: key, Timestamp: timestamp, Deleted: true})
}

func (t *Table) upsert(rec Record) {
	rows := t.rows.Load()
	newSize := recordSize(rec)

	old, existed := rows.LoadOrStore(rec.Key, rec)
	if !existed {
		t.byteSize.Add(newSize)
		t.rowCount.Add(1)
		return
	}

	// LoadOrStore didn't overwrite; do it explicitly so the stored
	// record (and the size accounting) reflects the latest write.
	rows.Store(rec.Key, rec)
	t.byteSize.Add(newSize - recordSize(old))
}

func recordSize(r Record) int64 {
	return int64(len(r.Key)) + int64(len(r.Value)) + recordOverhead()
}

// Get returns the record stored for key, if any. The caller must
// inspect Record.Deleted: a tombstone is a definitive "found, but
// gone" result, distinct from "not present at all" (ok == false).
func (t *Table) Get(key []byte) (Record, bool) {
	rows := t.rows.Load()
	return rows.Load(key)
}

// Each visits every record in ascending key order. visit must not
// mutate the table. Returning false from visit stops iteration early.
func (t *Table) Each(visit func(Record) bool) {
	rows := t.rows.Load()
	rows.Range(func(_ []byte, rec Record) bool {
		return visit(rec)
	})
}

// ByteSize reports the table's approximate in-memory footprint.
func (t *Table) ByteSize() int64 { return t.byteSize.Load() }

// Size reports the number of logical rows (including tombstones)
// currently held.
func (t *Table) Size() int { return int(t.rowCount.Load()) }

// Clear empties the table in place, for reuse once its contents have
// been flushed to an SSTable.
func (t *Table) Clear() {
	t.rows.Store(newOrderedMap())
	t.byteSize.Store(0)
	t.rowCount.Store(0)
}
