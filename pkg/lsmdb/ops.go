package lsmdb

import (
	"bytes"
	"fmt"
	"sort"

	"lsmdb/pkg/compaction"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/valuecodec"
	"lsmdb/pkg/wal"
)

// Put writes v under key, replacing any prior record. v is typically
// constructed with one of pkg/valuecodec's New* constructors.
func (db *Database) Put(key []byte, v valuecodec.Value) error {
	if !db.running.Load() {
		return dberrors.ErrClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", dberrors.ErrInvalidArgument)
	}

	payload := valuecodec.Encode(v)
	ts := db.nextTimestamp()

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.wal.Append(wal.Entry{Op: wal.OpPut, Timestamp: ts, Key: key, Value: payload}); err != nil {
		return fmt.Errorf("failed to append WAL entry: %w", err)
	}
	db.active.Load().Put(key, payload, ts)
	db.opt.Metrics.IncCounter("lsmdb_writes_total", map[string]string{"op": "put"}, 1)
	return db.rotateIfNeededLocked()
}

// Delete replaces key's record with a tombstone.
func (db *Database) Delete(key []byte) error {
	if !db.running.Load() {
		return dberrors.ErrClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", dberrors.ErrInvalidArgument)
	}

	ts := db.nextTimestamp()

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.wal.Append(wal.Entry{Op: wal.OpDel, Timestamp: ts, Key: key}); err != nil {
		return fmt.Errorf("failed to append WAL entry: %w", err)
	}
	db.active.Load().Delete(key, ts)
	db.opt.Metrics.IncCounter("lsmdb_writes_total", map[string]string{"op": "delete"}, 1)
	return db.rotateIfNeededLocked()
}

// rotateIfNeededLocked must be called with db.mu held. When the active
// memtable has grown past the configured threshold it is pushed onto
// the immutable queue, a fresh empty table takes its place, and the
// WAL is truncated: every record the old WAL generation held is now
// also held by the immutable memtable awaiting flush, and any write
// acknowledged after truncation lands in the new generation.
func (db *Database) rotateIfNeededLocked() error {
	active := db.active.Load()
	if active.ByteSize() < db.opt.FlushThresholdBytes {
		return nil
	}

	db.imm = append(db.imm, active)
	db.active.Store(memtable.New())

	if err := db.wal.Truncate(); err != nil {
		return fmt.Errorf("failed to truncate WAL after rotation: %w", err)
	}
	return nil
}

// Get performs a layered point read: active memtable, then the
// immutable queue newest-to-oldest, then the SSTable list
// newest-to-oldest. A tombstone encountered at any layer is a
// definitive miss; the search does not fall through to older layers.
func (db *Database) Get(key []byte) (valuecodec.Value, bool, error) {
	if !db.running.Load() {
		return valuecodec.Value{}, false, dberrors.ErrClosed
	}

	if rec, ok := db.active.Load().Get(key); ok {
		return decodeOrMiss(rec)
	}

	db.mu.Lock()
	immSnapshot := make([]*memtable.Table, len(db.imm))
	copy(immSnapshot, db.imm)
	db.mu.Unlock()

	for i := len(immSnapshot) - 1; i >= 0; i-- {
		if rec, ok := immSnapshot[i].Get(key); ok {
			return decodeOrMiss(rec)
		}
	}

	tables := db.compactor.Snapshot()
	defer compaction.ReleaseSnapshot(tables)

	for i := len(tables) - 1; i >= 0; i-- {
		rec, ok, err := tables[i].Get(key)
		if err != nil {
			db.opt.Logger.Warn("sstable read failed, treating as miss", "path", tables[i].Path(), "error", err)
			continue
		}
		if ok {
			return decodeOrMiss(rec)
		}
	}

	return valuecodec.Value{}, false, nil
}

func decodeOrMiss(rec memtable.Record) (valuecodec.Value, bool, error) {
	if rec.Deleted {
		return valuecodec.Value{}, false, nil
	}
	v, err := valuecodec.Decode(rec.Value)
	if err != nil {
		return valuecodec.Value{}, false, err
	}
	return v, true, nil
}

// scanAccumulator tracks, per key, the record with the greatest
// timestamp seen so far across layers fed oldest to newest.
type scanAccumulator struct {
	best map[string]memtable.Record
}

func newScanAccumulator() *scanAccumulator {
	return &scanAccumulator{best: make(map[string]memtable.Record)}
}

func (a *scanAccumulator) feed(rec memtable.Record) {
	key := string(rec.Key)
	current, exists := a.best[key]
	if !exists || rec.Timestamp >= current.Timestamp {
		a.best[key] = rec
	}
}

// Scan emits (key, value) pairs for every live key in [start, end]
// (either bound nil for unbounded) in ascending key order. Layers are
// fed oldest to newest: SSTables oldest-first, then immutable
// memtables oldest-first, then the active memtable.
func (db *Database) Scan(start, end []byte, visit func(key []byte, v valuecodec.Value) bool) error {
	if !db.running.Load() {
		return dberrors.ErrClosed
	}

	acc := newScanAccumulator()

	tables := db.compactor.Snapshot()
	defer compaction.ReleaseSnapshot(tables)
	for _, t := range tables {
		if err := t.Scan(start, end, func(rec memtable.Record) bool {
			acc.feed(rec)
			return true
		}); err != nil {
			return fmt.Errorf("failed to scan sstable %s: %w", t.Path(), err)
		}
	}

	db.mu.Lock()
	immSnapshot := make([]*memtable.Table, len(db.imm))
	copy(immSnapshot, db.imm)
	db.mu.Unlock()

	for _, t := range immSnapshot {
		scanMemtable(t, start, end, acc.feed)
	}
	scanMemtable(db.active.Load(), start, end, acc.feed)

	keys := make([]string, 0, len(acc.best))
	for k := range acc.best {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rec := acc.best[k]
		if rec.Deleted {
			continue
		}
		v, err := valuecodec.Decode(rec.Value)
		if err != nil {
			return fmt.Errorf("failed to decode scanned value for key %q: %w", k, err)
		}
		if !visit(rec.Key, v) {
			break
		}
	}
	return nil
}

func scanMemtable(t *memtable.Table, start, end []byte, feed func(memtable.Record)) {
	t.Each(func(rec memtable.Record) bool {
		if start != nil && bytes.Compare(rec.Key, start) < 0 {
			return true
		}
		if end != nil && bytes.Compare(rec.Key, end) > 0 {
			return true
		}
		feed(rec)
		return true
	})
}
