package lsmdb

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/sstable"
)

// flushLoop wakes on opt.FlushInterval, drains the immutable queue
// under the write mutex, and writes each drained memtable to a new
// SSTable. The new SSTable is registered with the compaction manager
// before the drained memtable is discarded, so a concurrent read
// always finds the record in at least one of the two structures.
func (db *Database) flushLoop(ctx context.Context) {
	defer db.wg.Done()

	ticker := time.NewTicker(db.opt.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.flushPending(); err != nil {
				db.opt.Logger.Error("background flush failed", "error", err)
			}
		}
	}
}

func (db *Database) flushPending() error {
	db.mu.Lock()
	drained := db.imm
	db.imm = nil
	db.mu.Unlock()

	for i, t := range drained {
		if err := db.flushTable(t); err != nil {
			// Requeue this table and every table still behind it so
			// the next tick retries all of them — the WAL generation
			// backing them was already truncated at rotation time, so
			// dropping any of drained[i:] here would lose data for
			// good, not just delay its flush.
			db.mu.Lock()
			db.imm = append(db.imm, drained[i:]...)
			db.mu.Unlock()
			return err
		}
	}
	return nil
}

// flushTable writes one drained memtable to disk as a new SSTable and
// registers it with the compaction manager.
func (db *Database) flushTable(t *memtable.Table) error {
	if t.Size() == 0 {
		return nil
	}

	start := time.Now()
	var records []memtable.Record
	t.Each(func(rec memtable.Record) bool {
		records = append(records, rec)
		return true
	})

	path, err := db.nextSSTablePath()
	if err != nil {
		return err
	}

	table, err := sstable.Build(path, records, db.opt.BloomFalsePositive)
	if err != nil {
		return fmt.Errorf("failed to flush memtable to %s: %w", path, err)
	}
	db.compactor.Add(table)

	db.opt.Metrics.IncCounter("lsmdb_flush_bytes_total", nil, float64(t.ByteSize()))
	db.opt.Metrics.ObserveHistogram("lsmdb_flush_seconds", nil, time.Since(start).Seconds())
	return nil
}

func (db *Database) nextSSTablePath() (string, error) {
	for {
		name := fmt.Sprintf("sstable_%d.sst", time.Now().UnixMilli())
		path := filepath.Join(db.dir, name)
		if !fileExists(path) {
			return path, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// Compact forces an immediate compaction pass regardless of the
// configured threshold, by temporarily treating any non-empty live
// list as over threshold.
func (db *Database) Compact() error {
	if !db.running.Load() {
		return dberrors.ErrClosed
	}
	return db.compactor.CompactIfNeeded(1)
}
