// Package compaction owns the live list of on-disk SSTables and the
// background worker that periodically merges them. There are no level
// tiers here: every table lives in one oldest-first list, and the
// whole list is merged as a unit once its length crosses a threshold.
// The periodic wake/stop loop reuses pkg/listener.Worker: a ticker
// goroutine feeds tick timestamps into a channel, and the Worker
// drains it, invoking CompactIfNeeded per tick — exactly the
// wake-interval-plus-termination-signal contract the background
// worker needs.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"lsmdb/pkg/listener"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/metrics"
	"lsmdb/pkg/sstable"
)

// Manager owns the ordered, oldest-first list of live SSTables and
// performs full-merge compaction when the list grows past a
// threshold.
type Manager struct {
	dir               string
	logger            *slog.Logger
	metrics           metrics.Collector
	falsePositiveRate float64

	mu     sync.Mutex
	tables []*sstable.Table

	ticker   *listener.Worker[time.Time]
	tickerCh chan time.Time
	stopTick context.CancelFunc

	compacting sync.Mutex
}

// New creates a Manager rooted at dir, used to name newly compacted
// SSTable files. A nil collector falls back to metrics.Noop. A
// non-positive falsePositiveRate falls back to sstable.Build's own
// default, so callers that don't care about bloom sizing (tests) can
// pass 0.
func New(dir string, logger *slog.Logger, collector metrics.Collector, falsePositiveRate float64) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Manager{dir: dir, logger: logger, metrics: collector, falsePositiveRate: falsePositiveRate}
}

// Add appends table to the live list, preserving insertion order
// (oldest first).
func (m *Manager) Add(table *sstable.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = append(m.tables, table)
}

// Snapshot returns the current live list. The returned slice outlives
// subsequent mutations to the manager's list: callers holding it may
// keep scanning tables even after a concurrent compaction retires
// them, because Retire defers the actual unlink until every acquired
// reference is released.
func (m *Manager) Snapshot() []*sstable.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make([]*sstable.Table, len(m.tables))
	copy(snap, m.tables)
	for _, t := range snap {
		t.Acquire()
	}
	return snap
}

// ReleaseSnapshot releases every reference acquired by Snapshot. It
// must be called exactly once per Snapshot call, after the caller is
// done scanning.
func ReleaseSnapshot(snap []*sstable.Table) {
	for _, t := range snap {
		t.Release()
	}
}

// Start launches the background compaction loop, waking every
// interval to invoke CompactIfNeeded(threshold).
func (m *Manager) Start(ctx context.Context, interval time.Duration, threshold int) {
	tickCh := make(chan time.Time)
	m.tickerCh = tickCh

	pumpCtx, cancelPump := context.WithCancel(ctx)
	m.stopTick = cancelPump
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case tick := <-ticker.C:
				select {
				case tickCh <- tick:
				case <-pumpCtx.Done():
					return
				}
			}
		}
	}()

	m.ticker = listener.New[time.Time](tickCh, func(time.Time) error {
		if err := m.CompactIfNeeded(threshold); err != nil {
			m.logger.Error("compaction tick failed", "error", err)
		}
		return nil
	})
	m.ticker.Start(ctx)
}

// Stop terminates the background compaction loop and waits for it to
// exit.
func (m *Manager) Stop() {
	if m.stopTick != nil {
		m.stopTick()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
}

// Close stops the background loop. It does not close individual
// tables; ownership of their lifecycle belongs to the database, which
// may still be serving reads from them.
func (m *Manager) Close() {
	m.Stop()
}

// CompactIfNeeded performs a full merge of the live list when its
// length has reached threshold. Survivors (the record per key with
// the greatest timestamp, ties broken by later position in the input
// list, i.e. newer table) are written as one new SSTable; keys
// whose winning record is a tombstone are dropped. The input tables
// are atomically replaced by the (possibly absent) output in the live
// list, then retired.
func (m *Manager) CompactIfNeeded(threshold int) error {
	m.compacting.Lock()
	defer m.compacting.Unlock()

	start := time.Now()

	m.mu.Lock()
	if len(m.tables) < threshold {
		m.mu.Unlock()
		return nil
	}
	inputs := make([]*sstable.Table, len(m.tables))
	copy(inputs, m.tables)
	m.mu.Unlock()

	for _, t := range inputs {
		t.Acquire()
	}
	defer func() {
		for _, t := range inputs {
			t.Release()
		}
	}()

	merged, tombstonesDropped, err := mergeTables(inputs)
	if err != nil {
		return fmt.Errorf("failed to merge sstables: %w", err)
	}

	var output *sstable.Table
	if len(merged) > 0 {
		path, err := nextTablePath(m.dir)
		if err != nil {
			return err
		}
		output, err = sstable.Build(path, merged, m.falsePositiveRate)
		if err != nil {
			return fmt.Errorf("failed to build compacted sstable: %w", err)
		}
	}

	m.mu.Lock()
	m.tables = replaceInputsWithOutput(m.tables, inputs, output)
	m.mu.Unlock()

	for _, t := range inputs {
		t.Retire()
	}

	m.metrics.ObserveHistogram("lsmdb_compaction_seconds", nil, time.Since(start).Seconds())
	m.metrics.IncCounter("lsmdb_compaction_tables_merged_total", nil, float64(len(inputs)))
	if tombstonesDropped > 0 {
		m.metrics.IncCounter("lsmdb_compaction_tombstones_dropped_total", nil, float64(tombstonesDropped))
	}

	m.logger.Info("compaction completed", "inputs", len(inputs), "survivors", len(merged))
	return nil
}

func replaceInputsWithOutput(live, inputs []*sstable.Table, output *sstable.Table) []*sstable.Table {
	inputSet := make(map[*sstable.Table]bool, len(inputs))
	for _, t := range inputs {
		inputSet[t] = true
	}

	next := make([]*sstable.Table, 0, len(live))
	replaced := false
	for _, t := range live {
		if inputSet[t] {
			if !replaced && output != nil {
				next = append(next, output)
				replaced = true
			}
			continue
		}
		next = append(next, t)
	}
	if !replaced && output != nil {
		next = append(next, output)
	}
	return next
}

// mergeTables scans every input table oldest-first, keeps the record
// with the greatest timestamp per key (ties resolved by later scan
// order, i.e. the newer table), and returns the survivors sorted by
// key with tombstoned keys dropped, plus a count of how many winning
// records were tombstones.
func mergeTables(inputs []*sstable.Table) ([]memtable.Record, int, error) {
	winners := make(map[string]memtable.Record)
	for _, t := range inputs {
		err := t.Scan(nil, nil, func(rec memtable.Record) bool {
			key := string(rec.Key)
			current, exists := winners[key]
			if !exists || rec.Timestamp >= current.Timestamp {
				winners[key] = rec
			}
			return true
		})
		if err != nil {
			return nil, 0, err
		}
	}

	survivors := make([]memtable.Record, 0, len(winners))
	dropped := 0
	for _, rec := range winners {
		if rec.Deleted {
			dropped++
			continue
		}
		survivors = append(survivors, rec)
	}
	sort.Slice(survivors, func(i, j int) bool {
		return string(survivors[i].Key) < string(survivors[j].Key)
	})
	return survivors, dropped, nil
}

func nextTablePath(dir string) (string, error) {
	for {
		name := fmt.Sprintf("sstable_%d.sst", time.Now().UnixMilli())
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return path, nil
		}
		time.Sleep(time.Millisecond)
	}
}
