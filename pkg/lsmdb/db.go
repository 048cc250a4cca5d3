// Package lsmdb wires the value codec, WAL, memtable, SSTable and
// compaction packages into one embedded key-value store: a single
// struct holding the WAL, the active memtable, and a compaction
// manager, constructed by Open, serializing writes through one mutex,
// and replaying the WAL on startup. Rotation and flush are driven
// entirely by the Database rather than folded into the memtable's own
// mutation path, which avoids a class of lost-CAS-race size-accounting
// bug. The active memtable pointer itself is an atomic.Pointer, so
// Get and Scan can load it without holding the write mutex; the
// memtable.Table it points at is separately safe for concurrent reads
// because skipmap is itself lock-free, but that says nothing about the
// pointer swap in rotateIfNeededLocked, which needs its own
// synchronization.
package lsmdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lsmdb/pkg/clock"
	"lsmdb/pkg/compaction"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/metrics"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/wal"
)

const (
	defaultFlushThresholdBytes = 64 * 1024 * 1024
	defaultFlushInterval       = time.Second
	defaultCompactionInterval  = 10 * time.Second
	defaultCompactionThreshold = 4
	defaultBloomFalsePositive  = 0.01
)

// Options configures Open. A zero-valued Options falls back to the
// defaults documented below.
type Options struct {
	SyncOnWrite         bool
	FlushThresholdBytes int64
	FlushInterval       time.Duration
	CompactionThreshold int
	CompactionInterval  time.Duration
	BloomFalsePositive  float64
	Logger              *slog.Logger
	Metrics             metrics.Collector
}

func (o *Options) setDefaults() {
	if o.FlushThresholdBytes <= 0 {
		o.FlushThresholdBytes = defaultFlushThresholdBytes
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.CompactionThreshold <= 0 {
		o.CompactionThreshold = defaultCompactionThreshold
	}
	if o.CompactionInterval <= 0 {
		o.CompactionInterval = defaultCompactionInterval
	}
	if o.BloomFalsePositive <= 0 || o.BloomFalsePositive >= 1 {
		o.BloomFalsePositive = defaultBloomFalsePositive
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Noop{}
	}
}

// Database is one embedded LSM-tree key-value store rooted at a
// directory.
type Database struct {
	dir string
	opt Options

	mu     sync.Mutex
	wal    *wal.WAL
	active atomic.Pointer[memtable.Table]
	imm    []*memtable.Table

	compactor *compaction.Manager
	clock     *clock.Monotonic

	running atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates the directory if absent, opens or creates wal.log,
// replays it into a fresh active memtable, discovers existing *.sst
// files (oldest first by embedded filename timestamp) and registers
// them with the compaction manager, then starts the background flush
// and compaction workers.
func Open(dir string, opt Options) (*Database, error) {
	opt.setDefaults()

	if dir == "" {
		return nil, fmt.Errorf("%w: empty database directory", dberrors.ErrInvalidArgument)
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	w, err := wal.Open(dir, opt.SyncOnWrite)
	if err != nil {
		return nil, err
	}

	db := &Database{
		dir:       dir,
		opt:       opt,
		wal:       w,
		compactor: compaction.New(dir, opt.Logger, opt.Metrics, opt.BloomFalsePositive),
		clock:     clock.NewMonotonic(clock.Wall{}),
	}
	db.active.Store(memtable.New())
	db.running.Store(true)

	if err := db.replayWAL(); err != nil {
		w.Close()
		return nil, err
	}

	if err := db.loadExistingTables(); err != nil {
		w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	db.cancel = cancel
	db.compactor.Start(ctx, opt.CompactionInterval, opt.CompactionThreshold)

	db.wg.Add(1)
	go db.flushLoop(ctx)

	return db, nil
}

func (db *Database) replayWAL() error {
	active := db.active.Load()
	return db.wal.Replay(func(e wal.Entry) error {
		switch e.Op {
		case wal.OpPut:
			active.Put(e.Key, e.Value, e.Timestamp)
		case wal.OpDel:
			active.Delete(e.Key, e.Timestamp)
		default:
			return fmt.Errorf("%w: unknown WAL op %d", dberrors.ErrCorruptRecord, e.Op)
		}
		return nil
	})
}

func (db *Database) loadExistingTables() error {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return fmt.Errorf("failed to list database directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sst" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // sstable_<unix_ms>.sst sorts oldest-first lexically

	for _, name := range names {
		table, err := sstable.Open(filepath.Join(db.dir, name))
		if err != nil {
			return fmt.Errorf("failed to open existing sstable %s: %w", name, err)
		}
		db.compactor.Add(table)
	}
	return nil
}

// Close stops background workers, flushes any pending immutable
// memtables directly, stops compaction, and closes the WAL. Close is
// idempotent.
func (db *Database) Close() error {
	if !db.running.CompareAndSwap(true, false) {
		return nil
	}

	if db.cancel != nil {
		db.cancel()
	}
	db.wg.Wait()

	db.mu.Lock()
	pending := db.imm
	db.imm = nil
	db.mu.Unlock()
	for _, t := range pending {
		if err := db.flushTable(t); err != nil {
			db.opt.Logger.Error("failed to flush pending memtable on close", "error", err)
		}
	}

	db.compactor.Stop()
	return db.wal.Close()
}

func (db *Database) nextTimestamp() int64 {
	return db.clock.NowMs()
}
