// Package dberrors holds the sentinel error values shared across the
// storage engine, using flat package-level errors.New values rather
// than a custom error-code type.
package dberrors

import "errors"

var (
	// ErrNotFound names the "key absent" outcome. No operation returns
	// it: Get reports absence via its boolean return, and the internal
	// layers do the same.
	ErrNotFound = errors.New("lsmdb: not found")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("lsmdb: closed")

	// ErrInvalidArgument covers empty keys, zero-length directories,
	// and other caller-supplied values the engine refuses up front.
	ErrInvalidArgument = errors.New("lsmdb: invalid argument")

	// ErrCompactionRunning names a compaction request that overlaps one
	// already in flight. No operation returns it: Compact waits for an
	// in-flight compaction to finish and then runs its own pass.
	ErrCompactionRunning = errors.New("lsmdb: compaction already running")

	// ErrTypeMismatch is returned by a value accessor invoked with a
	// different tag than the value was constructed or decoded with.
	ErrTypeMismatch = errors.New("lsmdb: value type mismatch")

	// ErrCorruptRecord marks a malformed on-disk record: bad magic,
	// unsupported version, out-of-range trailer offset, or a declared
	// length that overruns the file.
	ErrCorruptRecord = errors.New("lsmdb: corrupt record")

	// ErrKeyTooLarge is returned when a key's length does not fit the
	// u32 length prefix used by the WAL and SSTable formats.
	ErrKeyTooLarge = errors.New("lsmdb: key exceeds maximum length")
)
