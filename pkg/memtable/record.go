package memtable

// Record is one logical row held by a MemTable: either a live value or
// a tombstone left behind by a delete. Timestamp is the millisecond
// wall-clock version used for last-writer-wins resolution across
// layers.
type Record struct {
	Key       []byte
	Value     []byte // nil when Deleted
	Timestamp int64
	Deleted   bool
}

func recordOverhead() int64 {
	// 8 bytes timestamp + 1 byte tombstone flag; close enough to the
	// on-disk record overhead to size flush thresholds sensibly.
	const timestampSize = 8
	const flagSize = 1
	return timestampSize + flagSize
}
