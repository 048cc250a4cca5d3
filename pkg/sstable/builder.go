package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"lsmdb/pkg/bloom"
	"lsmdb/pkg/memtable"
)

// defaultFalsePositiveRate is used when a caller passes a
// non-positive rate.
const defaultFalsePositiveRate = 0.01

// Build writes records (in any order — Build sorts) as a new SSTable
// at path, following the prefix-trailer-offset layout: it writes a
// placeholder prefix, streams data records while accumulating the
// index and bloom filter in memory, writes the trailer, then seeks
// back and rewrites the prefix with the real trailer offset. The file
// is fsynced and closed before Build returns, so the table is durable
// before it is ever announced to a compaction manager. falsePositiveRate
// sizes the bloom filter; a non-positive value falls back to
// defaultFalsePositiveRate.
func Build(path string, records []memtable.Record, falsePositiveRate float64) (*Table, error) {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = defaultFalsePositiveRate
	}
	sorted := make([]memtable.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sstable %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	placeholder := make([]byte, prefixSize)
	if _, err := w.Write(placeholder); err != nil {
		return nil, fmt.Errorf("failed to write sstable prefix: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	filter := bloom.New(uint32(len(sorted)), falsePositiveRate)
	index := make([]indexEntry, 0, len(sorted))
	offset := uint64(prefixSize)

	for _, rec := range sorted {
		n, err := encodeRecord(w, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to write sstable record: %w", err)
		}
		index = append(index, indexEntry{key: rec.Key, offset: offset, size: uint32(n)})
		filter.Add(rec.Key)
		offset += uint64(n)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sstable data: %w", err)
	}

	trailerOffset := offset
	if err := writeTrailer(w, index, filter); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sstable trailer: %w", err)
	}

	prefix := make([]byte, prefixSize)
	copy(prefix[0:4], magic)
	binary.LittleEndian.PutUint32(prefix[4:8], version)
	binary.LittleEndian.PutUint64(prefix[8:16], trailerOffset)
	if _, err := file.WriteAt(prefix, 0); err != nil {
		return nil, fmt.Errorf("failed to rewrite sstable prefix: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync sstable: %w", err)
	}

	var minKey, maxKey []byte
	if len(sorted) > 0 {
		minKey = sorted[0].Key
		maxKey = sorted[len(sorted)-1].Key
	}

	t := &Table{
		path:   path,
		index:  index,
		filter: filter,
		minKey: minKey,
		maxKey: maxKey,
	}
	t.refCount.Store(1)
	return t, nil
}

func writeTrailer(w *bufio.Writer, index []indexEntry, filter *bloom.Filter) error {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(index)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}

	for _, e := range index {
		var keyLenBuf [4]byte
		binary.LittleEndian.PutUint32(keyLenBuf[:], uint32(len(e.key)))
		if _, err := w.Write(keyLenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(e.key); err != nil {
			return err
		}
		var offsetBuf [8]byte
		binary.LittleEndian.PutUint64(offsetBuf[:], e.offset)
		if _, err := w.Write(offsetBuf[:]); err != nil {
			return err
		}
		var sizeBuf [4]byte
		binary.LittleEndian.PutUint32(sizeBuf[:], e.size)
		if _, err := w.Write(sizeBuf[:]); err != nil {
			return err
		}
	}

	if _, err := w.Write(filter.Serialize()); err != nil {
		return err
	}

	var minKey, maxKey []byte
	if len(index) > 0 {
		minKey = index[0].key
		maxKey = index[len(index)-1].key
	}
	if err := writeLenPrefixed(w, minKey); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, maxKey); err != nil {
		return err
	}
	return nil
}

func writeLenPrefixed(w *bufio.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return nil
}
