// Package bloom implements the per-SSTable membership filter: a
// fixed-size bit array with k hash functions, each a cryptographic
// digest reseeded with a 0-based index. It follows the same
// Add/MayContain shape and optimal-size/optimal-k formulas as other
// bit-array bloom filters in this lineage, but uses a single sha256
// digest reseeded per hash index rather than an array of salted FNV
// instances, which is more conservative against false negatives once
// keys start colliding across hash slots.
package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"lsmdb/pkg/dberrors"
)

var errTruncated = fmt.Errorf("%w: bloom filter trailer truncated", dberrors.ErrCorruptRecord)

// Filter is a conservative (no false negatives) probabilistic set.
type Filter struct {
	bits      []byte
	bitCount  uint32
	hashCount uint32
}

// optimalBitCount computes m = ceil(-n*ln(p) / ln(2)^2).
func optimalBitCount(n uint32, p float64) uint32 {
	if n == 0 {
		n = 1
	}
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 8 {
		m = 8
	}
	return uint32(m)
}

// optimalHashCount computes k = clamp(ceil((m/n)*ln2), 1, 10).
func optimalHashCount(n, m uint32) uint32 {
	if n == 0 {
		n = 1
	}
	k := math.Ceil((float64(m) / float64(n)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}
	return uint32(k)
}

// New sizes a new, empty filter for expectedItems entries at the given
// false-positive rate. A zero or negative falsePositiveRate defaults to
// 0.01.
func New(expectedItems uint32, falsePositiveRate float64) *Filter {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	m := optimalBitCount(expectedItems, falsePositiveRate)
	k := optimalHashCount(expectedItems, m)
	return &Filter{
		bits:      make([]byte, (m+7)/8),
		bitCount:  m,
		hashCount: k,
	}
}

func (f *Filter) hashAt(i uint32, key []byte) uint32 {
	h := sha256.New()
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], i)
	h.Write(idx[:])
	h.Write(key)
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum[:4]) % f.bitCount
}

func (f *Filter) setBit(pos uint32) {
	f.bits[pos/8] |= 1 << (pos % 8)
}

func (f *Filter) getBit(pos uint32) bool {
	return f.bits[pos/8]&(1<<(pos%8)) != 0
}

// Add records key as present.
func (f *Filter) Add(key []byte) {
	for i := uint32(0); i < f.hashCount; i++ {
		f.setBit(f.hashAt(i, key))
	}
}

// MightContain reports whether key may be present. false is definitive
// (the key is absent); true may be a false positive at the configured
// rate.
func (f *Filter) MightContain(key []byte) bool {
	for i := uint32(0); i < f.hashCount; i++ {
		if !f.getBit(f.hashAt(i, key)) {
			return false
		}
	}
	return true
}

// BitCount and HashCount expose the filter's sizing for serialization
// and tests.
func (f *Filter) BitCount() uint32  { return f.bitCount }
func (f *Filter) HashCount() uint32 { return f.hashCount }

// Serialize writes [bit_count:i32 LE][hash_count:i32 LE][bits] as used
// inside the SSTable trailer.
func (f *Filter) Serialize() []byte {
	out := make([]byte, 4+4+len(f.bits))
	binary.LittleEndian.PutUint32(out[0:4], f.bitCount)
	binary.LittleEndian.PutUint32(out[4:8], f.hashCount)
	copy(out[8:], f.bits)
	return out
}

// Deserialize parses the trailer representation written by Serialize.
func Deserialize(b []byte) (*Filter, int, error) {
	if len(b) < 8 {
		return nil, 0, errTruncated
	}
	bitCount := binary.LittleEndian.Uint32(b[0:4])
	hashCount := binary.LittleEndian.Uint32(b[4:8])
	nbytes := int((bitCount + 7) / 8)
	if len(b) < 8+nbytes {
		return nil, 0, errTruncated
	}
	bits := make([]byte, nbytes)
	copy(bits, b[8:8+nbytes])
	return &Filter{bits: bits, bitCount: bitCount, hashCount: hashCount}, 8 + nbytes, nil
}
