package lsmdb

import "lsmdb/pkg/valuecodec"

// PutBool, PutString, and friends are thin convenience wrappers over
// Put for each scalar pkg/valuecodec supports, so callers don't need
// to build a tagged Value by hand for common cases.

func (db *Database) PutBool(key []byte, v bool) error { return db.Put(key, valuecodec.NewBool(v)) }

func (db *Database) PutI8(key []byte, v int8) error { return db.Put(key, valuecodec.NewI8(v)) }

func (db *Database) PutI16(key []byte, v int16) error { return db.Put(key, valuecodec.NewI16(v)) }

func (db *Database) PutI32(key []byte, v int32) error { return db.Put(key, valuecodec.NewI32(v)) }

func (db *Database) PutI64(key []byte, v int64) error { return db.Put(key, valuecodec.NewI64(v)) }

func (db *Database) PutU8(key []byte, v uint8) error { return db.Put(key, valuecodec.NewU8(v)) }

func (db *Database) PutU16(key []byte, v uint16) error { return db.Put(key, valuecodec.NewU16(v)) }

func (db *Database) PutU32(key []byte, v uint32) error { return db.Put(key, valuecodec.NewU32(v)) }

func (db *Database) PutU64(key []byte, v uint64) error { return db.Put(key, valuecodec.NewU64(v)) }

func (db *Database) PutF32(key []byte, v float32) error { return db.Put(key, valuecodec.NewF32(v)) }

func (db *Database) PutF64(key []byte, v float64) error { return db.Put(key, valuecodec.NewF64(v)) }

func (db *Database) PutString(key []byte, v string) error {
	return db.Put(key, valuecodec.NewString(v))
}

func (db *Database) PutBytes(key []byte, v []byte) error {
	return db.Put(key, valuecodec.NewBytes(v))
}
