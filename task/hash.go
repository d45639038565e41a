package task

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
)

// StableHash computes a deterministic hash of a decoded JSON value (nil,
// bool, float64/json.Number, string, []any, or map[string]any), independent
// of object key order or map iteration order. It is the hex-encoded
// equivalent of hash_value_stable/create_stable_hash from the original
// scheduler: same type-tagged traversal (Null=0, Bool=1, Number=2, String=3,
// Array=4, Object=5 with sorted keys), but backed by SHA-256 over a canonical
// byte stream rather than Rust's process-local SipHash, since the hash must
// be stable across process restarts and across languages were this adapter
// ever reimplemented.
func StableHash(v any) string {
	var buf bytes.Buffer
	hashValue(&buf, v, false)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// MatrixHash computes the stable hash of a flat matrix value map, excluding
// any key with the "_meta_" prefix from the hash input entirely (ported from
// create_matrix_hash; metadata fields must not affect task identity).
func MatrixHash(values map[string]any) string {
	var buf bytes.Buffer
	hashValue(&buf, values, true)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func hashValue(buf *bytes.Buffer, v any, excludeMeta bool) {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(0)
	case bool:
		buf.WriteByte(1)
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int:
		hashInt(buf, int64(val))
	case int64:
		hashInt(buf, val)
	case float64:
		hashFloat(buf, val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			hashInt(buf, i)
		} else if f, err := val.Float64(); err == nil {
			hashFloat(buf, f)
		} else {
			buf.WriteByte(3)
			writeLenString(buf, val.String())
		}
	case string:
		buf.WriteByte(3)
		writeLenString(buf, val)
	case []any:
		buf.WriteByte(4)
		writeLenUint(buf, uint64(len(val)))
		for _, item := range val {
			hashValue(buf, item, false)
		}
	case map[string]any:
		buf.WriteByte(5)
		keys := make([]string, 0, len(val))
		for k := range val {
			if excludeMeta && hasMetaPrefix(k) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeLenUint(buf, uint64(len(keys)))
		for _, k := range keys {
			writeLenString(buf, k)
			hashValue(buf, val[k], false)
		}
	default:
		// Unrecognized concrete type: fall back to empty string so the hash
		// stays well defined rather than panicking on unexpected input.
		buf.WriteByte(3)
		writeLenString(buf, "")
	}
}

// hashInt encodes a value known to fit in an int64 with the integer marker
// (sub-tag 0), matching Number::as_i64 taking priority in the original.
func hashInt(buf *bytes.Buffer, i int64) {
	buf.WriteByte(2)
	buf.WriteByte(0)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	buf.Write(b[:])
}

// hashFloat encodes a float64 via its IEEE-754 bit pattern (sub-tag 2),
// matching f.to_bits().
func hashFloat(buf *bytes.Buffer, f float64) {
	buf.WriteByte(2)
	buf.WriteByte(2)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	buf.Write(b[:])
}

func writeLenString(buf *bytes.Buffer, s string) {
	writeLenUint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeLenUint(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func hasMetaPrefix(k string) bool {
	const prefix = "_meta_"
	return len(k) >= len(prefix) && k[:len(prefix)] == prefix
}
