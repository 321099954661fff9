package schemaview

import (
	"encoding/hex"
	"hash/fnv"
)

// fingerprintHash accumulates a stable digest over the sorted table/column
// stream. Grounded on the same hash/fnv convention the teacher and sibling
// pack repos use for content hashing (testutil.go, pldb.go) — no 128-bit
// hash library exists in the retrieval pack, so the fingerprint is one
// 64-bit value, built by chaining an fnv-1a digest of each written string
// into a running state, rendered as hex, which is sufficient here
// since this value is a change-detector, not a uniqueness guarantee (that
// job belongs to unique.Filter).
type fingerprintHash struct {
	h uint64
}

func newFingerprintHash() *fingerprintHash {
	f := fnv.New64a()
	return &fingerprintHash{h: f.Sum64()}
}

func (f *fingerprintHash) writeString(s string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte{byte(f.h), byte(f.h >> 8)})
	_, _ = h.Write([]byte(s))
	_, _ = h.Write([]byte{0})
	f.h = f.h*1099511628211 ^ h.Sum64()
}

func (f *fingerprintHash) sum() string {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(f.h >> (8 * i))
	}
	return hex.EncodeToString(buf)
}
