// Package idgen generates the lexicographically sortable, timestamp-
// prefixed Intent IDs named by SPEC_FULL.md's "IDs" ambient-stack
// supplement: a ULID-like shape built over crypto/rand and
// encoding/base32 rather than pulling in a dedicated ULID library that
// appears nowhere in the example pack.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"time"
)

// encoding uses the "extended hex" base32 alphabet (0-9, A-V) without
// padding. Its alphabet is byte-order-monotonic, so encoding preserves
// the sortability of the underlying bytes.
var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// NewIntentID returns an ID built from an 8-byte big-endian millisecond
// timestamp followed by 10 bytes of random entropy, base32-encoded. Two
// IDs minted in the same millisecond still sort arbitrarily relative to
// each other (the entropy bytes are random, not a counter), but IDs
// minted further apart in time always sort in timestamp order, matching
// the "Intent ID is monotone" data-model invariant.
func NewIntentID() string {
	return newID(time.Now())
}

func newID(t time.Time) string {
	var buf [18]byte
	ms := uint64(t.UnixMilli())
	for i := 7; i >= 0; i-- {
		buf[i] = byte(ms)
		ms >>= 8
	}
	if _, err := rand.Read(buf[8:]); err != nil {
		// crypto/rand failing means the platform's entropy source is
		// broken; there is no safe fallback for an identifier that must
		// not collide.
		panic("idgen: crypto/rand unavailable: " + err.Error())
	}
	return encoding.EncodeToString(buf[:])
}
