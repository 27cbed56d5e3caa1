// raft/util.go
package raft

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// randomDuration returns a uniformly random duration in [lo, hi), adapted
// from the teacher's util.go randomInt — crypto/rand instead of math/rand
// so concurrently-started nodes don't share a PRNG seed and split votes
// forever, the same reasoning the teacher applied to its own election
// timeout jitter.
func randomDuration(lo, hi time.Duration) time.Duration {
	if lo >= hi {
		return lo
	}
	var n uint32
	binary.Read(rand.Reader, binary.BigEndian, &n)
	span := uint64(hi - lo)
	return lo + time.Duration(uint64(n)%span)
}

// FormatTerm formats a term for logging.
func FormatTerm(term uint64) string {
	return fmt.Sprintf("T%d", term)
}

// FormatIndex formats an index for logging.
func FormatIndex(index uint64) string {
	return fmt.Sprintf("I%d", index)
}
