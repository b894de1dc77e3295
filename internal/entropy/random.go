// Package entropy seeds the per-action random streams used for risk rolls.
// Seeds come from crypto/rand so two identical actions never share dice,
// even across process restarts.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	mathrand "math/rand"
	"time"
)

// Seed returns a fresh random seed. Falls back to the clock if the system
// entropy source is unreadable.
func Seed() int64 {
	var buf [8]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}

// NewRand returns an independent stream for one resolution pass. Not safe
// for concurrent use; each pass gets its own.
func NewRand() *mathrand.Rand {
	return mathrand.New(mathrand.NewSource(Seed()))
}
