// Package idgen provides the identifier strategies used by speedwatch.
//
// Telemetry events get time-sortable UUIDv7 strings. Controllers get the
// readable media identity produced by ControllerID.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is used for telemetry event IDs.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// SourceHash is the 32-bit rolling string hash h = h*31 + c computed over
// UTF-16 code units with int32 wraparound. The value is stable across hosts
// so that the same source URL always yields the same controller ID prefix.
func SourceHash(s string) int32 {
	var h int32
	for _, c := range utf16Units(s) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// ControllerID builds "<tag>-<abs(hash)>-<unix millis>-<0..999>".
// src should already have fallen back to "no-src" when the element has none.
// Collision resistant, not cryptographic.
func ControllerID(tag, src string, now time.Time) string {
	h := int64(SourceHash(src))
	if h < 0 {
		h = -h
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%s-%d-%d-%d", tag, h, now.UnixMilli(), n.Int64())
}

func utf16Units(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		out = append(out, uint16(r))
	}
	return out
}
