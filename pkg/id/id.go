// Package id generates the identifiers used by outgoing mail:
// message ids, inline content ids and queued job ids.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Crockford's Base32 alphabet (excludes I, L, O, U to avoid confusion).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ContentIDLength is the length of ids returned by NewContentID.
const ContentIDLength = 10

// NewULID generates a 26 char id: 48 bits of millisecond timestamp followed by 80 random bits.
// Ids are lexicographically sortable by creation time.
func NewULID() string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixMilli())<<16)
	fillRandom(buf[6:])
	return encode(buf[:], 26)
}

// NewShortID generates a 16 char sortable id: 6 chars of timestamp followed by 10 random chars.
func NewShortID() string {
	var buf [10]byte
	ts := uint32(time.Now().UnixMilli() & 0x3FFFFFFF)
	binary.BigEndian.PutUint32(buf[:4], ts<<2)
	var random [7]byte
	fillRandom(random[:])
	// 30 timestamp bits followed by 50 random bits.
	buf[3] |= random[0] >> 6
	copy(buf[4:], random[1:])
	return encode(buf[:], 16)
}

// NewContentID returns a random lower-case token for inline attachments.
func NewContentID() string {
	var buf [7]byte
	fillRandom(buf[:])
	return strings.ToLower(encode(buf[:], ContentIDLength))
}

// NewMessageID returns a Message-ID value, without angle brackets, for the given domain.
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "localhost"
	}
	return strings.ToLower(NewULID()) + "@" + domain
}

// NewJobID returns a time-ordered UUID for queued mail.
func NewJobID() string {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v.String()
}

// encode writes the leading n*5 bits of src as Crockford base32.
func encode(src []byte, n int) string {
	out := make([]byte, n)
	for i := range n {
		bit := i * 5
		idx := bit / 8
		word := uint16(src[idx]) << 8
		if idx+1 < len(src) {
			word |= uint16(src[idx+1])
		}
		shift := 11 - bit%8
		out[i] = crockfordBase32[(word>>shift)&0x1F]
	}
	return string(out)
}

func fillRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		// Degraded but functional fallback on time-based entropy.
		var t [8]byte
		binary.BigEndian.PutUint64(t[:], uint64(time.Now().UnixNano()))
		for i := range b {
			b[i] = t[i%8]
		}
	}
}
