// Package runid generates short, roughly time-ordered identifiers for
// transcription runs and API requests.
//
// ID format: <kind:2>-<base62_ms:7><base62_rand:5> (15 chars including dash)
//
// Kinds:
//   - rn = pipeline run
//   - rq = HTTP request
//
// The timestamp component is milliseconds since epoch modulo 62^7 (about
// 111 years), so IDs of one kind sort by creation time for the lifetime of
// any deployment.
package runid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

const (
	KindRun     = "rn"
	KindRequest = "rq"
)

const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	tsLen   = 7
	randLen = 5
	idLen   = 2 + 1 + tsLen + randLen
)

var validKinds = map[string]bool{
	KindRun:     true,
	KindRequest: true,
}

var (
	ErrInvalidFormat = errors.New("invalid run ID format")
	ErrInvalidKind   = errors.New("invalid run ID kind")
)

// ID is a parsed identifier.
type ID struct {
	Kind string
	// Time is the creation time at millisecond resolution, modulo the
	// encoding range.
	Time time.Time
	Raw  string
}

func (id ID) String() string {
	return id.Raw
}

// NewRun returns a fresh pipeline run ID.
func NewRun() string {
	return newAt(KindRun, time.Now())
}

// NewRequest returns a fresh request ID.
func NewRequest() string {
	return newAt(KindRequest, time.Now())
}

func newAt(kind string, t time.Time) string {
	if !validKinds[kind] {
		panic(fmt.Sprintf("runid: invalid kind: %q", kind))
	}
	return kind + "-" + encodeBase62(uint64(t.UnixMilli()), tsLen) + randomBase62(randLen)
}

// Parse validates an ID and decodes its timestamp.
func Parse(s string) (ID, error) {
	if len(s) != idLen {
		return ID{}, fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidFormat, idLen, len(s))
	}
	if s[2] != '-' {
		return ID{}, fmt.Errorf("%w: missing dash at position 2", ErrInvalidFormat)
	}
	kind := s[:2]
	if !validKinds[kind] {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	ms, ok := decodeBase62(s[3 : 3+tsLen])
	if !ok || !isBase62(s[3+tsLen:]) {
		return ID{}, fmt.Errorf("%w: invalid characters", ErrInvalidFormat)
	}
	return ID{Kind: kind, Time: time.UnixMilli(int64(ms)), Raw: s}, nil
}

// IsValid reports whether s parses.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func encodeBase62(n uint64, width int) string {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(out)
}

func decodeBase62(s string) (uint64, bool) {
	var n uint64
	for i := 0; i < len(s); i++ {
		v, ok := base62Value(s[i])
		if !ok {
			return 0, false
		}
		n = n*62 + uint64(v)
	}
	return n, true
}

func base62Value(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 36, true
	}
	return 0, false
}

func isBase62(s string) bool {
	_, ok := decodeBase62(s)
	return ok
}

// randomBase62 draws from crypto/rand with rejection sampling, since 256 is
// not a multiple of 62.
func randomBase62(length int) string {
	out := make([]byte, length)
	const maxUnbiased = 248 // 4*62

	var buf [16]byte
	for i := 0; i < length; {
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("runid: crypto/rand: %v", err))
		}
		for _, b := range buf {
			if i == length {
				break
			}
			if b < maxUnbiased {
				out[i] = base62Alphabet[b%62]
				i++
			}
		}
	}
	return string(out)
}
