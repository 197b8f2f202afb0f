// Package idgen provides pluggable id generation for funnels, steps and
// components.
//
// Two id spaces exist. Client ids are minted by the edit store while the user
// is editing and carry the TempPrefix; they never reach storage unchanged.
// Persisted ids are UUIDv7 strings assigned by the storage layer on the first
// successful save.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks client-space ids.
const TempPrefix = "tmp-"

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 ids of the given length.
// Every character of the alphabet is equally likely.
func NanoID(length int) Generator {
	return nanoID(length, rand.Reader)
}

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// maxByte is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are rejected so the modulo stays uniform.
const maxByte = 256 - 256%len(alphabet)

func nanoID(length int, src io.Reader) Generator {
	return func() string {
		out := make([]byte, 0, length)
		buf := make([]byte, length+length/4+1)
		for len(out) < length {
			if _, err := io.ReadFull(src, buf); err != nil {
				panic("idgen: random source failed: " + err.Error())
			}
			for _, b := range buf {
				if int(b) >= maxByte {
					continue
				}
				out = append(out, alphabet[int(b)%len(alphabet)])
				if len(out) == length {
					break
				}
			}
		}
		return string(out)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every id.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator ("<prefix>1", "<prefix>2", ...).
// Not safe for concurrent use; intended for tests and fixtures.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// Temp is the default client-space generator.
func Temp() Generator {
	return Prefixed(TempPrefix, NanoID(12))
}

// Persisted is the default storage-side generator.
var Persisted Generator = UUIDv7()

// IsTemp reports whether id belongs to the client id space.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// Parse validates a UUID string and returns it in canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
