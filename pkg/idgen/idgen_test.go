package idgen

import (
	"bytes"
	"strings"
	"testing"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 12, 16, 24} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("NanoID: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestNanoID_RejectsBiasedBytes(t *testing.T) {
	// 252 and above would fold onto the first four characters.
	src := bytes.NewReader([]byte{255, 252, 0, 35, 36, 251, 253, 1, 2, 3})
	got := nanoID(4, src)()
	if got != "0z0z" {
		t.Errorf("nanoID: got %q, want %q", got, "0z0z")
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	gen := NanoID(64)
	for i := 0; i < 100; i++ {
		for _, r := range gen() {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("NanoID: %q outside the alphabet", r)
			}
		}
	}
}

func TestTemp(t *testing.T) {
	id := Temp()()
	if !strings.HasPrefix(id, TempPrefix) {
		t.Fatalf("Temp: missing prefix in %q", id)
	}
	if !IsTemp(id) {
		t.Errorf("IsTemp(%q) = false", id)
	}
}

func TestPersisted(t *testing.T) {
	id := Persisted()
	if IsTemp(id) {
		t.Errorf("persisted id %q looks temporary", id)
	}
	if _, err := Parse(id); err != nil {
		t.Errorf("Parse(%q): %v", id, err)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("s")
	if a, b := gen(), gen(); a != "s1" || b != "s2" {
		t.Errorf("Sequence: got %q, %q", a, b)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Error("Parse: expected error for invalid input")
	}
}
