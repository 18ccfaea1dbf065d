package registry

import (
	"bytes"
	"testing"
)

func TestScrollbackAppends(t *testing.T) {
	s := NewScrollback(64)
	s.Write([]byte("abc"))
	s.Write([]byte("def"))

	if got := s.Snapshot(); string(got) != "abcdef" {
		t.Errorf("snapshot %q", got)
	}
	if s.Len() != 6 {
		t.Errorf("len %d", s.Len())
	}
}

func TestScrollbackDropsOldestAtCap(t *testing.T) {
	s := NewScrollback(10)
	s.Write([]byte("0123456789"))
	s.Write([]byte("abc"))

	got := s.Snapshot()
	if len(got) != 10 {
		t.Fatalf("len %d over cap", len(got))
	}
	if string(got) != "3456789abc" {
		t.Errorf("expected newest bytes kept, got %q", got)
	}
}

func TestScrollbackSingleOversizedWrite(t *testing.T) {
	s := NewScrollback(5)
	s.Write([]byte("abcdefghij"))

	if got := s.Snapshot(); string(got) != "fghij" {
		t.Errorf("got %q", got)
	}
}

func TestScrollbackSnapshotIsACopy(t *testing.T) {
	s := NewScrollback(16)
	s.Write([]byte("data"))

	snap := s.Snapshot()
	snap[0] = 'X'

	if !bytes.Equal(s.Snapshot(), []byte("data")) {
		t.Error("mutating a snapshot changed the buffer")
	}
}

func TestScrollbackDefaultCap(t *testing.T) {
	s := NewScrollback(0)
	if s.maxLen != defaultScrollbackSize {
		t.Errorf("default cap %d", s.maxLen)
	}
}
