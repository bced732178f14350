package buffer

import (
	"bytes"
	"testing"
)

func TestPutGrowsPreservingContent(t *testing.T) {
	b := New(4)
	b.Put([]byte("abcd"))
	if b.Remaining() != 0 {
		t.Fatalf("expected full buffer, %d writable bytes remain", b.Remaining())
	}

	b.Put([]byte("efgh"))
	if b.Capacity() < 8 {
		t.Fatalf("capacity did not grow: %d", b.Capacity())
	}

	got := b.Drain()
	if !bytes.Equal(got, []byte("abcdefgh")) {
		t.Fatalf("content lost across growth: %q", got)
	}
}

func TestResizeShrinksLimitWithoutReallocating(t *testing.T) {
	b := New(16)
	b.Put([]byte("abc"))
	b.Resize(8)
	if b.Capacity() != 16 {
		t.Fatalf("shrink reallocated: capacity %d", b.Capacity())
	}
	if b.Remaining() != 5 {
		t.Fatalf("limit not applied: %d writable bytes", b.Remaining())
	}
}

func TestDrainEmptyResetsToFillMode(t *testing.T) {
	b := New(8)
	if got := b.Drain(); got != nil {
		t.Fatalf("expected nil from empty drain, got %q", got)
	}
	// The buffer must be usable for filling again.
	b.Put([]byte("xy"))
	if got := b.Drain(); !bytes.Equal(got, []byte("xy")) {
		t.Fatalf("buffer unusable after empty drain: %q", got)
	}
}

func TestCompactKeepsUnreadTail(t *testing.T) {
	b := New(8)
	b.Put([]byte("abcdef"))
	b.Flip()
	b.Advance(4)
	b.Compact()

	// Fill mode resumes after the preserved tail.
	b.Put([]byte("gh"))
	if got := b.Drain(); !bytes.Equal(got, []byte("efgh")) {
		t.Fatalf("compact lost the tail: %q", got)
	}
}

func TestFlipThenPutMatchesCursorDiscipline(t *testing.T) {
	b := New(8)
	b.Flip()
	if b.HasRemaining() {
		t.Fatal("flipped empty buffer should have nothing to read")
	}
	// Put after an empty flip must restore a usable limit, the way the
	// inbound buffer is reused between read cycles.
	b.Put([]byte("abc"))
	b.Flip()
	if !bytes.Equal(b.Bytes(), []byte("abc")) {
		t.Fatalf("unexpected readable region: %q", b.Bytes())
	}
}

func TestWrapIsImmediatelyDrainable(t *testing.T) {
	b := Wrap([]byte("hello"))
	if !b.HasRemaining() {
		t.Fatal("wrapped buffer should be readable")
	}
	b.Advance(2)
	if !bytes.Equal(b.Bytes(), []byte("llo")) {
		t.Fatalf("advance misplaced cursor: %q", b.Bytes())
	}
}
