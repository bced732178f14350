// Package buffer provides the growable fill/drain byte buffer the record
// layer pumps ciphertext and plaintext through.
//
// A Buffer is always in one of two modes. In fill mode the position is the
// write cursor and the limit marks how far writes may go. Flip switches to
// drain mode, where the position is the read cursor and the limit marks the
// end of readable content. Callers switch modes explicitly; the buffer never
// guesses.
package buffer

// Buffer is a byte buffer with position/limit cursors over a growable
// backing slice. The zero value is not usable; use New or Wrap.
type Buffer struct {
	data []byte
	pos  int
	lim  int
}

// New returns an empty fill-mode buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity), lim: capacity}
}

// Wrap returns a buffer over p with position zero and limit len(p), ready to
// be drained. The buffer takes ownership of p.
func Wrap(p []byte) *Buffer {
	return &Buffer{data: p, lim: len(p)}
}

// Clear resets to an empty fill-mode buffer without touching the contents.
func (b *Buffer) Clear() {
	b.pos = 0
	b.lim = len(b.data)
}

// Flip switches from fill mode to drain mode: the written region becomes the
// readable region.
func (b *Buffer) Flip() {
	b.lim = b.pos
	b.pos = 0
}

// Compact moves the unread tail to the front and resumes fill mode after it,
// preserving partially consumed content.
func (b *Buffer) Compact() {
	n := copy(b.data, b.data[b.pos:b.lim])
	b.pos = n
	b.lim = len(b.data)
}

// HasRemaining reports whether any bytes remain between position and limit.
func (b *Buffer) HasRemaining() bool { return b.pos < b.lim }

// Remaining returns the byte count between position and limit.
func (b *Buffer) Remaining() int { return b.lim - b.pos }

// Position returns the current cursor offset.
func (b *Buffer) Position() int { return b.pos }

// Capacity returns the physical capacity of the backing slice.
func (b *Buffer) Capacity() int { return len(b.data) }

// Bytes returns the region between position and limit without consuming it.
// The slice aliases the buffer and is invalidated by the next mutation.
func (b *Buffer) Bytes() []byte { return b.data[b.pos:b.lim] }

// Advance consumes n bytes, clamped to the remaining region.
func (b *Buffer) Advance(n int) {
	if n > b.lim-b.pos {
		n = b.lim - b.pos
	}
	b.pos += n
}

// Put appends p at the position, growing the limit (and, when needed, the
// backing slice) so the write always fits. Growth is monotonic.
func (b *Buffer) Put(p []byte) {
	if b.Remaining() < len(p) {
		b.Resize(b.lim + len(p))
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
}

// Resize ensures n bytes can be written in total. When n exceeds the
// physical capacity the backing slice is reallocated and the written region
// copied over; otherwise only the logical limit moves. Callers shrink the
// limit only when the bytes beyond it are already drained.
func (b *Buffer) Resize(n int) {
	if n > len(b.data) {
		grown := make([]byte, n)
		copy(grown, b.data[:b.pos])
		b.data = grown
	}
	b.lim = n
}

// Drain flips to drain mode and takes ownership of every unread byte,
// resetting the buffer to empty fill mode. It returns nil when nothing was
// unread.
func (b *Buffer) Drain() []byte {
	b.Flip()
	if !b.HasRemaining() {
		b.Clear()
		return nil
	}
	out := make([]byte, b.Remaining())
	copy(out, b.data[b.pos:b.lim])
	b.Clear()
	return out
}
