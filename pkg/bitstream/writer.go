package bitstream

import "math/big"

// Writer accumulates bits MSB-first.
type Writer struct {
	buf  []byte
	bits int
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Len returns the number of bits written so far.
func (w *Writer) Len() int {
	return w.bits
}

// WriteBit appends one bit (any non-zero value is a 1).
func (w *Writer) WriteBit(bit uint) {
	if w.bits&7 == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit != 0 {
		w.buf[w.bits>>3] |= 1 << (7 - uint(w.bits&7))
	}
	w.bits++
}

// WriteBits appends the low n bits of v, most significant first.
func (w *Writer) WriteBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(uint(v>>uint(i)) & 1)
	}
}

// WriteBigBits appends the low n bits of v, most significant first.
func (w *Writer) WriteBigBits(v *big.Int, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(v.Bit(i))
	}
}

// WriteUnary appends n 1-bits followed by a 0-bit.
func (w *Writer) WriteUnary(n int) {
	for range n {
		w.WriteBit(1)
	}
	w.WriteBit(0)
}

// WriteBytes appends whole bytes at the current bit offset.
func (w *Writer) WriteBytes(p []byte) {
	for _, b := range p {
		w.WriteBits(uint64(b), 8)
	}
}

// Bytes returns the written bits, padding the last byte with 1-bits.
// The returned slice is a copy.
func (w *Writer) Bytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	if rem := w.bits & 7; rem != 0 {
		out[len(out)-1] |= byte(0xFF >> uint(rem))
	}
	return out
}
