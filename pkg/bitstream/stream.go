package bitstream

import (
	"errors"
	"fmt"
	"io"
	"math/big"
)

var (
	// ErrUnaryOverflow is returned by ReadUnary when the limit of 1-bits is
	// reached without seeing a terminating 0-bit.
	ErrUnaryOverflow = errors.New("unary prefix too long")

	// ErrShortRead is returned when a fixed-width field runs past the end of
	// the stream.
	ErrShortRead = errors.New("unexpected end of bit stream")

	// ErrRange is returned when a decoded integer does not fit the requested type.
	ErrRange = errors.New("value out of range")
)

// Stream is an immutable sequence of bits backed by a byte slice.
type Stream struct {
	data []byte
	bits int
}

// NewStream wraps data. The stream covers every bit of every byte.
func NewStream(data []byte) *Stream {
	return &Stream{data: data, bits: len(data) * 8}
}

// Len returns the number of bits in the stream.
func (s *Stream) Len() int {
	return s.bits
}

// Bytes returns the underlying buffer.
func (s *Stream) Bytes() []byte {
	return s.data
}

// Cursor is a read position within a Stream.
type Cursor struct {
	s   *Stream
	off int
}

// NewCursor returns a cursor positioned at bit offset off.
func NewCursor(s *Stream, off int) *Cursor {
	return &Cursor{s: s, off: off}
}

// Stream returns the stream the cursor reads from.
func (c *Cursor) Stream() *Stream {
	return c.s
}

// Offset returns the current bit offset.
func (c *Cursor) Offset() int {
	return c.off
}

// Seek moves the cursor to an absolute bit offset.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > c.s.bits {
		return fmt.Errorf("seek to bit %d outside stream of %d bits", off, c.s.bits)
	}
	c.off = off
	return nil
}

// Remaining returns the number of unread bits.
func (c *Cursor) Remaining() int {
	return c.s.bits - c.off
}

// AtEnd reports whether every bit has been consumed.
func (c *Cursor) AtEnd() bool {
	return c.off >= c.s.bits
}

// ReadBit reads a single bit. It returns io.EOF at the end of the stream.
func (c *Cursor) ReadBit() (uint, error) {
	if c.off >= c.s.bits {
		return 0, io.EOF
	}
	b := c.s.data[c.off>>3]
	bit := (b >> (7 - uint(c.off&7))) & 1
	c.off++
	return uint(bit), nil
}

// ReadBits reads an n-bit big-endian unsigned field, n <= 64.
func (c *Cursor) ReadBits(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, fmt.Errorf("bit field width %d out of range", n)
	}
	if n > c.Remaining() {
		return 0, ErrShortRead
	}
	var v uint64
	for n > 0 {
		// Take as many bits as possible from the current byte.
		shift := 7 - uint(c.off&7)
		avail := int(shift) + 1
		take := min(avail, n)
		b := uint64(c.s.data[c.off>>3])
		chunk := (b >> (uint(avail - take))) & ((1 << uint(take)) - 1)
		v = v<<uint(take) | chunk
		c.off += take
		n -= take
	}
	return v, nil
}

// ReadBigBits reads an n-bit big-endian unsigned field of any width.
func (c *Cursor) ReadBigBits(n int) (*big.Int, error) {
	if n > c.Remaining() {
		return nil, ErrShortRead
	}
	v := new(big.Int)
	for n > 0 {
		take := min(n, 64)
		part, err := c.ReadBits(take)
		if err != nil {
			return nil, err
		}
		v.Lsh(v, uint(take))
		v.Or(v, new(big.Int).SetUint64(part))
		n -= take
	}
	return v, nil
}

// ReadUnary counts 1-bits up to the first 0-bit, which is consumed.
// It returns io.EOF if the stream ends before the terminating 0-bit and
// ErrUnaryOverflow once limit 1-bits have been read.
func (c *Cursor) ReadUnary(limit int) (int, error) {
	n := 0
	for {
		bit, err := c.ReadBit()
		if err != nil {
			return n, err
		}
		if bit == 0 {
			return n, nil
		}
		n++
		if n >= limit {
			return n, ErrUnaryOverflow
		}
	}
}

// ReadBytes reads n whole bytes starting at the current (possibly unaligned)
// bit offset.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n*8 > c.Remaining() {
		return nil, ErrShortRead
	}
	out := make([]byte, n)
	for i := range out {
		v, err := c.ReadBits(8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}
