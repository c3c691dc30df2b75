package bitstream

import (
	"fmt"
	"math/big"
)

// HeaderWidth is the width of the first block of an encoded integer.
const HeaderWidth = 3

// maxLevels bounds the escape chain. Level 24 blocks are 3*2^24 bits wide,
// far beyond any stream the decoder will ever be handed.
const maxLevels = 24

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// ReadBig decodes an unbounded non-negative integer.
func (c *Cursor) ReadBig() (*big.Int, error) {
	offset := new(big.Int)
	width := HeaderWidth
	for level := 0; level < maxLevels; level++ {
		if width <= 64 {
			v, err := c.ReadBits(width)
			if err != nil {
				return nil, err
			}
			escape := uint64(1)<<uint(width) - 1
			if width == 64 {
				escape = ^uint64(0)
			}
			if v != escape {
				return offset.Add(offset, new(big.Int).SetUint64(v)), nil
			}
		} else {
			v, err := c.ReadBigBits(width)
			if err != nil {
				return nil, err
			}
			if v.Cmp(blockCapacity(width)) != 0 {
				return offset.Add(offset, v), nil
			}
		}
		offset.Add(offset, blockCapacity(width))
		width *= 2
	}
	return nil, fmt.Errorf("integer escape chain exceeds %d levels", maxLevels)
}

// ReadUint decodes an integer that must fit in a uint64.
func (c *Cursor) ReadUint() (uint64, error) {
	v, err := c.ReadBig()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, ErrRange
	}
	return v.Uint64(), nil
}

// ReadSigned decodes a sign bit followed by a magnitude.
func (c *Cursor) ReadSigned() (*big.Int, error) {
	sign, err := c.ReadBit()
	if err != nil {
		return nil, ErrShortRead
	}
	mag, err := c.ReadBig()
	if err != nil {
		return nil, err
	}
	if sign == 1 {
		mag.Neg(mag)
	}
	return mag, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// WriteBig encodes a non-negative integer. It panics on negative input,
// which is a programming error in the caller.
func (w *Writer) WriteBig(x *big.Int) {
	if x.Sign() < 0 {
		panic("bitstream: WriteBig of negative value")
	}
	rest := new(big.Int).Set(x)
	width := HeaderWidth
	for {
		capacity := blockCapacity(width)
		if rest.Cmp(capacity) < 0 {
			w.WriteBigBits(rest, width)
			return
		}
		w.WriteBigBits(capacity, width)
		rest.Sub(rest, capacity)
		width *= 2
	}
}

// WriteUint encodes a uint64.
func (w *Writer) WriteUint(x uint64) {
	w.WriteBig(new(big.Int).SetUint64(x))
}

// WriteSigned encodes a sign bit followed by the magnitude of x.
func (w *Writer) WriteSigned(x *big.Int) {
	if x.Sign() < 0 {
		w.WriteBit(1)
		w.WriteBig(new(big.Int).Neg(x))
		return
	}
	w.WriteBit(0)
	w.WriteBig(x)
}

// EncodedLen returns the number of bits WriteUint uses for x.
func EncodedLen(x uint64) int {
	rest := new(big.Int).SetUint64(x)
	n := 0
	width := HeaderWidth
	for {
		n += width
		capacity := blockCapacity(width)
		if rest.Cmp(capacity) < 0 {
			return n
		}
		rest.Sub(rest, capacity)
		width *= 2
	}
}

// blockCapacity is the number of values a block of the given width can hold
// directly: every pattern except all-ones.
func blockCapacity(width int) *big.Int {
	c := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return c.Sub(c, big.NewInt(1))
}
