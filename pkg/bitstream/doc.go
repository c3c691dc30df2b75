// Package bitstream provides the bit-level plumbing underneath the bvm
// instruction format.
//
// The package has three parts:
//
//   - Stream and Cursor: an immutable byte buffer read MSB-first, and a
//     seekable read position into it. A cursor offset is a plain bit index,
//     which is what makes code positions restartable jump targets.
//
//   - Writer: the append-only counterpart used by the compiler. Bytes()
//     pads the final byte with 1-bits so that trailing padding decodes as an
//     unterminated unary header, i.e. end of stream.
//
//   - The variable-length integer codec. Values are stored in a 3-bit header
//     block; the all-ones pattern escapes to a block twice as wide, recursively:
//
//     level 0:  3 bits  values 0..6
//     level 1:  6 bits  values 7..69
//     level 2: 12 bits  values 70..4164
//     level k: 3*2^k bits, offset by the capacity of all previous levels
//
//     Small ids and counts therefore cost three bits while arbitrarily large
//     literals stay representable.
package bitstream
