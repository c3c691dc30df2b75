package vm

import (
	"errors"
	"io"
	"math/big"

	"github.com/chazu/bvm/pkg/bitstream"
	"github.com/chazu/bvm/pkg/value"
)

// maxPathLen bounds import paths read from a stream.
const maxPathLen = 4096

// FunctionTable resolves call arities while decoding. A nil table means the
// caller only needs instruction boundaries, as when skipping.
type FunctionTable interface {
	Function(id uint64) (*Function, bool)
}

// DecodeBits reads one instruction from the cursor. topLevel reports whether
// no bracket is open in the current file; declarations and imports are
// rejected otherwise.
func DecodeBits(c *bitstream.Cursor, fns FunctionTable, topLevel bool) (*Action, error) {
	n, err := c.ReadUnary(headerLimit)
	switch {
	case errors.Is(err, io.EOF):
		return &Action{Kind: KindEOF}, nil
	case errors.Is(err, bitstream.ErrUnaryOverflow):
		return nil, decodeErr(ErrBadHeader, "header of %d or more 1-bits", n)
	case err != nil:
		return nil, decodeErr(ErrMalformed, "%v", err)
	}

	a := &Action{Kind: Kind(n)}
	if err := decodePayload(c, a); err != nil {
		if _, ok := err.(*Fatal); ok {
			return nil, err
		}
		return nil, decodeErr(ErrMalformed, "%s payload: %v", a.Kind, err)
	}
	if err := finishDecode(a, fns, topLevel); err != nil {
		return nil, err
	}
	return a, nil
}

func decodePayload(c *bitstream.Cursor, a *Action) error {
	var err error
	switch a.Kind {
	case KindOperator:
		var id uint64
		if id, err = c.ReadUint(); err != nil {
			return err
		}
		a.Op = value.OpID(id)
		op, ok := value.Lookup(a.Op)
		if !ok {
			return decodeErr(ErrMalformed, "unknown operator id %d", id)
		}
		if op.NAry {
			a.Extra, err = c.ReadUint()
		}
	case KindVariable:
		var dyn uint
		if dyn, err = c.ReadBit(); err != nil {
			return bitstream.ErrShortRead
		}
		a.Dynamic = dyn == 1
		if !a.Dynamic {
			a.ID, err = c.ReadUint()
		}
	case KindInteger:
		a.Num, err = c.ReadSigned()
	case KindFraction:
		if a.Num, err = c.ReadSigned(); err != nil {
			return err
		}
		var den *big.Int
		if den, err = c.ReadBig(); err != nil {
			return err
		}
		a.Den = den.Add(den, big.NewInt(1))
	case KindArgument, KindCall, KindRunIn:
		a.ID, err = c.ReadUint()
	case KindBracket:
		var b uint64
		if b, err = c.ReadBits(bracketWidth); err != nil {
			return err
		}
		if BracketKind(b) >= bracketKinds {
			return decodeErr(ErrMalformed, "bracket discriminant %d", b)
		}
		a.Bracket = BracketKind(b)
	case KindFunction:
		var arity uint64
		if arity, err = c.ReadUint(); err != nil {
			return err
		}
		if arity > maxArity {
			return decodeErr(ErrMalformed, "function arity %d", arity)
		}
		a.Arity = int(arity)
		a.ID, err = c.ReadUint()
	case KindImport:
		if a.ID, err = c.ReadUint(); err != nil {
			return err
		}
		var n uint64
		if n, err = c.ReadUint(); err != nil {
			return err
		}
		if n > maxPathLen {
			return decodeErr(ErrMalformed, "import path of %d bytes", n)
		}
		var p []byte
		if p, err = c.ReadBytes(int(n)); err != nil {
			return err
		}
		a.Path = string(p)
	case KindInput, KindOutput:
		var k uint64
		if k, err = c.ReadBits(ioWidth); err != nil {
			return err
		}
		if IOKind(k) >= ioKinds {
			return decodeErr(ErrMalformed, "i/o kind %d", k)
		}
		a.IO = IOKind(k)
		if a.IO == IONumberBase {
			var b uint64
			if b, err = c.ReadUint(); err != nil {
				return err
			}
			if b > 34 {
				return decodeErr(ErrMalformed, "numeric base %d", b+2)
			}
			a.Base = int(b) + 2
		} else {
			a.Base = 10
		}
	case KindExit:
	}
	return err
}

// maxArity bounds declared function arities and N-ary operand counts.
const maxArity = 1 << 16

// finishDecode applies the context rules shared by the bit and text front
// ends: placement of declarations and call arity resolution.
func finishDecode(a *Action, fns FunctionTable, topLevel bool) error {
	switch a.Kind {
	case KindFunction, KindImport:
		if !topLevel {
			return decodeErr(ErrNotTopLevel, "%s", a)
		}
	case KindOperator:
		if a.Extra > maxArity {
			return decodeErr(ErrMalformed, "%d extra operands", a.Extra)
		}
	case KindCall:
		if fns != nil {
			fn, ok := fns.Function(a.ID)
			if !ok {
				return decodeErr(ErrUnknownFunction, "function %d", a.ID)
			}
			a.setArity(fn.Arity)
			return nil
		}
	}
	return a.computeArity()
}

// EncodeBits appends the instruction to w. Encoding an EOF is a no-op.
func EncodeBits(w *bitstream.Writer, a *Action) {
	if a.Kind == KindEOF {
		return
	}
	w.WriteUnary(int(a.Kind))
	switch a.Kind {
	case KindOperator:
		w.WriteUint(uint64(a.Op))
		if op, ok := value.Lookup(a.Op); ok && op.NAry {
			w.WriteUint(a.Extra)
		}
	case KindVariable:
		if a.Dynamic {
			w.WriteBit(1)
		} else {
			w.WriteBit(0)
			w.WriteUint(a.ID)
		}
	case KindInteger:
		w.WriteSigned(a.Num)
	case KindFraction:
		w.WriteSigned(a.Num)
		w.WriteBig(new(big.Int).Sub(a.Den, big.NewInt(1)))
	case KindArgument, KindCall, KindRunIn:
		w.WriteUint(a.ID)
	case KindBracket:
		w.WriteBits(uint64(a.Bracket), bracketWidth)
	case KindFunction:
		w.WriteUint(uint64(a.Arity))
		w.WriteUint(a.ID)
	case KindImport:
		w.WriteUint(a.ID)
		w.WriteUint(uint64(len(a.Path)))
		w.WriteBytes([]byte(a.Path))
	case KindInput, KindOutput:
		w.WriteBits(uint64(a.IO), ioWidth)
		if a.IO == IONumberBase {
			w.WriteUint(uint64(a.Base - 2))
		}
	}
}
