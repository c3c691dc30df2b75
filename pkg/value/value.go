// Package value is the operand model consumed by the bvm engine: exact
// rational numbers, finite sets and tuples, with a total order, truthiness
// and a closed table of operators.
package value

import (
	"fmt"
	"math/big"
	"slices"
	"strings"
)

// Kind identifies the concrete type of a Value. The numeric order of kinds
// is part of the total order: numbers sort before sets, sets before tuples.
type Kind uint8

const (
	KindNumber Kind = iota
	KindSet
	KindTuple
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindSet:
		return "set"
	case KindTuple:
		return "tuple"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is an immutable operand.
type Value interface {
	Kind() Kind
	String() string
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

// Number is an exact rational. The zero Number is 0.
type Number struct {
	r *big.Rat
}

// Int returns the Number i.
func Int(i int64) Number {
	return Number{r: new(big.Rat).SetInt64(i)}
}

// FromBig returns the integer Number i.
func FromBig(i *big.Int) Number {
	return Number{r: new(big.Rat).SetInt(i)}
}

// FromRat returns a Number holding a copy of r.
func FromRat(r *big.Rat) Number {
	return Number{r: new(big.Rat).Set(r)}
}

// Frac returns num/den. It panics if den is zero.
func Frac(num, den *big.Int) Number {
	return Number{r: new(big.Rat).SetFrac(num, den)}
}

// Zero is the neutral placeholder value.
func Zero() Value {
	return Int(0)
}

func (n Number) Kind() Kind { return KindNumber }

// Rat returns a copy of the rational value.
func (n Number) Rat() *big.Rat {
	if n.r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(n.r)
}

func (n Number) rat() *big.Rat {
	if n.r == nil {
		return new(big.Rat)
	}
	return n.r
}

// IsInt reports whether the number is an integer.
func (n Number) IsInt() bool {
	return n.rat().IsInt()
}

// Uint64 returns the number as a uint64 when it is a non-negative integer
// that fits.
func (n Number) Uint64() (uint64, bool) {
	r := n.rat()
	if !r.IsInt() || r.Sign() < 0 || !r.Num().IsUint64() {
		return 0, false
	}
	return r.Num().Uint64(), true
}

// Int64 returns the number as an int64 when it is an integer that fits.
func (n Number) Int64() (int64, bool) {
	r := n.rat()
	if !r.IsInt() || !r.Num().IsInt64() {
		return 0, false
	}
	return r.Num().Int64(), true
}

// Sign returns -1, 0 or +1.
func (n Number) Sign() int {
	return n.rat().Sign()
}

func (n Number) String() string {
	return Format(n, 10)
}

// ---------------------------------------------------------------------------
// Sets and tuples
// ---------------------------------------------------------------------------

// Set is a finite set, stored sorted by Compare with no duplicates.
type Set struct {
	elems []Value
}

// NewSet builds a set from arbitrary elements.
func NewSet(elems ...Value) Set {
	out := slices.Clone(elems)
	slices.SortFunc(out, Compare)
	out = slices.CompactFunc(out, Equal)
	return Set{elems: out}
}

func (s Set) Kind() Kind { return KindSet }

// Len returns the cardinality.
func (s Set) Len() int { return len(s.elems) }

// Elems returns the elements in order. The slice must not be modified.
func (s Set) Elems() []Value { return s.elems }

// Contains reports set membership.
func (s Set) Contains(v Value) bool {
	_, ok := slices.BinarySearchFunc(s.elems, v, Compare)
	return ok
}

func (s Set) String() string {
	return "{" + joinValues(s.elems, 10) + "}"
}

// Tuple is a finite ordered sequence.
type Tuple struct {
	elems []Value
}

// NewTuple builds a tuple.
func NewTuple(elems ...Value) Tuple {
	return Tuple{elems: slices.Clone(elems)}
}

func (t Tuple) Kind() Kind { return KindTuple }

// Len returns the number of components.
func (t Tuple) Len() int { return len(t.elems) }

// Elems returns the components. The slice must not be modified.
func (t Tuple) Elems() []Value { return t.elems }

func (t Tuple) String() string {
	return "(" + joinValues(t.elems, 10) + ")"
}

func joinValues(vs []Value, base int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = Format(v, base)
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// Truthiness and ordering
// ---------------------------------------------------------------------------

// Truthy is false only for numeric zero, the empty set and the empty tuple.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case Number:
		return x.Sign() != 0
	case Set:
		return x.Len() != 0
	case Tuple:
		return x.Len() != 0
	}
	return false
}

// Bool maps a Go bool to 1 or 0.
func Bool(b bool) Number {
	if b {
		return Int(1)
	}
	return Int(0)
}

// Compare is a total order across all values: by kind first, then numbers
// numerically, sets and tuples lexicographically with shorter prefixes first.
func Compare(a, b Value) int {
	if a.Kind() != b.Kind() {
		if a.Kind() < b.Kind() {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case Number:
		return x.rat().Cmp(b.(Number).rat())
	case Set:
		return compareSeq(x.elems, b.(Set).elems)
	case Tuple:
		return compareSeq(x.elems, b.(Tuple).elems)
	}
	return 0
}

func compareSeq(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Equal reports Compare(a, b) == 0.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}
