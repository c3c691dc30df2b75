package value

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

var (
	// ErrArity is returned when an operator receives the wrong number of operands.
	ErrArity = errors.New("wrong number of operands")

	// ErrType is returned when an operand has a kind the operator cannot handle.
	ErrType = errors.New("operand type mismatch")

	// ErrDivisionByZero is returned by div and mod.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrUnknownOperator is returned for ids missing from the table.
	ErrUnknownOperator = errors.New("unknown operator")
)

// MaxPowBits bounds the size of a pow result.
const MaxPowBits = 1 << 24

// OpID identifies an operator in the wire format.
type OpID uint64

// Operator ids are part of the bytecode format; append only.
const (
	OpPut OpID = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNot
	OpAnd
	OpOr
	OpInc
	OpDec
	OpAddTo
	OpSet
	OpTuple
	OpUnion
	OpInter
	OpDiff
	OpHas
	OpCard
	OpAt
	OpMin
	OpMax
	OpFloor
	OpNum
	OpDen
	OpPow
	OpCmp
	OpSum
)

// Operator describes one entry of the operator table.
type Operator struct {
	ID    OpID
	Name  string
	Arity int  // fixed operand count, or the minimum for N-ary operators
	NAry  bool // the instruction carries an explicit extra operand count
	Store bool // operand 0 is a variable that receives the result

	fn func(args []Value) (Value, error)
}

// operatorTable maps ids to their metadata and implementation.
var operatorTable = map[OpID]*Operator{
	OpPut:   {OpPut, "put", 2, false, true, opPut},
	OpAdd:   {OpAdd, "add", 2, false, false, opAdd},
	OpSub:   {OpSub, "sub", 2, false, false, opSub},
	OpMul:   {OpMul, "mul", 2, false, false, numeric2((*big.Rat).Mul)},
	OpDiv:   {OpDiv, "div", 2, false, false, opDiv},
	OpMod:   {OpMod, "mod", 2, false, false, opMod},
	OpNeg:   {OpNeg, "neg", 1, false, false, opNeg},
	OpEq:    {OpEq, "eq", 2, false, false, compareOp(func(c int) bool { return c == 0 })},
	OpNe:    {OpNe, "ne", 2, false, false, compareOp(func(c int) bool { return c != 0 })},
	OpLt:    {OpLt, "lt", 2, false, false, compareOp(func(c int) bool { return c < 0 })},
	OpLe:    {OpLe, "le", 2, false, false, compareOp(func(c int) bool { return c <= 0 })},
	OpGt:    {OpGt, "gt", 2, false, false, compareOp(func(c int) bool { return c > 0 })},
	OpGe:    {OpGe, "ge", 2, false, false, compareOp(func(c int) bool { return c >= 0 })},
	OpNot:   {OpNot, "not", 1, false, false, func(a []Value) (Value, error) { return Bool(!Truthy(a[0])), nil }},
	OpAnd:   {OpAnd, "and", 2, false, false, func(a []Value) (Value, error) { return Bool(Truthy(a[0]) && Truthy(a[1])), nil }},
	OpOr:    {OpOr, "or", 2, false, false, func(a []Value) (Value, error) { return Bool(Truthy(a[0]) || Truthy(a[1])), nil }},
	OpInc:   {OpInc, "inc", 1, false, true, step(1)},
	OpDec:   {OpDec, "dec", 1, false, true, step(-1)},
	OpAddTo: {OpAddTo, "addto", 2, false, true, opAdd},
	OpSet:   {OpSet, "set", 0, true, false, func(a []Value) (Value, error) { return NewSet(a...), nil }},
	OpTuple: {OpTuple, "tuple", 0, true, false, func(a []Value) (Value, error) { return NewTuple(a...), nil }},
	OpUnion: {OpUnion, "union", 2, false, false, setOp(func(in0, in1 bool) bool { return in0 || in1 })},
	OpInter: {OpInter, "inter", 2, false, false, setOp(func(in0, in1 bool) bool { return in0 && in1 })},
	OpDiff:  {OpDiff, "diff", 2, false, false, setOp(func(in0, in1 bool) bool { return in0 && !in1 })},
	OpHas:   {OpHas, "has", 2, false, false, opHas},
	OpCard:  {OpCard, "card", 1, false, false, opCard},
	OpAt:    {OpAt, "at", 2, false, false, opAt},
	OpMin:   {OpMin, "min", 2, false, false, func(a []Value) (Value, error) { return pick(a, -1), nil }},
	OpMax:   {OpMax, "max", 2, false, false, func(a []Value) (Value, error) { return pick(a, 1), nil }},
	OpFloor: {OpFloor, "floor", 1, false, false, opFloor},
	OpNum:   {OpNum, "num", 1, false, false, numPart(true)},
	OpDen:   {OpDen, "den", 1, false, false, numPart(false)},
	OpPow:   {OpPow, "pow", 2, false, false, opPow},
	OpCmp:   {OpCmp, "cmp", 2, false, false, func(a []Value) (Value, error) { return Int(int64(Compare(a[0], a[1]))), nil }},
	OpSum:   {OpSum, "sum", 0, true, false, opSum},
}

var operatorsByName = func() map[string]*Operator {
	m := make(map[string]*Operator, len(operatorTable))
	for _, op := range operatorTable {
		m[op.Name] = op
	}
	return m
}()

// Lookup returns the operator with the given id.
func Lookup(id OpID) (*Operator, bool) {
	op, ok := operatorTable[id]
	return op, ok
}

// LookupName returns the operator with the given name.
func LookupName(name string) (*Operator, bool) {
	op, ok := operatorsByName[name]
	return op, ok
}

// Operators returns the whole table ordered by id.
func Operators() []*Operator {
	ops := make([]*Operator, 0, len(operatorTable))
	for _, op := range operatorTable {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops
}

// Apply runs the operator over its operands.
func (op *Operator) Apply(args []Value) (Value, error) {
	if len(args) < op.Arity || (!op.NAry && len(args) != op.Arity) {
		return nil, fmt.Errorf("%s: %w: got %d, want %d", op.Name, ErrArity, len(args), op.Arity)
	}
	v, err := op.fn(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.Name, err)
	}
	return v, nil
}

// Apply looks up id and applies it.
func Apply(id OpID, args []Value) (Value, error) {
	op, ok := Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownOperator, id)
	}
	return op.Apply(args)
}

// ---------------------------------------------------------------------------
// Implementations
// ---------------------------------------------------------------------------

func numbers(args []Value) ([]*big.Rat, error) {
	out := make([]*big.Rat, len(args))
	for i, a := range args {
		n, ok := a.(Number)
		if !ok {
			return nil, fmt.Errorf("%w: operand %d is a %s, want number", ErrType, i, a.Kind())
		}
		out[i] = n.rat()
	}
	return out, nil
}

func numeric2(f func(z, x, y *big.Rat) *big.Rat) func([]Value) (Value, error) {
	return func(a []Value) (Value, error) {
		n, err := numbers(a)
		if err != nil {
			return nil, err
		}
		return Number{r: f(new(big.Rat), n[0], n[1])}, nil
	}
}

func opPut(a []Value) (Value, error) {
	return a[1], nil
}

func opAdd(a []Value) (Value, error) {
	switch x := a[0].(type) {
	case Set:
		if y, ok := a[1].(Set); ok {
			return NewSet(append(append([]Value{}, x.elems...), y.elems...)...), nil
		}
	case Tuple:
		if y, ok := a[1].(Tuple); ok {
			return NewTuple(append(append([]Value{}, x.elems...), y.elems...)...), nil
		}
	}
	return numeric2((*big.Rat).Add)(a)
}

func opSub(a []Value) (Value, error) {
	if _, ok := a[0].(Set); ok {
		return setOp(func(in0, in1 bool) bool { return in0 && !in1 })(a)
	}
	return numeric2((*big.Rat).Sub)(a)
}

func opDiv(a []Value) (Value, error) {
	n, err := numbers(a)
	if err != nil {
		return nil, err
	}
	if n[1].Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return Number{r: new(big.Rat).Quo(n[0], n[1])}, nil
}

func opMod(a []Value) (Value, error) {
	n, err := numbers(a)
	if err != nil {
		return nil, err
	}
	if !n[0].IsInt() || !n[1].IsInt() {
		return nil, fmt.Errorf("%w: mod needs integers", ErrType)
	}
	if n[1].Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return FromBig(new(big.Int).Mod(n[0].Num(), n[1].Num())), nil
}

func opNeg(a []Value) (Value, error) {
	n, err := numbers(a)
	if err != nil {
		return nil, err
	}
	return Number{r: new(big.Rat).Neg(n[0])}, nil
}

func step(delta int64) func([]Value) (Value, error) {
	return func(a []Value) (Value, error) {
		n, err := numbers(a)
		if err != nil {
			return nil, err
		}
		return Number{r: new(big.Rat).Add(n[0], new(big.Rat).SetInt64(delta))}, nil
	}
}

func compareOp(pred func(int) bool) func([]Value) (Value, error) {
	return func(a []Value) (Value, error) {
		return Bool(pred(Compare(a[0], a[1]))), nil
	}
}

func setOp(keep func(in0, in1 bool) bool) func([]Value) (Value, error) {
	return func(a []Value) (Value, error) {
		x, ok0 := a[0].(Set)
		y, ok1 := a[1].(Set)
		if !ok0 || !ok1 {
			return nil, fmt.Errorf("%w: want two sets", ErrType)
		}
		var out []Value
		for _, v := range x.elems {
			if keep(true, y.Contains(v)) {
				out = append(out, v)
			}
		}
		for _, v := range y.elems {
			if !x.Contains(v) && keep(false, true) {
				out = append(out, v)
			}
		}
		return NewSet(out...), nil
	}
}

func opHas(a []Value) (Value, error) {
	switch c := a[0].(type) {
	case Set:
		return Bool(c.Contains(a[1])), nil
	case Tuple:
		for _, v := range c.elems {
			if Equal(v, a[1]) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	}
	return nil, fmt.Errorf("%w: has needs a set or tuple", ErrType)
}

func opCard(a []Value) (Value, error) {
	switch c := a[0].(type) {
	case Set:
		return Int(int64(c.Len())), nil
	case Tuple:
		return Int(int64(c.Len())), nil
	case Number:
		return Number{r: new(big.Rat).Abs(c.rat())}, nil
	}
	return nil, ErrType
}

func opAt(a []Value) (Value, error) {
	idx, ok := a[1].(Number)
	if !ok {
		return nil, fmt.Errorf("%w: index must be a number", ErrType)
	}
	i, ok := idx.Uint64()
	if !ok {
		return nil, fmt.Errorf("%w: index %s", ErrType, idx)
	}
	var elems []Value
	switch c := a[0].(type) {
	case Set:
		elems = c.elems
	case Tuple:
		elems = c.elems
	default:
		return nil, fmt.Errorf("%w: at needs a set or tuple", ErrType)
	}
	if i >= uint64(len(elems)) {
		return nil, fmt.Errorf("index %d out of range [0,%d)", i, len(elems))
	}
	return elems[i], nil
}

func pick(a []Value, want int) Value {
	if Compare(a[0], a[1])*want >= 0 {
		return a[0]
	}
	return a[1]
}

func opFloor(a []Value) (Value, error) {
	n, err := numbers(a)
	if err != nil {
		return nil, err
	}
	// big.Int.Div is Euclidean; with a positive denominator that is floor.
	return FromBig(new(big.Int).Div(n[0].Num(), n[0].Denom())), nil
}

func numPart(numerator bool) func([]Value) (Value, error) {
	return func(a []Value) (Value, error) {
		n, err := numbers(a)
		if err != nil {
			return nil, err
		}
		if numerator {
			return FromBig(n[0].Num()), nil
		}
		return FromBig(n[0].Denom()), nil
	}
}

func opPow(a []Value) (Value, error) {
	n, err := numbers(a)
	if err != nil {
		return nil, err
	}
	if !n[1].IsInt() || !n[1].Num().IsInt64() {
		return nil, fmt.Errorf("%w: exponent must be a small integer", ErrType)
	}
	e := n[1].Num().Int64()
	neg := e < 0
	if neg {
		if n[0].Sign() == 0 {
			return nil, ErrDivisionByZero
		}
		e = -e
	}
	bits := max(n[0].Num().BitLen(), n[0].Denom().BitLen())
	if e < 0 || (bits > 1 && e > MaxPowBits/int64(bits-1)) {
		return nil, fmt.Errorf("%w: result of pow would exceed %d bits", ErrType, MaxPowBits)
	}
	num := new(big.Int).Exp(n[0].Num(), big.NewInt(e), nil)
	den := new(big.Int).Exp(n[0].Denom(), big.NewInt(e), nil)
	if neg {
		num, den = den, num
	}
	return Frac(num, den), nil
}

func opSum(a []Value) (Value, error) {
	n, err := numbers(a)
	if err != nil {
		return nil, err
	}
	total := new(big.Rat)
	for _, x := range n {
		total.Add(total, x)
	}
	return Number{r: total}, nil
}
