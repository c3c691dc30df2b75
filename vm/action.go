package vm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/chazu/bvm/pkg/value"
)

// Kind is the instruction category. The numeric value of each category is
// the length of its unary header in the bit format.
type Kind uint8

const (
	KindOperator Kind = iota
	KindVariable
	KindInteger
	KindArgument
	KindBracket
	KindCall
	KindFraction
	KindFunction
	KindRunIn
	KindImport
	KindInput
	KindOutput
	KindExit

	// KindEOF is never encoded; it is produced when a stream runs out.
	KindEOF
)

// headerLimit is the number of 1-bits at which a unary header is rejected.
const headerLimit = int(KindEOF)

var kindNames = [...]string{
	KindOperator: "operator",
	KindVariable: "variable",
	KindInteger:  "integer",
	KindArgument: "argument",
	KindBracket:  "bracket",
	KindCall:     "call",
	KindFraction: "fraction",
	KindFunction: "function",
	KindRunIn:    "runin",
	KindImport:   "import",
	KindInput:    "input",
	KindOutput:   "output",
	KindExit:     "exit",
	KindEOF:      "eof",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// BracketKind is the discriminant of a bracket marker.
type BracketKind uint8

const (
	BracketDo BracketKind = iota
	BracketIfEq
	BracketIfNe
	BracketWhileEq
	BracketWhileNe
	BracketElse
	BracketElifEq
	BracketElifNe
	BracketEnd
	BracketEndWhileEq
	BracketEndWhileNe
	BracketBreak

	bracketKinds
)

// bracketWidth is the width of the bracket discriminant field.
const bracketWidth = 4

var bracketNames = [...]string{
	BracketDo:         "DO",
	BracketIfEq:       "IF=",
	BracketIfNe:       "IF!",
	BracketWhileEq:    "WHILE=",
	BracketWhileNe:    "WHILE!",
	BracketElse:       "ELSE",
	BracketElifEq:     "ELIF=",
	BracketElifNe:     "ELIF!",
	BracketEnd:        "END",
	BracketEndWhileEq: "ENDWHILE=",
	BracketEndWhileNe: "ENDWHILE!",
	BracketBreak:      "BREAK",
}

func (b BracketKind) String() string {
	if b < bracketKinds {
		return bracketNames[b]
	}
	return fmt.Sprintf("Bracket(%d)", b)
}

// Opens reports whether the marker opens a new bracket frame.
func (b BracketKind) Opens() bool {
	return b <= BracketWhileNe
}

// Closes reports whether the marker closes a frame.
func (b BracketKind) Closes() bool {
	return b == BracketEnd || b == BracketEndWhileEq || b == BracketEndWhileNe
}

// Conditional reports whether the marker takes two operands compared for
// equality.
func (b BracketKind) Conditional() bool {
	switch b {
	case BracketIfEq, BracketIfNe, BracketWhileEq, BracketWhileNe,
		BracketElifEq, BracketElifNe, BracketEndWhileEq, BracketEndWhileNe:
		return true
	}
	return false
}

// wantEqual reports whether the condition holds when the operands are equal.
func (b BracketKind) wantEqual() bool {
	switch b {
	case BracketIfEq, BracketWhileEq, BracketElifEq, BracketEndWhileEq:
		return true
	}
	return false
}

// IOKind selects the representation used by Input and Output.
type IOKind uint8

const (
	IONumber IOKind = iota
	IONumberBase
	IOChar

	ioKinds
)

const ioWidth = 2

// Argument pseudo-slots.
const (
	ArgRes   uint64 = 0
	ArgCount uint64 = 1
	argFirst uint64 = 2
)

// RunIn targets.
const (
	RunInNamespace uint64 = 0
	RunInFrame     uint64 = 1
	runInChild     uint64 = 2
)

// Operand is a value bound to an instruction slot. Ref is set instead of
// Value when a store operator receives its target variable.
type Operand struct {
	Value value.Value
	Ref   *VarRef
}

// VarRef names a variable slot in a specific environment.
type VarRef struct {
	Env EnvHandle
	ID  uint64
}

// Action is one decoded instruction plus the operands bound to it so far.
// Fields are meaningful per Kind:
//
//	KindOperator  Op, Extra
//	KindVariable  ID, Dynamic
//	KindInteger   Num
//	KindFraction  Num, Den
//	KindArgument  ID (ArgRes, ArgCount or argFirst+n)
//	KindBracket   Bracket
//	KindCall      ID
//	KindFunction  ID, Arity
//	KindRunIn     ID (RunInNamespace, RunInFrame or runInChild+n)
//	KindImport    ID (0 include, n+1 child n), Path
//	KindInput     IO, Base
//	KindOutput    IO, Base
type Action struct {
	Kind    Kind
	ID      uint64
	Op      value.OpID
	Extra   uint64
	Dynamic bool
	Num     *big.Int
	Den     *big.Int
	Bracket BracketKind
	Arity   int
	Path    string
	IO      IOKind
	Base    int

	operands []Operand
	arity    int

	// target is the environment a RunIn resolved to.
	target EnvHandle
}

// Required returns the number of operands the instruction needs.
func (a *Action) Required() int {
	return a.arity
}

// Missing returns how many operands may still be pushed.
func (a *Action) Missing() int {
	return a.arity - len(a.operands)
}

// Operands returns the operands bound so far.
func (a *Action) Operands() []Operand {
	return a.operands
}

// Push binds the next operand.
func (a *Action) Push(op Operand) error {
	if a.Missing() <= 0 {
		return evalErr(ErrTooManyOperands, "%s takes %d operands", a, a.arity)
	}
	a.operands = append(a.operands, op)
	return nil
}

// setArity fixes the operand count. Calls learn theirs from the function table.
func (a *Action) setArity(n int) {
	a.arity = n
}

// computeArity derives the operand count from the decoded payload.
func (a *Action) computeArity() error {
	switch a.Kind {
	case KindOperator:
		op, ok := value.Lookup(a.Op)
		if !ok {
			return decodeErr(ErrMalformed, "unknown operator id %d", a.Op)
		}
		a.arity = op.Arity + int(a.Extra)
	case KindVariable:
		if a.Dynamic {
			a.arity = 1
		}
	case KindBracket:
		if a.Bracket.Conditional() {
			a.arity = 2
		}
	case KindOutput:
		a.arity = 1
	}
	return nil
}

// Literal returns the value of an integer or fraction literal.
func (a *Action) Literal() value.Value {
	if a.Kind == KindFraction {
		return value.Frac(a.Num, a.Den)
	}
	return value.FromBig(a.Num)
}

// String returns the text form of the instruction.
func (a *Action) String() string {
	switch a.Kind {
	case KindOperator:
		op, ok := value.Lookup(a.Op)
		if !ok {
			return fmt.Sprintf("op%d", a.Op)
		}
		if op.NAry {
			return op.Name + "/" + strconv.Itoa(op.Arity+int(a.Extra))
		}
		return op.Name
	case KindVariable:
		if a.Dynamic {
			return "v?"
		}
		return "v" + strconv.FormatUint(a.ID, 10)
	case KindInteger:
		return a.Num.String()
	case KindFraction:
		return a.Num.String() + "/" + a.Den.String()
	case KindArgument:
		switch a.ID {
		case ArgRes:
			return "RES"
		case ArgCount:
			return "ARGC"
		}
		return "a" + strconv.FormatUint(a.ID-argFirst, 10)
	case KindBracket:
		return a.Bracket.String()
	case KindCall:
		return "@" + strconv.FormatUint(a.ID, 10)
	case KindFunction:
		return "fn" + strconv.FormatUint(a.ID, 10) + "/" + strconv.Itoa(a.Arity)
	case KindRunIn:
		switch a.ID {
		case RunInNamespace:
			return "in/"
		case RunInFrame:
			return "in^"
		}
		return "in" + strconv.FormatUint(a.ID-runInChild, 10)
	case KindImport:
		if a.ID == 0 {
			return "import " + strconv.Quote(a.Path)
		}
		return "import" + strconv.FormatUint(a.ID-1, 10) + " " + strconv.Quote(a.Path)
	case KindInput:
		return ioString("read", a.IO, a.Base)
	case KindOutput:
		return ioString("print", a.IO, a.Base)
	case KindExit:
		return "exit"
	case KindEOF:
		return "<eof>"
	}
	return a.Kind.String()
}

func ioString(verb string, kind IOKind, base int) string {
	switch kind {
	case IONumberBase:
		return verb + strconv.Itoa(base)
	case IOChar:
		return verb + "c"
	}
	return verb
}

// lineString joins the text form of a pending statement.
func lineString(actions []*Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, a.String())
		for _, op := range a.operands {
			if op.Ref != nil {
				parts = append(parts, "&v"+strconv.FormatUint(op.Ref.ID, 10))
				continue
			}
			parts = append(parts, value.Format(op.Value, 10))
		}
	}
	return strings.Join(parts, " ")
}

// Equal reports whether two actions encode identically. Bound operands are
// ignored.
func (a *Action) Equal(b *Action) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindOperator:
		return a.Op == b.Op && a.Extra == b.Extra
	case KindVariable:
		return a.Dynamic == b.Dynamic && (a.Dynamic || a.ID == b.ID)
	case KindInteger:
		return a.Num.Cmp(b.Num) == 0
	case KindFraction:
		return a.Num.Cmp(b.Num) == 0 && a.Den.Cmp(b.Den) == 0
	case KindBracket:
		return a.Bracket == b.Bracket
	case KindFunction:
		return a.ID == b.ID && a.Arity == b.Arity
	case KindImport:
		return a.ID == b.ID && a.Path == b.Path
	case KindInput, KindOutput:
		return a.IO == b.IO && (a.IO != IONumberBase || a.Base == b.Base)
	case KindExit, KindEOF:
		return true
	}
	return a.ID == b.ID
}
