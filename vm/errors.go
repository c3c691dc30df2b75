package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every Fatal matches exactly one of these with errors.Is.
var (
	ErrDecode     = errors.New("decode error")
	ErrStructural = errors.New("structural error")
	ErrEvaluation = errors.New("evaluation error")
	ErrIO         = errors.New("i/o error")
)

// Specific causes.
var (
	ErrBadHeader         = errors.New("unrecognized instruction header")
	ErrMalformed         = errors.New("malformed instruction payload")
	ErrNotTopLevel       = errors.New("declaration inside an open bracket")
	ErrUnknownFunction   = errors.New("call to undeclared function")
	ErrBadProgram        = errors.New("unrecognized program header")
	ErrBracketMismatch   = errors.New("bracket mismatch")
	ErrUnterminated      = errors.New("unterminated bracket")
	ErrCyclicImport      = errors.New("cyclic import")
	ErrDuplicateFunction = errors.New("duplicate function id")
	ErrMisplaced         = errors.New("instruction not allowed here")
	ErrMissingOperand    = errors.New("missing required operand")
	ErrTooManyOperands   = errors.New("operand pushed to a full instruction")
	ErrArgumentRange     = errors.New("argument id out of range")
	ErrNotAssignable     = errors.New("store target is not a variable")
	ErrVariableID        = errors.New("variable id is not a non-negative integer")
	ErrCallDepth         = errors.New("call depth exceeded")
	ErrOperator          = errors.New("operator failed")
)

// Fatal is the only error type that escapes the engine. It carries the class
// of failure, the underlying cause and the execution context at the time of
// failure. Fatal errors are never retried; the run must stop.
type Fatal struct {
	Class error
	Cause error
	Msg   string

	Line     int          // statements completed before the failure
	Pending  string       // the statement being assembled
	Pos      CodePosition // where decoding stood
	Snapshot *Snapshot
}

func (f *Fatal) Error() string {
	var b strings.Builder
	b.WriteString(f.Class.Error())
	if f.Msg != "" {
		b.WriteString(": ")
		b.WriteString(f.Msg)
	}
	if f.Cause != nil && !strings.Contains(f.Msg, f.Cause.Error()) {
		b.WriteString(": ")
		b.WriteString(f.Cause.Error())
	}
	if f.Snapshot != nil {
		fmt.Fprintf(&b, " (line %d at %s", f.Line, f.Pos)
		if f.Pending != "" {
			fmt.Fprintf(&b, ", in %q", f.Pending)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes both the class and the cause to errors.Is and errors.As.
func (f *Fatal) Unwrap() []error {
	if f.Cause == nil {
		return []error{f.Class}
	}
	return []error{f.Class, f.Cause}
}

func newFatal(class, cause error, format string, args ...any) *Fatal {
	return &Fatal{Class: class, Cause: cause, Msg: fmt.Sprintf(format, args...)}
}

func decodeErr(cause error, format string, args ...any) *Fatal {
	return newFatal(ErrDecode, cause, format, args...)
}

func structuralErr(cause error, format string, args ...any) *Fatal {
	return newFatal(ErrStructural, cause, format, args...)
}

func evalErr(cause error, format string, args ...any) *Fatal {
	return newFatal(ErrEvaluation, cause, format, args...)
}

func ioErr(cause error, format string, args ...any) *Fatal {
	return newFatal(ErrIO, cause, format, args...)
}

// asFatal converts any error to a Fatal, defaulting to the evaluation class.
func asFatal(err error) *Fatal {
	var f *Fatal
	if errors.As(err, &f) {
		return f
	}
	return &Fatal{Class: ErrEvaluation, Cause: err}
}
