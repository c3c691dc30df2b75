package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/bvm/pkg/bitstream"
	"github.com/chazu/bvm/pkg/value"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// mapLoader serves imports from memory. Program names are "/" + path.
type mapLoader map[string]string

func (l mapLoader) Open(wd, path string) (*Program, error) {
	src, ok := l[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", path)
	}
	return ParseProgram("/"+path, []byte(src))
}

// countingObserver records every decoded instruction.
type countingObserver struct {
	decoded []*Action
	ends    int
}

func (o *countingObserver) Decoded(a *Action, pos CodePosition, depth int) {
	o.decoded = append(o.decoded, a)
}

func (o *countingObserver) StatementEnd(pos CodePosition) { o.ends++ }

type run struct {
	e   *Engine
	out *bytes.Buffer
	err error
}

// runScript runs a script body, asserting the stack invariant after every
// step.
func runScript(t *testing.T, body string, cfg Config, args ...value.Value) run {
	t.Helper()
	header := ScriptHeader(ProgramLibrary, 0)
	if len(args) > 0 {
		header = ScriptHeader(ProgramExecutable, len(args))
	}
	prog, err := ParseProgram("/main.bvm", []byte(header+body))
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	return runProgram(t, prog, cfg, args...)
}

func runProgram(t *testing.T, prog *Program, cfg Config, args ...value.Value) run {
	t.Helper()
	out := &bytes.Buffer{}
	if cfg.Console == nil {
		cfg.Console = NewConsole(strings.NewReader(""), out)
	}
	if !cfg.Flat {
		cfg.Args = args
	}
	e, err := New(prog, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 100000; i++ {
		more, err := e.Step()
		if err != nil {
			return run{e, out, err}
		}
		envs, brackets, imports, _ := e.Depths()
		if envs != brackets+imports+1 {
			t.Fatalf("step %d: %d environments, %d brackets, %d imports", i, envs, brackets, imports)
		}
		if !more {
			return run{e, out, nil}
		}
	}
	t.Fatalf("program did not finish")
	return run{}
}

func mustRun(t *testing.T, body string, cfg Config, args ...value.Value) run {
	t.Helper()
	r := runScript(t, body, cfg, args...)
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	return r
}

func lines(vals ...int) string {
	var b strings.Builder
	for _, v := range vals {
		fmt.Fprintf(&b, "%d\n", v)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func TestStatementAssembly(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"literal", "print 42", lines(42)},
		{"nested operators", "print add 2 mul 3 4", lines(14)},
		{"store then read", "put v1 add 2 3\nprint v1", lines(5)},
		{"inc", "put v1 9 inc v1 print v1", lines(10)},
		{"addto", "put v2 1 addto v2 41 print v2", lines(42)},
		{"dynamic variable", "put v? 3 4\nprint v3", lines(4)},
		{"fraction", "print add 1/2 1/3", "5/6\n"},
		{"n-ary", "print sum/4 1 2 3 4", lines(10)},
		{"set", "print card set/3 1 1 2", lines(2)},
		{"print in base", "print16 255", "ff\n"},
		{"printc", "printc 104 printc 105", "hi"},
		{"unset variable is zero", "print v7", lines(0)},
		{"comments", "; leading\nprint 1 ; trailing\n", lines(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRun(t, tt.body, Config{})
			if got := r.out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResultIsLastStatement(t *testing.T) {
	r := mustRun(t, "add 1 1\nmul 6 7\n", Config{})
	if !value.Equal(r.e.Result(), value.Int(42)) {
		t.Errorf("Result = %s, want 42", r.e.Result())
	}
	if r.e.Line() != 2 {
		t.Errorf("Line = %d, want 2", r.e.Line())
	}
}

func TestStoreNeedsVariable(t *testing.T) {
	r := runScript(t, "put 3 4", Config{})
	if !errors.Is(r.err, ErrEvaluation) || !errors.Is(r.err, ErrNotAssignable) {
		t.Fatalf("err = %v, want not assignable", r.err)
	}
}

func TestMissingOperandAtEOF(t *testing.T) {
	r := runScript(t, "print add 1", Config{})
	if !errors.Is(r.err, ErrEvaluation) || !errors.Is(r.err, ErrMissingOperand) {
		t.Fatalf("err = %v, want missing operand", r.err)
	}
	var f *Fatal
	if !errors.As(r.err, &f) {
		t.Fatalf("err is %T, want *Fatal", r.err)
	}
	if !strings.Contains(f.Pending, "add") {
		t.Errorf("Pending = %q, want the partial statement", f.Pending)
	}
}

func TestOperatorErrorCarriesCause(t *testing.T) {
	r := runScript(t, "print div 1 0", Config{})
	if !errors.Is(r.err, ErrOperator) || !errors.Is(r.err, value.ErrDivisionByZero) {
		t.Fatalf("err = %v, want division by zero", r.err)
	}
}

// ---------------------------------------------------------------------------
// Brackets
// ---------------------------------------------------------------------------

func TestConditionals(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"if taken", "IF= 1 1\n print 1\nEND\nprint 9", lines(1, 9)},
		{"if not taken", "IF! 1 1\n print 1\nEND\nprint 9", lines(9)},
		{"else", "IF= 1 2\n print 10\nELSE\n print 20\nEND", lines(20)},
		{"then skips else", "IF= 2 2\n print 10\nELSE\n print 20\nEND", lines(10)},
		{"elif chain", `put v1 2
IF= v1 1
  print 1
ELIF= v1 2
  print 2
ELIF= v1 2
  print 3
ELSE
  print 4
END`, lines(2)},
		{"elif falls to else", "IF= 0 1\n print 1\nELIF! 0 0\n print 2\nELSE\n print 3\nEND", lines(3)},
		{"nested in skipped branch", `IF= 0 1
  IF= 1 1
    print 1
  ELSE
    print 2
  END
  WHILE= 0 0
  END
ELSE
  print 3
END`, lines(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRun(t, tt.body, Config{})
			if got := r.out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSkippedBranchIsNotDecoded(t *testing.T) {
	obs := &countingObserver{}
	r := mustRun(t, "IF= 0 1\n print 111\n put v1 222\nELSE\n print 333\nEND", Config{Observer: obs})
	if got := r.out.String(); got != lines(333) {
		t.Fatalf("output = %q", got)
	}
	for _, a := range obs.decoded {
		if a.Kind == KindInteger && (a.Num.Int64() == 111 || a.Num.Int64() == 222) {
			t.Errorf("decoded %s from the skipped branch", a)
		}
	}
}

func TestLoops(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"while", "put v1 3\nWHILE! v1 0\n print v1\n dec v1\nEND", lines(3, 2, 1)},
		{"while never entered", "WHILE= 1 0\n print 1\nEND\nprint 2", lines(2)},
		{"do-while", "put v1 3\nput v2 0\nDO\n inc v2\n dec v1\nENDWHILE! v1 0\nprint v2", lines(3)},
		{"do-while runs once", "DO\n print 7\nENDWHILE= 0 1", lines(7)},
		{"break out of do", "put v1 0\nDO\n inc v1\n IF= v1 5\n  BREAK\n END\nEND\nprint v1", lines(5)},
		{"break skips endwhile operands", "DO\n inc v1\n BREAK\nENDWHILE! add v1 1 0\nprint v1", lines(1)},
		{"break inner loop only", `put v1 0
put v3 0
WHILE! v1 2
  inc v1
  DO
    inc v3
    BREAK
  END
END
print v3`, lines(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRun(t, tt.body, Config{})
			if got := r.out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDoWhileBodyCount(t *testing.T) {
	obs := &countingObserver{}
	mustRun(t, "put v1 3\nDO\n dec v1\nENDWHILE! v1 0", Config{Observer: obs})
	n := 0
	for _, a := range obs.decoded {
		if a.Kind == KindOperator && a.Op == value.OpDec {
			n++
		}
	}
	if n != 3 {
		t.Errorf("body ran %d times, want 3", n)
	}
}

func TestBracketErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		class error
		cause error
	}{
		{"else without if", "ELSE", ErrStructural, ErrBracketMismatch},
		{"end without bracket", "END", ErrStructural, ErrBracketMismatch},
		{"else in loop", "DO\nELSE\nEND", ErrStructural, ErrBracketMismatch},
		{"else twice", "IF= 1 1\nELSE\nELSE\nEND", ErrStructural, ErrBracketMismatch},
		{"endwhile closes while", "WHILE= 1 1\nENDWHILE= 1 1", ErrStructural, ErrBracketMismatch},
		{"unterminated if", "IF= 1 1\nprint 1", ErrStructural, ErrUnterminated},
		{"unterminated skip", "IF= 1 0\nprint 1", ErrStructural, ErrUnterminated},
		{"break outside loop", "IF= 1 1\nBREAK\nEND", ErrStructural, ErrMisplaced},
		{"bracket as operand", "print IF= 1 1", ErrStructural, ErrMisplaced},
		{"runin before statement", "in3 print 1", ErrStructural, ErrMisplaced},
		{"bad header", "frobnicate", ErrDecode, ErrBadHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runScript(t, tt.body, Config{})
			if !errors.Is(r.err, tt.class) || !errors.Is(r.err, tt.cause) {
				t.Fatalf("err = %v, want %v / %v", r.err, tt.class, tt.cause)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Environments
// ---------------------------------------------------------------------------

func TestRunInChildScope(t *testing.T) {
	body := `put v1 5
in3 IF= 1 1
  print v1
  put v1 7
  print v1
END
print v1
in3 DO
  print v1
  BREAK
END
in3 in/ DO
  print v1
  BREAK
END`
	r := mustRun(t, body, Config{})
	if got, want := r.out.String(), lines(5, 7, 5, 7, 5); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunInConditionUsesTarget(t *testing.T) {
	body := `in2 DO
  put v1 3
  BREAK
END
in2 WHILE! v1 0
  dec v1
  inc v9
END
print v9
print v1`
	r := mustRun(t, body, Config{})
	// v9 and v1 live in child 2; the root sees neither.
	if got, want := r.out.String(), lines(0, 0); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

const sumFn = "fn1/2\n add a0 a1\nEND\n"

func TestFunctionCall(t *testing.T) {
	r := mustRun(t, sumFn+"print @1 3 4", Config{})
	if got := r.out.String(); got != lines(7) {
		t.Errorf("output = %q, want 7", got)
	}
}

func TestFunctionResumesCaller(t *testing.T) {
	r := mustRun(t, sumFn+"print mul 2 @1 3 4\nprint 1", Config{})
	if got, want := r.out.String(), lines(14, 1); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if _, brackets, _, pending := r.e.Depths(); brackets != 0 || pending != 0 {
		t.Errorf("left %d brackets and %d pending", brackets, pending)
	}
}

func TestFunctionLocalsAndRecursion(t *testing.T) {
	body := `fn4/1
  put v1 1
  IF! a0 0
    put v1 mul a0 @4 sub a0 1
  END
  v1
END
put v1 99
print @4 5
print v1`
	r := mustRun(t, body, Config{})
	if got, want := r.out.String(), lines(120, 99); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if live := r.e.envs.live(); live != 1 {
		t.Errorf("%d environments live after the calls returned, want 1", live)
	}
}

func TestFunctionReadsDeclaringScope(t *testing.T) {
	r := mustRun(t, "fn1/0\n v5\nEND\nput v5 8\nprint @1\nprint ARGC", Config{})
	if got, want := r.out.String(), lines(8, 0); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestExit(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"top level", "print 1\nexit\nprint 2", lines(1)},
		{"from function", "fn1/0\n 5\n IF= 1 1\n  exit\n END\n 6\nEND\nprint @1\nprint 3", lines(5, 3)},
		{"inside loop", "DO\n print 1\n exit\nEND\nprint 2", lines(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRun(t, tt.body, Config{})
			if got := r.out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFunctionErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		cfg   Config
		class error
		cause error
	}{
		{"duplicate", "fn1/0\nEND\nfn1/1\nEND", Config{}, ErrStructural, ErrDuplicateFunction},
		{"declared in bracket", "IF= 1 1\nfn1/0\nEND\nEND", Config{}, ErrDecode, ErrNotTopLevel},
		{"declared in body", "fn1/0\nfn2/0\nEND\nEND", Config{}, ErrDecode, ErrNotTopLevel},
		{"undeclared", "print @3", Config{}, ErrDecode, ErrUnknownFunction},
		{"argument range", "fn1/1\n a1\nEND\nprint @1 0", Config{}, ErrEvaluation, ErrArgumentRange},
		{"depth", "fn1/0\n @1\nEND\n@1", Config{MaxCallDepth: 50}, ErrEvaluation, ErrCallDepth},
		{"break across call", "fn1/0\n BREAK\nEND\nDO\n @1\nEND", Config{}, ErrStructural, ErrMisplaced},
		{"unterminated body", "fn1/0\n 1", Config{}, ErrStructural, ErrUnterminated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runScript(t, tt.body, tt.cfg)
			if !errors.Is(r.err, tt.class) || !errors.Is(r.err, tt.cause) {
				t.Fatalf("err = %v, want %v / %v", r.err, tt.class, tt.cause)
			}
		})
	}
}

func TestProgramArguments(t *testing.T) {
	r := mustRun(t, "print a0\nprint ARGC", Config{}, value.Int(5))
	if got, want := r.out.String(), lines(5, 1); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	r = runScript(t, "print a1", Config{}, value.Int(5))
	if !errors.Is(r.err, ErrArgumentRange) {
		t.Errorf("err = %v, want argument range", r.err)
	}
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

func TestImportIncludeSharesFunctions(t *testing.T) {
	loader := mapLoader{"lib.bvm": "#bvm\nfn1/1\n mul a0 2\nEND\n"}
	r := mustRun(t, "import \"lib.bvm\"\nprint @1 21", Config{Loader: loader})
	if got := r.out.String(); got != lines(42) {
		t.Errorf("output = %q, want 42", got)
	}
}

func TestImportNamespaceIsolation(t *testing.T) {
	loader := mapLoader{"lib.bvm": "#bvm\nput v1 9\nprint v1\n"}
	body := `put v1 1
import0 "lib.bvm"
print v1
in0 DO
  print v1
  BREAK
END`
	r := mustRun(t, body, Config{Loader: loader})
	if got, want := r.out.String(), lines(9, 1, 9); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestImportIntoPlainChild(t *testing.T) {
	loader := mapLoader{"lib.bvm": "#bvm\n"}
	r := runScript(t, "in0 DO\n BREAK\nEND\nimport0 \"lib.bvm\"", Config{Loader: loader})
	if !errors.Is(r.err, ErrMisplaced) {
		t.Fatalf("err = %v, want misplaced import", r.err)
	}
}

func TestCyclicImport(t *testing.T) {
	loader := mapLoader{
		"a.bvm": "#bvm\nimport \"b.bvm\"\n",
		"b.bvm": "#bvm\nimport \"a.bvm\"\n",
	}
	r := runScript(t, "import \"a.bvm\"", Config{Loader: loader})
	if !errors.Is(r.err, ErrStructural) || !errors.Is(r.err, ErrCyclicImport) {
		t.Fatalf("err = %v, want cyclic import", r.err)
	}

	loader = mapLoader{"self.bvm": "#bvm\nimport \"main.bvm\"\n", "main.bvm": "#bvm\n"}
	r = runScript(t, "import \"self.bvm\"", Config{Loader: loader})
	if !errors.Is(r.err, ErrCyclicImport) {
		t.Fatalf("err = %v, want cyclic import through the main program", r.err)
	}
}

func TestImportErrors(t *testing.T) {
	r := runScript(t, "import \"missing.bvm\"", Config{Loader: mapLoader{}})
	if !errors.Is(r.err, ErrIO) {
		t.Errorf("missing import: err = %v, want i/o error", r.err)
	}
	loader := mapLoader{"open.bvm": "#bvm\nDO\n"}
	r = runScript(t, "import \"open.bvm\"", Config{Loader: loader})
	if !errors.Is(r.err, ErrUnterminated) {
		t.Errorf("open bracket in import: err = %v, want unterminated", r.err)
	}
	loader = mapLoader{"end.bvm": "#bvm\nEND\n"}
	r = runScript(t, "DO\nimport \"end.bvm\"\nEND", Config{Loader: loader})
	if r.err == nil {
		t.Errorf("import inside a bracket succeeded")
	}
}

// failingLoader fails every Open the way a loader that compiles scripts
// does: with a Fatal from another engine, wrapped with the file name.
type failingLoader struct{ inner *Fatal }

func (l failingLoader) Open(wd, path string) (*Program, error) {
	return nil, fmt.Errorf("/%s: %w", path, l.inner)
}

func TestImportFailureKeepsImporterContext(t *testing.T) {
	inner := structuralErr(ErrUnterminated, "DO never closed")
	inner.Snapshot = &Snapshot{Program: "/lib.bvm"}
	r := runScript(t, "print 1\nimport \"lib.bvm\"", Config{Loader: failingLoader{inner}})

	if !errors.Is(r.err, ErrStructural) || !errors.Is(r.err, ErrUnterminated) {
		t.Fatalf("err = %v, want structural unterminated", r.err)
	}
	var f *Fatal
	if !errors.As(r.err, &f) {
		t.Fatalf("err %T is not a Fatal", r.err)
	}
	if f == inner {
		t.Fatal("inner Fatal escaped unchanged")
	}
	if f.Snapshot == nil || f.Snapshot.Program != "/main.bvm" {
		t.Errorf("snapshot = %+v, want the importer's", f.Snapshot)
	}
	if f.Line != 1 {
		t.Errorf("line = %d, want 1", f.Line)
	}
	if msg := f.Error(); !strings.Contains(msg, "/lib.bvm:") || !strings.Contains(msg, "import") {
		t.Errorf("message %q lost the import context", msg)
	}
}

func TestExitEndsImportOnly(t *testing.T) {
	loader := mapLoader{"lib.bvm": "#bvm\nprint 1\nexit\nprint 2\n"}
	r := mustRun(t, "import \"lib.bvm\"\nprint 3", Config{Loader: loader})
	if got, want := r.out.String(), lines(1, 3); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Flat mode
// ---------------------------------------------------------------------------

func TestFlatDecodesEverythingOnce(t *testing.T) {
	body := `DO
  print 1
END
WHILE= 0 0
  BREAK
END
IF= 0 1
  print 2
ELSE
  exit
END
fn1/1
  a0
END
print @1 5
`
	obs := &countingObserver{}
	r := mustRun(t, body, Config{Flat: true, Observer: obs})
	if r.out.Len() != 0 {
		t.Errorf("flat run printed %q", r.out.String())
	}
	tokens := len(strings.Fields(body))
	if got := len(obs.decoded); got != tokens+1 {
		t.Errorf("decoded %d instructions, want %d plus EOF", got, tokens)
	}
}

func TestFlatStillValidates(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		cause error
	}{
		{"mismatch", "DO\nENDWHILE= 1 1\nELSE", ErrBracketMismatch},
		{"argument range", "fn1/1\n a3\nEND", ErrArgumentRange},
		{"undeclared", "@9", ErrUnknownFunction},
		{"store target", "inc 4", ErrNotAssignable},
		{"break outside loop", "print 1\nBREAK", ErrMisplaced},
		{"break in function body", "fn1/0\n BREAK\nEND\nDO\n @1\nEND", ErrMisplaced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runScript(t, tt.body, Config{Flat: true})
			if !errors.Is(r.err, tt.cause) {
				t.Fatalf("err = %v, want %v", r.err, tt.cause)
			}
		})
	}
}

func TestFlatDoesNotReadInput(t *testing.T) {
	console := NewConsole(strings.NewReader(""), &bytes.Buffer{})
	mustRun(t, "print read", Config{Flat: true, Console: console})
}

// ---------------------------------------------------------------------------
// Bytecode programs, snapshots and cancellation
// ---------------------------------------------------------------------------

func TestBytecodeProgram(t *testing.T) {
	src := "#bvm:1\n" + sumFn + "print @1 a0 4\n"
	text, err := ParseProgram("/sum.bvm", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	bin, err := ParseProgram("/sum.bvx", assemble(t, text))
	if err != nil {
		t.Fatal(err)
	}
	if bin.Text || bin.Kind != ProgramExecutable || bin.ArgCount != 1 {
		t.Fatalf("parsed header: text=%v kind=%v args=%d", bin.Text, bin.Kind, bin.ArgCount)
	}
	r := runProgram(t, bin, Config{}, value.Int(3))
	if r.err != nil {
		t.Fatal(r.err)
	}
	if got := r.out.String(); got != lines(7) {
		t.Errorf("output = %q, want 7", got)
	}
}

// assemble converts a script to bytecode by observing a flat run.
func assemble(t *testing.T, prog *Program) []byte {
	t.Helper()
	obs := &countingObserver{}
	e, err := New(prog, Config{Flat: true, Observer: obs})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	w := bitstream.NewWriter()
	WriteHeader(w, prog.Kind, prog.ArgCount)
	for _, a := range obs.decoded {
		EncodeBits(w, a)
	}
	return w.Bytes()
}

func TestFatalSnapshot(t *testing.T) {
	r := runScript(t, "put v1 4\nDO\n print div v1 0\nEND", Config{})
	var f *Fatal
	if !errors.As(r.err, &f) {
		t.Fatalf("err = %v, want *Fatal", r.err)
	}
	if f.Snapshot == nil || f.Snapshot.Line != 1 || len(f.Snapshot.Brackets) != 1 {
		t.Fatalf("snapshot = %+v", f.Snapshot)
	}
	data, err := MarshalSnapshot(f.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.RunID != r.e.RunID().String() || back.Pending != f.Snapshot.Pending || back.Error == "" {
		t.Errorf("round trip = %+v", back)
	}
	if back.Envs[0].Vars[1] != "4" {
		t.Errorf("global v1 = %q, want 4", back.Envs[0].Vars[1])
	}
	// The engine stays failed.
	if _, err := r.e.Step(); err != f {
		t.Errorf("Step after failure = %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	prog, err := ParseProgram("/loop.bvm", []byte("#bvm\nDO\nEND\n"))
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(prog, Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewChecksArguments(t *testing.T) {
	lib, _ := ParseProgram("/lib.bvm", []byte("#bvm\n"))
	if _, err := New(lib, Config{Args: []value.Value{value.Int(1)}}); !errors.Is(err, ErrArgumentRange) {
		t.Errorf("library with arguments: err = %v", err)
	}
	exe, _ := ParseProgram("/exe.bvm", []byte("#bvm:2\n"))
	if _, err := New(exe, Config{}); !errors.Is(err, ErrArgumentRange) {
		t.Errorf("executable without arguments: err = %v", err)
	}
	if _, err := New(exe, Config{Flat: true}); err != nil {
		t.Errorf("flat executable: err = %v", err)
	}
}
