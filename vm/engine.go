package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/bvm/pkg/value"
)

var logger = commonlog.GetLogger("bvm.vm")

// DefaultMaxCallDepth bounds nested function calls when Config leaves it unset.
const DefaultMaxCallDepth = 10000

// Observer is notified of every instruction the engine decodes outside of
// skips, and of every statement boundary.
type Observer interface {
	Decoded(a *Action, pos CodePosition, depth int)
	StatementEnd(pos CodePosition)
}

// Config controls an Engine.
type Config struct {
	// Flat validates the program instead of running it: no branching, no
	// loop repetition, every non-literal value is zero.
	Flat bool

	// Args are the executable's arguments. Flat engines zero-fill them.
	Args []value.Value

	Loader       Loader
	Console      Console
	WorkDir      string
	MaxCallDepth int
	Observer     Observer

	// Trace logs every decoded instruction at debug level.
	Trace bool
}

type frameKind uint8

const (
	frameIf frameKind = iota
	frameWhile
	frameDo
	frameCall
)

var frameNames = [...]string{"if", "while", "do", "call"}

func (k frameKind) String() string { return frameNames[k] }

// frame is one open bracket. Call frames also record where the caller
// resumes and the statement it was assembling.
type frame struct {
	kind  frameKind
	state BracketKind
	env   EnvHandle
	start CodePosition
	taken bool

	fn         *Function
	resume     CodePosition
	saved      []*Action
	savedStart CodePosition
	validate   bool
}

// importRecord is a suspended importer.
type importRecord struct {
	name        string
	resume      CodePosition
	wd          string
	bracketBase int
	env         EnvHandle
}

// Engine executes one program. It is single threaded: callers drive it with
// Step or Run and must stop at the first error.
type Engine struct {
	cfg   Config
	prog  *Program
	runID uuid.UUID

	envs   *envTree
	global EnvHandle

	envStack []EnvHandle
	frames   []*frame
	calls    []int // indices into frames
	imports  []*importRecord
	pending  []*Action

	sources []Source
	src     Source
	wd      string

	line      int
	steps     uint64
	pos       CodePosition // start of the instruction being handled
	stmtStart CodePosition

	done bool
	err  *Fatal
}

// New prepares prog for execution.
func New(prog *Program, cfg Config) (*Engine, error) {
	args := cfg.Args
	switch {
	case cfg.Flat:
		args = make([]value.Value, prog.ArgCount)
		for i := range args {
			args[i] = value.Zero()
		}
	case prog.Kind == ProgramLibrary && len(args) > 0:
		return nil, evalErr(ErrArgumentRange, "%s is a library and takes no arguments", prog.Name)
	case prog.Kind == ProgramExecutable && len(args) != prog.ArgCount:
		return nil, evalErr(ErrArgumentRange, "%s takes %d arguments, got %d", prog.Name, prog.ArgCount, len(args))
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	if cfg.Console == nil {
		cfg.Console = NewConsole(os.Stdin, os.Stdout)
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Dir(prog.Name)
	}

	e := &Engine{
		cfg:   cfg,
		prog:  prog,
		runID: uuid.New(),
		wd:    cfg.WorkDir,
	}
	e.envs, e.global = newEnvTree(args)
	e.envStack = []EnvHandle{e.global}
	e.src = prog.open(0)
	e.sources = []Source{e.src}
	e.pos = e.src.Position()
	return e, nil
}

// RunID identifies this run in logs and snapshots.
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Line returns the number of statements completed so far.
func (e *Engine) Line() int { return e.line }

// Result returns the RES slot of the global root.
func (e *Engine) Result() value.Value {
	return e.envs.res(e.global)
}

// Depths returns the sizes of the environment, bracket, import and pending
// stacks.
func (e *Engine) Depths() (envs, brackets, imports, pending int) {
	return len(e.envStack), len(e.frames), len(e.imports), len(e.pending)
}

// Run steps until the program ends, fails or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (value.Value, error) {
	for {
		if err := ctx.Err(); err != nil {
			e.Close()
			return nil, fmt.Errorf("run %s: %w", e.runID, err)
		}
		more, err := e.Step()
		if err != nil {
			return nil, err
		}
		if !more {
			return e.Result(), nil
		}
	}
}

// Step decodes and handles one instruction. It reports whether the program
// has more to run. Every returned error is a *Fatal.
func (e *Engine) Step() (bool, error) {
	if e.err != nil {
		return false, e.err
	}
	if e.done {
		return false, nil
	}
	if err := e.step(); err != nil {
		e.err = e.fail(err)
		e.Close()
		return false, e.err
	}
	if err := e.checkSync(); err != nil {
		e.err = e.fail(err)
		e.Close()
		return false, e.err
	}
	return !e.done, nil
}

// Close releases the program streams. It is called automatically when the
// program ends or fails.
func (e *Engine) Close() {
	e.done = true
	e.sources = nil
}

func (e *Engine) step() error {
	e.steps++
	e.pos = e.src.Position()
	if len(e.pending) == 0 {
		e.stmtStart = e.pos
	}
	a, err := e.src.Decode(e.fns(), e.topLevel())
	if err != nil {
		return err
	}
	if e.cfg.Trace {
		logger.Debugf("%s %s depth=%d %s", e.runID, e.pos, len(e.frames), a)
	}
	if e.cfg.Observer != nil {
		e.cfg.Observer.Decoded(a, e.pos, len(e.frames))
	}
	pos := e.pos
	if err := e.dispatch(a); err != nil {
		return err
	}
	if e.cfg.Observer != nil && len(e.pending) == 0 && a.Kind != KindEOF {
		e.cfg.Observer.StatementEnd(pos)
	}
	return nil
}

func (e *Engine) dispatch(a *Action) error {
	switch a.Kind {
	case KindEOF:
		return e.endOfFile()
	case KindExit:
		return e.exit()
	}

	if m := e.marker(); m != nil && len(e.pending) == 1 {
		switch {
		case a.Kind == KindRunIn:
			return e.runIn(a)
		case a.Kind == KindBracket && a.Bracket.Opens():
			return e.bracket(a)
		}
		return structuralErr(ErrMisplaced, "%s after %s", a, m)
	}

	switch a.Kind {
	case KindRunIn, KindBracket:
		if len(e.pending) > 0 {
			return structuralErr(ErrMisplaced, "%s inside %q", a, lineString(e.pending))
		}
		if a.Kind == KindRunIn {
			return e.runIn(a)
		}
		return e.bracket(a)
	case KindFunction:
		return e.declare(a)
	case KindImport:
		return e.importFile(a)
	}
	e.pending = append(e.pending, a)
	return e.evaluate()
}

// ---------------------------------------------------------------------------
// Stacks
// ---------------------------------------------------------------------------

// env returns the innermost entered environment.
func (e *Engine) env() EnvHandle {
	return e.envStack[len(e.envStack)-1]
}

// marker returns the resolved RunIn waiting for a bracket opener, if any.
func (e *Engine) marker() *Action {
	if len(e.pending) > 0 && e.pending[0].Kind == KindRunIn {
		return e.pending[0]
	}
	return nil
}

// evalEnv is the environment the pending statement evaluates in: the RunIn
// target when one is waiting, the current environment otherwise.
func (e *Engine) evalEnv() EnvHandle {
	if m := e.marker(); m != nil {
		return m.target
	}
	return e.env()
}

func (e *Engine) fns() FunctionTable {
	return functionTable{t: e.envs, h: e.evalEnv()}
}

// base is the bracket depth at which the current file started.
func (e *Engine) base() int {
	if n := len(e.imports); n > 0 {
		return e.imports[n-1].bracketBase
	}
	return 0
}

func (e *Engine) topLevel() bool {
	return len(e.pending) == 0 && len(e.frames) == e.base()
}

// topFrame returns the innermost frame opened by the current file.
func (e *Engine) topFrame() *frame {
	if len(e.frames) <= e.base() {
		return nil
	}
	return e.frames[len(e.frames)-1]
}

func (e *Engine) pushFrame(f *frame) {
	if f.kind == frameCall {
		e.calls = append(e.calls, len(e.frames))
	}
	e.frames = append(e.frames, f)
	e.envStack = append(e.envStack, f.env)
}

func (e *Engine) popFrame() *frame {
	n := len(e.frames) - 1
	f := e.frames[n]
	e.frames = e.frames[:n]
	e.envStack = e.envStack[:len(e.envStack)-1]
	if f.kind == frameCall {
		e.calls = e.calls[:len(e.calls)-1]
		e.envs.release(f.env)
	}
	return f
}

// unwind pops frames until n remain.
func (e *Engine) unwind(n int) {
	for len(e.frames) > n {
		e.popFrame()
	}
}

// jump moves decoding to pos, switching streams if needed.
func (e *Engine) jump(pos CodePosition) error {
	if pos.Stream < 0 || pos.Stream >= len(e.sources) {
		return ioErr(nil, "jump to closed stream %s", pos)
	}
	e.src = e.sources[pos.Stream]
	return e.src.Seek(pos)
}

// checkSync verifies that every environment entered is owned by exactly one
// bracket frame, import or the global root.
func (e *Engine) checkSync() error {
	if e.done {
		return nil
	}
	if len(e.envStack) != len(e.frames)+len(e.imports)+1 {
		return structuralErr(nil, "stack desync: %d environments, %d brackets, %d imports",
			len(e.envStack), len(e.frames), len(e.imports))
	}
	want := e.global
	switch {
	case len(e.frames) > e.base():
		want = e.frames[len(e.frames)-1].env
	case len(e.imports) > 0:
		want = e.imports[len(e.imports)-1].env
	}
	if e.env() != want {
		return structuralErr(nil, "stack desync: current environment %d, innermost owner %d", e.env(), want)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statement evaluation
// ---------------------------------------------------------------------------

// evaluate resolves complete instructions from the top of the pending stack
// until one still needs operands, the statement ends or a call suspends it.
func (e *Engine) evaluate() error {
	for len(e.pending) > 0 {
		top := e.pending[len(e.pending)-1]
		if top.Kind == KindRunIn || top.Missing() > 0 {
			return nil
		}
		e.pending = e.pending[:len(e.pending)-1]

		switch {
		case top.Kind == KindBracket:
			return e.condition(top)
		case top.Kind == KindCall && !e.cfg.Flat:
			return e.call(top)
		}

		op, err := e.resolve(top)
		if err != nil {
			return err
		}
		if err := e.route(op); err != nil {
			return err
		}
	}
	return nil
}

// route hands a produced operand to the next pending instruction, or ends
// the statement.
func (e *Engine) route(op Operand) error {
	if len(e.pending) == 0 {
		e.envs.setRes(e.env(), op.Value)
		e.line++
		return nil
	}
	next := e.pending[len(e.pending)-1]
	if isStore(next) && len(next.operands) == 0 && op.Ref == nil {
		return evalErr(ErrNotAssignable, "%s needs a variable", next)
	}
	return next.Push(op)
}

func isStore(a *Action) bool {
	if a.Kind != KindOperator {
		return false
	}
	op, ok := value.Lookup(a.Op)
	return ok && op.Store
}

// resolve turns a complete instruction into an operand.
func (e *Engine) resolve(a *Action) (Operand, error) {
	env := e.evalEnv()
	flat := e.cfg.Flat
	zero := Operand{Value: value.Zero()}

	switch a.Kind {
	case KindInteger, KindFraction:
		return Operand{Value: a.Literal()}, nil

	case KindVariable:
		id := a.ID
		if a.Dynamic {
			n, ok := a.operands[0].Value.(value.Number)
			if !ok {
				return Operand{}, evalErr(ErrVariableID, "%s", value.Format(a.operands[0].Value, 10))
			}
			if id, ok = n.Uint64(); !ok {
				return Operand{}, evalErr(ErrVariableID, "%s", n)
			}
		}
		if n := len(e.pending); n > 0 && isStore(e.pending[n-1]) && len(e.pending[n-1].operands) == 0 {
			return Operand{Ref: &VarRef{Env: env, ID: id}}, nil
		}
		if flat {
			return zero, nil
		}
		return Operand{Value: e.envs.getVar(env, id)}, nil

	case KindArgument:
		switch a.ID {
		case ArgRes:
			if flat {
				return zero, nil
			}
			return Operand{Value: e.envs.res(env)}, nil
		case ArgCount:
			if flat {
				return zero, nil
			}
			return Operand{Value: value.Int(int64(e.envs.argCount(env)))}, nil
		}
		v, err := e.envs.arg(env, a.ID-argFirst)
		if err != nil || flat {
			return zero, err
		}
		return Operand{Value: v}, nil

	case KindOperator:
		return e.applyOperator(a, env)

	case KindCall:
		return zero, nil

	case KindInput:
		if flat {
			return zero, nil
		}
		v, err := e.cfg.Console.Read(a.IO, a.Base)
		if err != nil {
			return Operand{}, ioErr(err, "read")
		}
		return Operand{Value: v}, nil

	case KindOutput:
		v := a.operands[0].Value
		if flat {
			return zero, nil
		}
		if err := e.cfg.Console.Write(v, a.IO, a.Base); err != nil {
			if f, ok := err.(*Fatal); ok {
				return Operand{}, f
			}
			return Operand{}, ioErr(err, "write")
		}
		return Operand{Value: v}, nil
	}
	return Operand{}, structuralErr(ErrMisplaced, "%s cannot produce a value", a)
}

func (e *Engine) applyOperator(a *Action, env EnvHandle) (Operand, error) {
	op, _ := value.Lookup(a.Op)
	args := make([]value.Value, len(a.operands))
	var ref *VarRef
	for i, o := range a.operands {
		if o.Ref != nil {
			ref = o.Ref
			args[i] = e.envs.getVar(o.Ref.Env, o.Ref.ID)
			continue
		}
		args[i] = o.Value
	}
	if e.cfg.Flat {
		return Operand{Value: value.Zero()}, nil
	}
	v, err := op.Apply(args)
	if err != nil {
		return Operand{}, evalErr(fmt.Errorf("%w: %w", ErrOperator, err), "%s", lineString(append(e.pending, a)))
	}
	if op.Store && ref != nil {
		e.envs.putVar(ref.Env, ref.ID, v)
	}
	return Operand{Value: v}, nil
}

// runIn resolves a RunIn against the current environment, or against the
// previous RunIn of the same statement.
func (e *Engine) runIn(a *Action) error {
	m := e.marker()
	from := e.env()
	if m != nil {
		from = m.target
	}
	var to EnvHandle
	switch a.ID {
	case RunInNamespace:
		to = e.envs.namespaceRoot(from)
	case RunInFrame:
		to = e.envs.frameRoot(from)
	default:
		to = e.envs.child(from, a.ID-runInChild)
	}
	if m != nil {
		m.target = to
		return nil
	}
	a.target = to
	e.pending = append(e.pending, a)
	return nil
}

// ---------------------------------------------------------------------------
// Program end
// ---------------------------------------------------------------------------

func (e *Engine) checkNoPending(what string) error {
	if m := e.marker(); m != nil {
		return structuralErr(ErrMisplaced, "%s after %s", what, m)
	}
	if len(e.pending) > 0 {
		return evalErr(ErrMissingOperand, "%s before %q was complete", what, lineString(e.pending))
	}
	return nil
}

func (e *Engine) endOfFile() error {
	if err := e.checkNoPending("end of file"); err != nil {
		return err
	}
	if open := len(e.frames) - e.base(); open > 0 {
		f := e.frames[len(e.frames)-1]
		return structuralErr(ErrUnterminated, "%d open at end of %s, innermost %s", open, e.src.Name(), f.kind)
	}
	if len(e.imports) > 0 {
		return e.popImport()
	}
	e.finish()
	return nil
}

// exit returns from the innermost function, else leaves the current import,
// else ends the program.
func (e *Engine) exit() error {
	if len(e.pending) > 0 {
		return structuralErr(ErrMisplaced, "exit inside %q", lineString(e.pending))
	}
	if e.cfg.Flat {
		return nil
	}
	base := e.base()
	if n := len(e.calls); n > 0 && e.calls[n-1] >= base {
		e.unwind(e.calls[n-1] + 1)
		return e.returnFrom()
	}
	e.unwind(base)
	if len(e.imports) > 0 {
		return e.popImport()
	}
	e.finish()
	return nil
}

func (e *Engine) finish() {
	logger.Debugf("%s finished %s after %d statements", e.runID, e.prog.Name, e.line)
	e.Close()
}
