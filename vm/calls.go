package vm

import (
	"github.com/chazu/bvm/pkg/value"
)

// declare records a function in the current namespace. A running engine
// skips the body; a flat engine validates it in place with zero arguments.
func (e *Engine) declare(a *Action) error {
	fn := &Function{ID: a.ID, Arity: a.Arity, Entry: e.src.Position(), Env: e.env()}
	if err := e.envs.putFunction(fn.Env, fn); err != nil {
		return err
	}
	if !e.cfg.Flat {
		_, _, err := e.skipTo([]BracketKind{bracketFunction}, false)
		return err
	}
	args := make([]value.Value, fn.Arity)
	for i := range args {
		args[i] = value.Zero()
	}
	e.pushFrame(&frame{
		kind:     frameCall,
		env:      e.envs.newFunctionRoot(fn, args),
		fn:       fn,
		validate: true,
	})
	return nil
}

// call suspends the pending statement and jumps into the function body.
func (e *Engine) call(a *Action) error {
	env := e.evalEnv()
	fn, ok := e.envs.function(env, a.ID)
	if !ok {
		return decodeErr(ErrUnknownFunction, "function %d", a.ID)
	}
	if len(e.calls) >= e.cfg.MaxCallDepth {
		return evalErr(ErrCallDepth, "%d nested calls", len(e.calls))
	}
	args := make([]value.Value, len(a.operands))
	for i, op := range a.operands {
		args[i] = op.Value
	}
	f := &frame{
		kind:       frameCall,
		env:        e.envs.newFunctionRoot(fn, args),
		fn:         fn,
		resume:     e.src.Position(),
		saved:      e.pending,
		savedStart: e.stmtStart,
	}
	e.pending = nil
	e.pushFrame(f)
	return e.jump(fn.Entry)
}

// returnFrom pops the innermost call frame, restores the caller and feeds
// it the function's RES.
func (e *Engine) returnFrom() error {
	f := e.frames[len(e.frames)-1]
	res := e.envs.res(f.env)
	e.popFrame()
	e.pending = f.saved
	e.stmtStart = f.savedStart
	if err := e.jump(f.resume); err != nil {
		return err
	}
	if err := e.route(Operand{Value: res}); err != nil {
		return err
	}
	return e.evaluate()
}
