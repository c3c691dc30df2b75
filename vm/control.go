package vm

import (
	"github.com/chazu/bvm/pkg/value"
)

// bracketFunction stands for a function declaration on a skip stack.
const bracketFunction = bracketKinds

// bracket handles a marker decoded at the start of a statement. Conditional
// markers are queued until their operands arrive.
func (e *Engine) bracket(a *Action) error {
	top := e.topFrame()
	switch b := a.Bracket; b {
	case BracketDo:
		target := e.takeMarker()
		e.pushFrame(&frame{kind: frameDo, state: b, env: target, start: e.src.Position()})
		return nil

	case BracketElse, BracketElifEq, BracketElifNe:
		if top == nil || top.kind != frameIf || top.state == BracketElse {
			return e.mismatch(a, top)
		}
		if top.taken && !e.cfg.Flat {
			// A branch already ran: skip the rest of the chain.
			if _, _, err := e.skipTo([]BracketKind{b}, false); err != nil {
				return err
			}
			e.popFrame()
			return nil
		}
		if b == BracketElse {
			top.state, top.taken = b, true
			return nil
		}

	case BracketEnd:
		if top == nil {
			return e.mismatch(a, top)
		}
		return e.closeFrame(top)

	case BracketEndWhileEq, BracketEndWhileNe:
		if top == nil || top.kind != frameDo {
			return e.mismatch(a, top)
		}

	case BracketBreak:
		return e.breakLoop(a)
	}

	e.pending = append(e.pending, a)
	return nil
}

// takeMarker pops a waiting RunIn and returns its target, or the current
// environment when there is none.
func (e *Engine) takeMarker() EnvHandle {
	if n := len(e.pending); n > 0 && e.pending[n-1].Kind == KindRunIn {
		m := e.pending[n-1]
		e.pending = e.pending[:n-1]
		return m.target
	}
	return e.env()
}

func (e *Engine) mismatch(a *Action, top *frame) error {
	if top == nil {
		return structuralErr(ErrBracketMismatch, "%s with no open bracket", a)
	}
	return structuralErr(ErrBracketMismatch, "%s inside %s", a, top.kind)
}

// condition runs a conditional marker whose two operands are bound.
func (e *Engine) condition(a *Action) error {
	ops := a.Operands()
	holds := value.Equal(ops[0].Value, ops[1].Value) == a.Bracket.wantEqual()
	flat := e.cfg.Flat

	switch b := a.Bracket; b {
	case BracketIfEq, BracketIfNe:
		f := &frame{kind: frameIf, state: b, env: e.takeMarker()}
		e.pushFrame(f)
		if flat || holds {
			f.taken = true
			return nil
		}
		return e.skipBranch(f)

	case BracketWhileEq, BracketWhileNe:
		start := e.stmtStart
		target := e.takeMarker()
		if flat || holds {
			e.pushFrame(&frame{kind: frameWhile, state: b, env: target, start: start})
			return nil
		}
		_, _, err := e.skipTo([]BracketKind{b}, false)
		return err

	case BracketElifEq, BracketElifNe:
		f := e.topFrame()
		f.state = b
		if flat || holds {
			f.taken = true
			return nil
		}
		return e.skipBranch(f)

	case BracketEndWhileEq, BracketEndWhileNe:
		f := e.topFrame()
		if !flat && holds {
			return e.jump(f.start)
		}
		e.popFrame()
		return nil
	}
	return structuralErr(ErrMisplaced, "%s", a)
}

// skipBranch moves past an untaken branch of f and leaves the cursor on the
// ELSE, ELIF or END that follows it.
func (e *Engine) skipBranch(f *frame) error {
	_, pos, err := e.skipTo([]BracketKind{f.state}, true)
	if err != nil {
		return err
	}
	return e.src.Seek(pos)
}

// closeFrame handles END for the innermost frame.
func (e *Engine) closeFrame(f *frame) error {
	switch f.kind {
	case frameIf:
		e.popFrame()
	case frameWhile:
		e.popFrame()
		if !e.cfg.Flat {
			// Re-decode the loop head, RunIn prefix included.
			return e.jump(f.start)
		}
	case frameDo:
		if !e.cfg.Flat {
			return e.jump(f.start)
		}
		e.popFrame()
	case frameCall:
		if f.validate {
			e.popFrame()
			return nil
		}
		return e.returnFrom()
	}
	return nil
}

// breakLoop leaves the innermost loop of the current function and file. A
// flat engine only checks that such a loop exists.
func (e *Engine) breakLoop(a *Action) error {
	loop := -1
	for i := len(e.frames) - 1; i >= e.base(); i-- {
		k := e.frames[i].kind
		if k == frameCall {
			break
		}
		if k == frameWhile || k == frameDo {
			loop = i
			break
		}
	}
	if loop < 0 {
		return structuralErr(ErrMisplaced, "%s outside a loop", a)
	}
	if e.cfg.Flat {
		return nil
	}

	open := make([]BracketKind, 0, len(e.frames)-loop)
	for _, f := range e.frames[loop:] {
		open = append(open, f.opener())
	}
	e.unwind(loop)
	closer, _, err := e.skipTo(open, false)
	if err != nil {
		return err
	}
	if closer.Bracket.Conditional() {
		return e.skipOperands(closer.Required())
	}
	return nil
}

// opener is the marker kind that opened f, as tracked on a skip stack.
func (f *frame) opener() BracketKind {
	switch f.kind {
	case frameWhile:
		return BracketWhileEq
	case frameDo:
		return BracketDo
	case frameCall:
		return bracketFunction
	}
	return BracketIfEq
}

// skipTo moves forward without evaluating until the brackets in open are
// closed, or, with atBranch, until an ELSE or ELIF of the innermost one. It
// returns the marker it stopped on and the position just before it. Nesting
// is validated but no environment is touched.
func (e *Engine) skipTo(open []BracketKind, atBranch bool) (*Action, CodePosition, error) {
	stack := append([]BracketKind(nil), open...)
	for {
		pos := e.src.Position()
		a, err := e.src.Decode(nil, false)
		if err != nil {
			return nil, pos, err
		}
		if a.Kind == KindEOF {
			return nil, pos, structuralErr(ErrUnterminated, "%s never closed in %s", skipName(stack[len(stack)-1]), e.src.Name())
		}
		if a.Kind != KindBracket {
			continue
		}

		top := stack[len(stack)-1]
		switch b := a.Bracket; {
		case b.Opens():
			stack = append(stack, b)
			continue
		case b == BracketElse || b == BracketElifEq || b == BracketElifNe:
			if !isIf(top) {
				return nil, pos, structuralErr(ErrBracketMismatch, "%s inside %s", b, skipName(top))
			}
			if atBranch && len(stack) == 1 {
				return a, pos, nil
			}
			if b == BracketElse {
				stack[len(stack)-1] = b
			}
			continue
		case b == BracketEndWhileEq || b == BracketEndWhileNe:
			if top != BracketDo {
				return nil, pos, structuralErr(ErrBracketMismatch, "%s closes %s", b, skipName(top))
			}
		case b == BracketEnd:
		default:
			continue
		}

		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return a, pos, nil
		}
	}
}

func isIf(b BracketKind) bool {
	switch b {
	case BracketIfEq, BracketIfNe, BracketElifEq, BracketElifNe:
		return true
	}
	return false
}

func skipName(b BracketKind) string {
	if b == bracketFunction {
		return "function body"
	}
	return b.String()
}

// skipOperands moves past n complete operand expressions.
func (e *Engine) skipOperands(n int) error {
	for n > 0 {
		a, err := e.src.Decode(e.fns(), false)
		if err != nil {
			return err
		}
		switch a.Kind {
		case KindEOF:
			return structuralErr(ErrUnterminated, "missing operand at end of %s", e.src.Name())
		case KindBracket, KindRunIn, KindExit:
			return structuralErr(ErrMisplaced, "%s as an operand", a)
		}
		n += a.Required() - 1
	}
	return nil
}
