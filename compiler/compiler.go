// Package compiler transcodes bvm programs between the text form and
// bytecode. Both directions run the program through a flat engine, so only
// well-formed programs are transcoded, and re-encode the instructions the
// engine decodes from the main file.
package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/bvm/pkg/bitstream"
	"github.com/chazu/bvm/pkg/value"
	"github.com/chazu/bvm/vm"
)

var log = commonlog.GetLogger("bvm.compiler")

// indent is the decompiler's indentation per open bracket.
const indent = "    "

// Compile validates a program and returns it as bytecode. src may be a
// script or bytecode already; imports are resolved through loader and are
// not inlined.
func Compile(name string, src []byte, loader vm.Loader) ([]byte, error) {
	prog, err := vm.ParseProgram(name, src)
	if err != nil {
		return nil, err
	}
	enc := &encoder{w: bitstream.NewWriter()}
	vm.WriteHeader(enc.w, prog.Kind, prog.ArgCount)
	if err := validate(prog, loader, enc); err != nil {
		return nil, err
	}
	log.Debugf("compiled %s: %d instructions", name, enc.n)
	return enc.w.Bytes(), nil
}

// Decompile validates a program and returns it in text form, one statement
// per line, indented by bracket depth.
func Decompile(name string, data []byte, loader vm.Loader) ([]byte, error) {
	prog, err := vm.ParseProgram(name, data)
	if err != nil {
		return nil, err
	}
	p := &printer{}
	p.b.WriteString(vm.ScriptHeader(prog.Kind, prog.ArgCount))
	if err := validate(prog, loader, p); err != nil {
		return nil, err
	}
	p.newline()
	log.Debugf("decompiled %s: %d lines", name, p.lines)
	return []byte(p.b.String()), nil
}

// Check runs prog in flat mode and reports the first problem found.
func Check(prog *vm.Program, loader vm.Loader) error {
	return validate(prog, loader, nil)
}

func validate(prog *vm.Program, loader vm.Loader, obs vm.Observer) error {
	e, err := vm.New(prog, vm.Config{
		Flat:     true,
		Loader:   loader,
		Console:  nopConsole{},
		Observer: obs,
	})
	if err != nil {
		return err
	}
	if _, err := e.Run(context.Background()); err != nil {
		return fmt.Errorf("%s: %w", prog.Name, err)
	}
	return nil
}

// mainStream reports whether pos lies in the program being transcoded
// rather than in one of its imports.
func mainStream(pos vm.CodePosition) bool {
	return pos.Stream == 0
}

// ---------------------------------------------------------------------------
// Bytecode encoder
// ---------------------------------------------------------------------------

type encoder struct {
	w *bitstream.Writer
	n int
}

func (c *encoder) Decoded(a *vm.Action, pos vm.CodePosition, depth int) {
	if !mainStream(pos) || a.Kind == vm.KindEOF {
		return
	}
	vm.EncodeBits(c.w, a)
	c.n++
}

func (c *encoder) StatementEnd(vm.CodePosition) {}

// ---------------------------------------------------------------------------
// Text printer
// ---------------------------------------------------------------------------

type printer struct {
	b     strings.Builder
	line  []string
	lines int
}

func (p *printer) Decoded(a *vm.Action, pos vm.CodePosition, depth int) {
	if !mainStream(pos) || a.Kind == vm.KindEOF {
		return
	}
	if len(p.line) == 0 {
		if dedents(a) {
			depth--
		}
		p.line = append(p.line, strings.Repeat(indent, max(depth, 0)))
	}
	p.line = append(p.line, a.String())
}

// dedents reports whether a line starting with a is printed at the level of
// the bracket it continues or closes.
func dedents(a *vm.Action) bool {
	if a.Kind != vm.KindBracket {
		return false
	}
	switch a.Bracket {
	case vm.BracketElse, vm.BracketElifEq, vm.BracketElifNe:
		return true
	}
	return a.Bracket.Closes()
}

func (p *printer) StatementEnd(pos vm.CodePosition) {
	if mainStream(pos) {
		p.newline()
	}
}

func (p *printer) newline() {
	if len(p.line) == 0 {
		return
	}
	p.b.WriteString(p.line[0])
	p.b.WriteString(strings.Join(p.line[1:], " "))
	p.b.WriteByte('\n')
	p.line = p.line[:0]
	p.lines++
}

// nopConsole satisfies flat runs, which never read or write.
type nopConsole struct{}

func (nopConsole) Read(vm.IOKind, int) (value.Value, error) { return value.Zero(), nil }

func (nopConsole) Write(value.Value, vm.IOKind, int) error { return nil }
