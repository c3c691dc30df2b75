package vm

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/chazu/bvm/pkg/bitstream"
)

// ProgramKind distinguishes libraries from executables.
type ProgramKind uint8

const (
	ProgramLibrary ProgramKind = iota
	ProgramExecutable
)

func (k ProgramKind) String() string {
	if k == ProgramExecutable {
		return "executable"
	}
	return "library"
}

// Magic bytes for bytecode files. An executable is followed by its
// argument count in the integer codec.
var (
	LibraryMagic    = []byte{0xC7, 'B', 'V', 'L'}
	ExecutableMagic = []byte{0xC7, 'B', 'V', 'X'}
)

// ScriptMagic starts the first line of a text program: "#bvm" for a library,
// "#bvm:N" for an executable taking N arguments.
const ScriptMagic = "#bvm"

// Program is a parsed program file ready to be opened as a Source.
type Program struct {
	Name     string
	Kind     ProgramKind
	Text     bool
	ArgCount int

	data  []byte
	start int // first instruction: bit offset, or byte offset for text
}

// ParseProgram recognises the program header of data.
func ParseProgram(name string, data []byte) (*Program, error) {
	p := &Program{Name: name, data: data}
	switch {
	case bytes.HasPrefix(data, LibraryMagic):
		p.start = len(LibraryMagic) * 8
	case bytes.HasPrefix(data, ExecutableMagic):
		p.Kind = ProgramExecutable
		c := bitstream.NewCursor(bitstream.NewStream(data), len(ExecutableMagic)*8)
		n, err := c.ReadUint()
		if err != nil || n > maxArity {
			return nil, decodeErr(ErrBadProgram, "%s: bad argument count", name)
		}
		p.ArgCount = int(n)
		p.start = c.Offset()
	case bytes.HasPrefix(data, []byte(ScriptMagic)):
		if err := p.parseScriptHeader(); err != nil {
			return nil, err
		}
	default:
		return nil, decodeErr(ErrBadProgram, "%s", name)
	}
	return p, nil
}

func (p *Program) parseScriptHeader() error {
	p.Text = true
	line := p.data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
		p.start = i + 1
	} else {
		p.start = len(p.data)
	}
	line = bytes.TrimRight(line, "\r \t")
	rest := line[len(ScriptMagic):]
	if len(rest) == 0 {
		return nil
	}
	if rest[0] != ':' {
		return decodeErr(ErrBadProgram, "%s: script header %q", p.Name, line)
	}
	n, err := strconv.Atoi(string(rest[1:]))
	if err != nil || n < 0 || n > maxArity {
		return decodeErr(ErrBadProgram, "%s: script argument count %q", p.Name, rest[1:])
	}
	p.Kind = ProgramExecutable
	p.ArgCount = n
	return nil
}

// Body returns the instruction text of a script, without its header line.
func (p *Program) Body() []byte {
	if !p.Text {
		return nil
	}
	return p.data[p.start:]
}

// open creates a fresh Source positioned at the first instruction.
func (p *Program) open(handle int) Source {
	if p.Text {
		return &textSource{name: p.Name, handle: handle, data: p.data, off: p.start}
	}
	return &bitSource{
		name:   p.Name,
		handle: handle,
		cur:    bitstream.NewCursor(bitstream.NewStream(p.data), p.start),
	}
}

// WriteHeader starts a bytecode file of the given kind.
func WriteHeader(w *bitstream.Writer, kind ProgramKind, argCount int) {
	if kind == ProgramExecutable {
		w.WriteBytes(ExecutableMagic)
		w.WriteUint(uint64(argCount))
		return
	}
	w.WriteBytes(LibraryMagic)
}

// ScriptHeader returns the first line of a text program.
func ScriptHeader(kind ProgramKind, argCount int) string {
	if kind == ProgramExecutable {
		return fmt.Sprintf("%s:%d\n", ScriptMagic, argCount)
	}
	return ScriptMagic + "\n"
}

// Source yields instructions from one open program stream.
type Source interface {
	Decode(fns FunctionTable, topLevel bool) (*Action, error)
	Position() CodePosition
	Seek(pos CodePosition) error
	Name() string
}

type bitSource struct {
	name   string
	handle int
	cur    *bitstream.Cursor
}

func (s *bitSource) Name() string { return s.name }

func (s *bitSource) Position() CodePosition {
	return CodePosition{Stream: s.handle, Offset: s.cur.Offset()}
}

func (s *bitSource) Seek(pos CodePosition) error {
	if pos.Text {
		return ioErr(nil, "text position %s in bytecode %s", pos, s.name)
	}
	if err := s.cur.Seek(pos.Offset); err != nil {
		return ioErr(err, "%s", s.name)
	}
	return nil
}

func (s *bitSource) Decode(fns FunctionTable, topLevel bool) (*Action, error) {
	return DecodeBits(s.cur, fns, topLevel)
}
