package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/bvm/pkg/value"
	"github.com/chazu/bvm/vm"
)

type mapLoader map[string]string

func (l mapLoader) Open(wd, path string) (*vm.Program, error) {
	src, ok := l[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", path)
	}
	return vm.ParseProgram("/"+path, []byte(src))
}

const countdown = `#bvm
; count down, then branch on the result
put v1 3
WHILE! v1 0  print v1  dec v1  END
IF= v1 0 print 1 ELSE print 2 END
fn0/2
  add a0 a1
END
print @0 3 4
`

const countdownText = `#bvm
put v1 3
WHILE! v1 0
    print v1
    dec v1
END
IF= v1 0
    print 1
ELSE
    print 2
END
fn0/2
    add a0 a1
END
print @0 3 4
`

func run(t *testing.T, name string, data []byte, loader vm.Loader, args ...value.Value) string {
	t.Helper()
	prog, err := vm.ParseProgram(name, data)
	if err != nil {
		t.Fatalf("ParseProgram: %v", err)
	}
	var out bytes.Buffer
	e, err := vm.New(prog, vm.Config{
		Args:    args,
		Loader:  loader,
		Console: vm.NewConsole(strings.NewReader(""), &out),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestCompileRunsLikeSource(t *testing.T) {
	code, err := Compile("/countdown.bvm", []byte(countdown), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(code, vm.LibraryMagic) {
		t.Fatalf("bytecode starts with % x", code[:4])
	}
	want := "3\n2\n1\n1\n7\n"
	if got := run(t, "/countdown.bvm", []byte(countdown), nil); got != want {
		t.Errorf("script output = %q, want %q", got, want)
	}
	if got := run(t, "/countdown.bvx", code, nil); got != want {
		t.Errorf("bytecode output = %q, want %q", got, want)
	}
}

func TestDecompileFormatsByDepth(t *testing.T) {
	code, err := Compile("/countdown.bvm", []byte(countdown), nil)
	if err != nil {
		t.Fatal(err)
	}
	text, err := Decompile("/countdown.bvx", code, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != countdownText {
		t.Errorf("decompiled:\n%s\nwant:\n%s", text, countdownText)
	}

	again, err := Compile("/countdown.bvm", text, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, code) {
		t.Error("recompiling the decompiled text changed the bytecode")
	}
}

func TestExecutableHeaderSurvives(t *testing.T) {
	src := "#bvm:2\nprint add a0 a1\n"
	code, err := Compile("/sum.bvm", []byte(src), nil)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := vm.ParseProgram("/sum.bvx", code)
	if err != nil {
		t.Fatal(err)
	}
	if prog.Kind != vm.ProgramExecutable || prog.ArgCount != 2 {
		t.Fatalf("kind %v args %d", prog.Kind, prog.ArgCount)
	}
	text, err := Decompile("/sum.bvx", code, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != src {
		t.Errorf("decompiled %q, want %q", text, src)
	}
	if got := run(t, "/sum.bvx", code, nil, value.Int(2), value.Int(5)); got != "7\n" {
		t.Errorf("output = %q", got)
	}
}

func TestImportsStayReferences(t *testing.T) {
	loader := mapLoader{"lib.bvm": "#bvm\nfn1/1\n mul a0 2\nEND\n"}
	src := "#bvm\nimport \"lib.bvm\"\nprint @1 21\n"
	code, err := Compile("/main.bvm", []byte(src), loader)
	if err != nil {
		t.Fatal(err)
	}
	text, err := Decompile("/main.bvx", code, loader)
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != src {
		t.Errorf("decompiled %q, want %q", text, src)
	}
	if got := run(t, "/main.bvx", code, loader); got != "42\n" {
		t.Errorf("output = %q", got)
	}

	if _, err := Compile("/main.bvm", []byte(src), mapLoader{}); !errors.Is(err, vm.ErrIO) {
		t.Errorf("missing import: err = %v, want i/o error", err)
	}
}

func TestCompileRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		cause error
	}{
		{"stray else", "#bvm\nELSE\n", vm.ErrBracketMismatch},
		{"unterminated", "#bvm\nDO\nprint 1\n", vm.ErrUnterminated},
		{"missing operand", "#bvm\nadd 1\n", vm.ErrMissingOperand},
		{"unknown call", "#bvm\n@9\n", vm.ErrUnknownFunction},
		{"bad header", "print 1\n", vm.ErrBadProgram},
		{"break outside loop", "#bvm\nprint 1\nBREAK\n", vm.ErrMisplaced},
		{"break across call", "#bvm\nfn1/0\n BREAK\nEND\nDO\n @1\nEND\n", vm.ErrMisplaced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("/bad.bvm", []byte(tt.src), nil)
			if !errors.Is(err, tt.cause) {
				t.Fatalf("err = %v, want %v", err, tt.cause)
			}
		})
	}
}

func TestCheckDoesNotRun(t *testing.T) {
	prog, err := vm.ParseProgram("/loop.bvm", []byte("#bvm\nDO\nEND\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := Check(prog, nil); err != nil {
		t.Fatalf("Check of an infinite loop: %v", err)
	}
}
