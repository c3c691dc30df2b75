package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/bvm/compiler"
)

// ---------------------------------------------------------------------------
// bvm compile / decompile / check
// ---------------------------------------------------------------------------

// handleCompileCommand processes `bvm compile`.
// Usage:
//
//	bvm compile main.bvm           # writes main.bvx
//	bvm compile -o out.bvx main.bvm
func handleCompileCommand(e *env, args []string) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	out := fs.String("o", "", "Output file (default: input with .bvx extension)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: compile takes exactly one program")
		return 2
	}

	name, src, err := readSource(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	code, err := compiler.Compile(name, src, e.loader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	dest := *out
	if dest == "" {
		dest = outputPath(fs.Arg(0), ".bvx")
	}
	if err := os.WriteFile(dest, code, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Infof("compiled %s -> %s (%d bytes)", fs.Arg(0), dest, len(code))
	return 0
}

// handleDecompileCommand processes `bvm decompile`. Output goes to stdout
// unless -o is given.
func handleDecompileCommand(e *env, args []string) int {
	fs := flag.NewFlagSet("decompile", flag.ContinueOnError)
	out := fs.String("o", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: decompile takes exactly one program")
		return 2
	}

	name, data, err := readSource(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	text, err := compiler.Decompile(name, data, e.loader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *out == "" {
		os.Stdout.Write(text)
		return 0
	}
	if err := os.WriteFile(*out, text, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// handleCheckCommand validates each program without running it.
func handleCheckCommand(e *env, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: check needs at least one program")
		return 2
	}
	code := 0
	for _, path := range args {
		prog, err := loadProgram(e, path)
		if err == nil {
			err = compiler.Check(prog, e.loader)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			code = 1
			continue
		}
		fmt.Printf("%s: ok\n", path)
	}
	return code
}

// readSource reads path and returns its absolute name with the contents.
func readSource(path string) (string, []byte, error) {
	name, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// outputPath replaces the extension of path with ext.
func outputPath(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
