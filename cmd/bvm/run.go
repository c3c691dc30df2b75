package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/chazu/bvm/pkg/value"
	"github.com/chazu/bvm/vm"
)

// handleRunCommand processes `bvm run`.
// Usage:
//
//	bvm run main.bvm 3 4          # run with two arguments
//	bvm run                       # run [run] entry from bvm.toml
//	bvm run -dump crash.cbor x.bvx
func handleRunCommand(e *env, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	trace := fs.Bool("trace", false, "Log every decoded instruction (needs -v 4)")
	maxDepth := fs.Int("max-depth", 0, "Maximum call depth (default 10000)")
	dump := fs.String("dump", "", "Write a CBOR snapshot here if the run fails")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path, progArgs, err := runTarget(e, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	argv, err := parseArgs(progArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	prog, err := loadProgram(e, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg := vm.Config{
		Args:         argv,
		Loader:       e.loader,
		Console:      newConsole(),
		MaxCallDepth: *maxDepth,
		Trace:        *trace,
	}
	if m := e.manifest; m != nil {
		if cfg.MaxCallDepth == 0 {
			cfg.MaxCallDepth = m.Run.MaxCallDepth
		}
		cfg.Trace = cfg.Trace || m.Run.Trace
	}

	eng, err := vm.New(prog, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Infof("run %s: %s", eng.RunID(), prog.Name)
	res, err := eng.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if *dump != "" {
			if derr := writeDump(*dump, err); derr != nil {
				fmt.Fprintf(os.Stderr, "Error writing dump: %v\n", derr)
			}
		}
		return 1
	}
	log.Infof("run %s finished after %d statements, result %s", eng.RunID(), eng.Line(), value.Format(res, 10))
	return 0
}

// runTarget picks the program and its arguments from the command line, or
// from the manifest's [run] table when no program is named.
func runTarget(e *env, args []string) (string, []string, error) {
	if len(args) > 0 {
		return args[0], args[1:], nil
	}
	if e.manifest != nil && e.manifest.EntryPath() != "" {
		return e.manifest.EntryPath(), e.manifest.Run.Args, nil
	}
	return "", nil, errors.New("no program given and no [run] entry in bvm.toml")
}

// parseArgs converts command-line arguments to numbers.
func parseArgs(args []string) ([]value.Value, error) {
	out := make([]value.Value, 0, len(args))
	for i, s := range args {
		n, err := value.ParseNumber(s, 10)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// loadProgram resolves path from the working directory and loads it
// through the loader, so the main program takes part in cycle detection
// and script compilation.
func loadProgram(e *env, path string) (*vm.Program, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(wd, path)
	}
	return e.loader.Open(wd, path)
}

func newConsole() *vm.StreamConsole {
	c := vm.NewConsole(os.Stdin, os.Stdout)
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		c.Prompt = "? "
	}
	return c
}

func writeDump(path string, err error) error {
	var f *vm.Fatal
	if !errors.As(err, &f) || f.Snapshot == nil {
		return errors.New("no snapshot available")
	}
	data, err := vm.MarshalSnapshot(f.Snapshot)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Noticef("wrote snapshot of run %s to %s", f.Snapshot.RunID, path)
	return nil
}
