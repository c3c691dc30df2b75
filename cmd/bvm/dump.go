package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chazu/bvm/vm"
)

// handleDumpCommand prints a CBOR snapshot written by `bvm run -dump` as
// YAML.
func handleDumpCommand(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: dump takes exactly one snapshot file")
		return 2
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := dumpSnapshot(os.Stdout, data); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func dumpSnapshot(w io.Writer, data []byte) error {
	s, err := vm.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return enc.Close()
}

// handleCacheCommand reports on the compiled-script cache and optionally
// prunes it.
func handleCacheCommand(e *env, args []string) int {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)
	prune := fs.Bool("prune", false, "Delete all but the newest entries")
	keep := fs.Int("keep", 0, "Entries kept by -prune (default from bvm.toml, else 1000)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if e.store == nil {
		fmt.Fprintln(os.Stderr, "Error: the cache is disabled")
		return 1
	}

	if *prune {
		n := *keep
		if n <= 0 && e.manifest != nil {
			n = e.manifest.Cache.Keep
		}
		if n <= 0 {
			n = 1000
		}
		removed, err := e.store.Prune(n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("pruned %d entries\n", removed)
	}
	count, err := e.store.Len()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("%s: %d compiled scripts\n", e.store.Path(), count)
	return 0
}
