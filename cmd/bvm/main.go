// bvm CLI - runs, validates and transcodes bvm programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bvm/cache"
	"github.com/chazu/bvm/compiler"
	"github.com/chazu/bvm/loader"
	"github.com/chazu/bvm/manifest"
)

var log = commonlog.GetLogger("bvm.cli")

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string     { return fmt.Sprint(*l) }
func (l *stringList) Set(s string) error { *l = append(*l, s); return nil }

// env is what every subcommand shares: the project manifest, if any, and
// the loader built from it.
type env struct {
	manifest *manifest.Manifest
	loader   *loader.Loader
	store    *cache.Store
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
		e.store = nil
	}
}

func main() {
	verbosity := flag.Int("v", -1, "Log verbosity (0 quiet .. 4 debug); overrides bvm.toml")
	logFile := flag.String("log", "", "Log file (default stderr)")
	noCache := flag.Bool("no-cache", false, "Do not read or write the compiled-script cache")
	var includes stringList
	flag.Var(&includes, "I", "Add an import search path (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bvm [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [-trace] [-max-depth N] [-dump file] [program [args...]]\n")
		fmt.Fprintf(os.Stderr, "  check program...\n")
		fmt.Fprintf(os.Stderr, "  compile [-o out] program\n")
		fmt.Fprintf(os.Stderr, "  decompile [-o out] program\n")
		fmt.Fprintf(os.Stderr, "  dump snapshot\n")
		fmt.Fprintf(os.Stderr, "  cache [-prune]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bvm run main.bvm 3 4        # Run a script with two arguments\n")
		fmt.Fprintf(os.Stderr, "  bvm compile -o main.bvx main.bvm\n")
		fmt.Fprintf(os.Stderr, "  bvm run -dump crash.cbor main.bvx && bvm dump crash.cbor\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	configureLogging(m, *verbosity, *logFile)

	cmd, rest := args[0], args[1:]
	if cmd == "dump" {
		os.Exit(handleDumpCommand(rest))
	}

	e, err := newEnv(m, includes, *noCache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var code int
	switch cmd {
	case "run":
		code = handleRunCommand(e, rest)
	case "check":
		code = handleCheckCommand(e, rest)
	case "compile":
		code = handleCompileCommand(e, rest)
	case "decompile":
		code = handleDecompileCommand(e, rest)
	case "cache":
		code = handleCacheCommand(e, rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		flag.Usage()
		code = 2
	}
	e.Close()
	os.Exit(code)
}

// configureLogging applies the manifest's [log] table, then the flags.
func configureLogging(m *manifest.Manifest, verbosity int, logFile string) {
	level := 0
	var path *string
	if m != nil {
		level = m.Log.Verbosity
		if p := m.LogPath(); p != "" {
			path = &p
		}
	}
	if verbosity >= 0 {
		level = verbosity
	}
	if logFile != "" {
		path = &logFile
	}
	commonlog.Configure(level, path)
}

func newEnv(m *manifest.Manifest, includes []string, noCache bool) (*env, error) {
	e := &env{manifest: m}
	opts := loader.Options{
		Paths:   includes,
		Compile: compiler.Compile,
	}
	if m != nil {
		opts.Paths = append(opts.Paths, m.ImportPaths()...)
		opts.Entries = m.Cache.Entries
		noCache = noCache || m.Cache.Disabled
	}

	if !noCache {
		path, err := cachePath(m)
		if err != nil {
			return nil, err
		}
		if e.store, err = cache.Open(path); err != nil {
			// Runs still work without a cache.
			log.Warningf("cache disabled: %s", err)
		} else {
			opts.Store = e.store
		}
	}

	l, err := loader.New(opts)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.loader = l
	return e, nil
}

func cachePath(m *manifest.Manifest) (string, error) {
	if m != nil {
		return m.CachePath(), nil
	}
	return cache.DefaultPath()
}
