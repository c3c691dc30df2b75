// Package loader resolves bvm import paths to programs.
//
// Paths are tried relative to the importing file first, then against each
// search path in order. Loaded programs are kept in an in-memory LRU keyed
// by their canonical absolute name. Scripts are compiled to bytecode on
// first load when a compile function is configured, and the bytecode is
// shared across runs through a cache.Store.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tliron/commonlog"

	"github.com/chazu/bvm/cache"
	"github.com/chazu/bvm/vm"
)

var log = commonlog.GetLogger("bvm.loader")

// DefaultEntries is the program LRU size when Options leaves it unset.
const DefaultEntries = 128

// CompileFunc turns a script into bytecode. It receives the loader so the
// script's own imports resolve the same way.
type CompileFunc func(name string, src []byte, loader vm.Loader) ([]byte, error)

// Options configures a Loader.
type Options struct {
	// Paths are searched, in order, after the importing file's directory.
	Paths []string

	// Entries bounds the number of programs held in memory.
	Entries int

	// Compile, when set, compiles scripts on load.
	Compile CompileFunc

	// Store, when set, caches compiled scripts across runs.
	Store *cache.Store
}

// Loader implements vm.Loader. It is safe for concurrent use.
type Loader struct {
	paths    []string
	compile  CompileFunc
	store    *cache.Store
	programs *lru.Cache[string, *vm.Program]

	mu        sync.Mutex
	compiling map[string]bool
}

// New creates a Loader.
func New(opts Options) (*Loader, error) {
	n := opts.Entries
	if n <= 0 {
		n = DefaultEntries
	}
	programs, err := lru.New[string, *vm.Program](n)
	if err != nil {
		return nil, fmt.Errorf("creating program cache: %w", err)
	}
	paths := make([]string, 0, len(opts.Paths))
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("search path %s: %w", p, err)
		}
		paths = append(paths, abs)
	}
	return &Loader{
		paths:     paths,
		compile:   opts.Compile,
		store:     opts.Store,
		programs:  programs,
		compiling: make(map[string]bool),
	}, nil
}

// Open resolves path as imported from a file in directory wd and loads it.
func (l *Loader) Open(wd, path string) (*vm.Program, error) {
	name, err := l.Resolve(wd, path)
	if err != nil {
		return nil, err
	}
	return l.Load(name)
}

// Resolve returns the canonical name of the file path refers to.
func (l *Loader) Resolve(wd, path string) (string, error) {
	if filepath.IsAbs(path) {
		return canonical(path)
	}
	candidates := make([]string, 0, len(l.paths)+1)
	if wd != "" {
		candidates = append(candidates, filepath.Join(wd, path))
	}
	for _, dir := range l.paths {
		candidates = append(candidates, filepath.Join(dir, path))
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err == nil && !info.IsDir() {
			return canonical(c)
		}
	}
	return "", fmt.Errorf("%s: %w", path, fs.ErrNotExist)
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// Load reads and parses the file with the given canonical name, compiling
// it if it is a script.
func (l *Loader) Load(name string) (*vm.Program, error) {
	if p, ok := l.programs.Get(name); ok {
		return p, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	prog, err := vm.ParseProgram(name, data)
	if err != nil {
		return nil, err
	}
	if prog.Text && l.compile != nil {
		if !l.enter(name) {
			// Already compiling further up the import chain; the engine
			// reports the cycle.
			return prog, nil
		}
		code, err := l.compiled(name, data)
		l.leave(name)
		if err != nil {
			return nil, err
		}
		if prog, err = vm.ParseProgram(name, code); err != nil {
			return nil, fmt.Errorf("compiled %s: %w", name, err)
		}
	}
	l.programs.Add(name, prog)
	return prog, nil
}

// compiled returns bytecode for a script, from the store when possible.
func (l *Loader) compiled(name string, src []byte) ([]byte, error) {
	key := cache.Key(src)
	if l.store != nil {
		code, err := l.store.Get(key)
		switch {
		case err == nil:
			log.Debugf("cache hit %s", name)
			return code, nil
		case !errors.Is(err, cache.ErrNotFound):
			log.Warningf("cache read %s: %s", name, err)
		}
		log.Debugf("cache miss %s", name)
	}
	code, err := l.compile(name, src, l)
	if err != nil {
		return nil, err
	}
	if l.store != nil {
		if err := l.store.Put(key, name, code); err != nil {
			log.Warningf("cache write %s: %s", name, err)
		}
	}
	return code, nil
}

func (l *Loader) enter(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.compiling[name] {
		return false
	}
	l.compiling[name] = true
	return true
}

func (l *Loader) leave(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.compiling, name)
}

// Loaded returns the number of programs held in memory.
func (l *Loader) Loaded() int {
	return l.programs.Len()
}
