package vm

import (
	"errors"
	"path/filepath"
	"strings"
)

// Loader resolves import paths to programs. wd is the directory of the
// importing file. Returned program names must be canonical, since they are
// compared to detect cycles.
type Loader interface {
	Open(wd, path string) (*Program, error)
}

// importFile suspends the current file and enters the imported one.
func (e *Engine) importFile(a *Action) error {
	if e.cfg.Loader == nil {
		return ioErr(nil, "import %q: no loader configured", a.Path)
	}
	prog, err := e.cfg.Loader.Open(e.wd, a.Path)
	if err != nil {
		var f *Fatal
		if errors.As(err, &f) {
			// Keep the class of the failure inside the import; the context
			// attached later is this engine's.
			return newFatal(f.Class, err, "import %q", a.Path)
		}
		return ioErr(err, "import %q", a.Path)
	}

	chain := []string{e.prog.Name}
	for _, r := range e.imports {
		chain = append(chain, r.name)
	}
	for _, name := range chain {
		if name == prog.Name {
			return structuralErr(ErrCyclicImport, "%s -> %s", strings.Join(chain, " -> "), prog.Name)
		}
	}

	ns := e.envs.namespaceRoot(e.env())
	env := ns
	if a.ID > 0 {
		var ok bool
		if env, ok = e.envs.importChild(ns, a.ID-1); !ok {
			return structuralErr(ErrMisplaced, "import into child %d, which is not a namespace", a.ID-1)
		}
	}

	src := prog.open(len(e.sources))
	e.sources = append(e.sources, src)
	e.imports = append(e.imports, &importRecord{
		name:        prog.Name,
		resume:      e.src.Position(),
		wd:          e.wd,
		bracketBase: len(e.frames),
		env:         env,
	})
	e.envStack = append(e.envStack, env)
	e.src = src
	e.wd = filepath.Dir(prog.Name)
	logger.Debugf("%s import %s", e.runID, prog.Name)
	return nil
}

// popImport resumes the importer of the current file.
func (e *Engine) popImport() error {
	n := len(e.imports) - 1
	r := e.imports[n]
	e.imports = e.imports[:n]
	e.envStack = e.envStack[:len(e.envStack)-1]
	e.wd = r.wd
	return e.jump(r.resume)
}
