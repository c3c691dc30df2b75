package vm

import (
	"github.com/chazu/bvm/pkg/value"
)

// EnvHandle addresses a node of the environment arena. Handles stay valid
// until the owning function call returns.
type EnvHandle int32

const noEnv EnvHandle = -1

type envFlavor uint8

const (
	envGlobal envFlavor = iota
	envImport
	envFunction
	envChild
)

var flavorNames = [...]string{"global", "import", "function", "child"}

func (f envFlavor) String() string { return flavorNames[f] }

// Function is a declared function: where its body starts, how many
// arguments it takes and the environment it was declared in.
type Function struct {
	ID    uint64
	Arity int
	Entry CodePosition
	Env   EnvHandle
}

// envNode is one scope. parent is the lexical parent for children and the
// declaring environment for function roots; namespace roots have none.
type envNode struct {
	flavor   envFlavor
	parent   EnvHandle
	live     bool
	vars     map[uint64]value.Value
	children map[uint64]EnvHandle
	funcs    map[uint64]*Function
	args     []value.Value
	res      value.Value
}

// envTree is the arena holding every live environment.
type envTree struct {
	nodes []envNode
	free  []EnvHandle
}

func newEnvTree(args []value.Value) (*envTree, EnvHandle) {
	t := &envTree{}
	g := t.alloc(envGlobal, noEnv)
	t.nodes[g].args = args
	return t, g
}

func (t *envTree) alloc(flavor envFlavor, parent EnvHandle) EnvHandle {
	n := envNode{flavor: flavor, parent: parent, live: true, res: value.Zero()}
	if k := len(t.free); k > 0 {
		h := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[h] = n
		return h
	}
	t.nodes = append(t.nodes, n)
	return EnvHandle(len(t.nodes) - 1)
}

// release frees h and every child created beneath it.
func (t *envTree) release(h EnvHandle) {
	n := &t.nodes[h]
	for _, c := range n.children {
		t.release(c)
	}
	*n = envNode{}
	t.free = append(t.free, h)
}

// live returns the number of allocated nodes.
func (t *envTree) live() int {
	return len(t.nodes) - len(t.free)
}

// newFunctionRoot creates the environment of one call of fn.
func (t *envTree) newFunctionRoot(fn *Function, args []value.Value) EnvHandle {
	h := t.alloc(envFunction, fn.Env)
	t.nodes[h].args = args
	return h
}

// child returns the child scope id of h, creating it on first use.
func (t *envTree) child(h EnvHandle, id uint64) EnvHandle {
	if c, ok := t.nodes[h].children[id]; ok {
		return c
	}
	c := t.alloc(envChild, h)
	n := &t.nodes[h]
	if n.children == nil {
		n.children = make(map[uint64]EnvHandle)
	}
	n.children[id] = c
	return c
}

// importChild returns the import namespace id under ns. Child ids are shared
// with RunIn, so an id already used for a plain child cannot host an import.
func (t *envTree) importChild(ns EnvHandle, id uint64) (EnvHandle, bool) {
	if c, ok := t.nodes[ns].children[id]; ok {
		return c, t.nodes[c].flavor == envImport
	}
	c := t.alloc(envImport, noEnv)
	n := &t.nodes[ns]
	if n.children == nil {
		n.children = make(map[uint64]EnvHandle)
	}
	n.children[id] = c
	return c, true
}

// namespaceRoot returns the global or import root that h resolves
// functions against.
func (t *envTree) namespaceRoot(h EnvHandle) EnvHandle {
	for {
		n := &t.nodes[h]
		if n.flavor == envGlobal || n.flavor == envImport {
			return h
		}
		h = n.parent
	}
}

// frameRoot returns the nearest root above h: the function root inside a
// call, the namespace root otherwise.
func (t *envTree) frameRoot(h EnvHandle) EnvHandle {
	for t.nodes[h].flavor == envChild {
		h = t.nodes[h].parent
	}
	return h
}

// getVar reads id, deferring unset variables to the lexical parent.
// Namespace roots default to zero.
func (t *envTree) getVar(h EnvHandle, id uint64) value.Value {
	for h != noEnv {
		n := &t.nodes[h]
		if v, ok := n.vars[id]; ok {
			return v
		}
		h = n.parent
	}
	return value.Zero()
}

func (t *envTree) putVar(h EnvHandle, id uint64, v value.Value) {
	n := &t.nodes[h]
	if n.vars == nil {
		n.vars = make(map[uint64]value.Value)
	}
	n.vars[id] = v
}

func (t *envTree) function(h EnvHandle, id uint64) (*Function, bool) {
	fn, ok := t.nodes[t.namespaceRoot(h)].funcs[id]
	return fn, ok
}

// putFunction declares fn in the namespace of h.
func (t *envTree) putFunction(h EnvHandle, fn *Function) error {
	n := &t.nodes[t.namespaceRoot(h)]
	if _, dup := n.funcs[fn.ID]; dup {
		return structuralErr(ErrDuplicateFunction, "function %d", fn.ID)
	}
	if n.funcs == nil {
		n.funcs = make(map[uint64]*Function)
	}
	n.funcs[fn.ID] = fn
	return nil
}

func (t *envTree) arg(h EnvHandle, i uint64) (value.Value, error) {
	args := t.nodes[t.frameRoot(h)].args
	if i >= uint64(len(args)) {
		return nil, evalErr(ErrArgumentRange, "argument %d of %d", i, len(args))
	}
	return args[i], nil
}

func (t *envTree) argCount(h EnvHandle) int {
	return len(t.nodes[t.frameRoot(h)].args)
}

func (t *envTree) res(h EnvHandle) value.Value {
	return t.nodes[t.frameRoot(h)].res
}

func (t *envTree) setRes(h EnvHandle, v value.Value) {
	t.nodes[t.frameRoot(h)].res = v
}

// functionTable adapts one environment to the decoder.
type functionTable struct {
	t *envTree
	h EnvHandle
}

func (f functionTable) Function(id uint64) (*Function, bool) {
	return f.t.function(f.h, id)
}
