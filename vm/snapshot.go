package vm

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bvm/pkg/value"
)

// Snapshot is a serializable picture of an engine, attached to every Fatal
// error and written by crash dumps. Values are rendered in base 10.
type Snapshot struct {
	RunID    string `cbor:"1,keyasint" yaml:"run_id"`
	Program  string `cbor:"2,keyasint" yaml:"program"`
	Flat     bool   `cbor:"3,keyasint,omitempty" yaml:"flat,omitempty"`
	Steps    uint64 `cbor:"4,keyasint" yaml:"steps"`
	Line     int    `cbor:"5,keyasint" yaml:"line"`
	Position string `cbor:"6,keyasint" yaml:"position"`
	Pending  string `cbor:"7,keyasint,omitempty" yaml:"pending,omitempty"`
	Result   string `cbor:"8,keyasint" yaml:"result"`
	Error    string `cbor:"9,keyasint,omitempty" yaml:"error,omitempty"`

	EnvStack []int32       `cbor:"10,keyasint" yaml:"env_stack"`
	Envs     []EnvState    `cbor:"11,keyasint" yaml:"envs"`
	Brackets []FrameState  `cbor:"12,keyasint,omitempty" yaml:"brackets,omitempty"`
	Imports  []ImportState `cbor:"13,keyasint,omitempty" yaml:"imports,omitempty"`
}

// EnvState is one live environment node.
type EnvState struct {
	Handle    int32             `cbor:"1,keyasint" yaml:"handle"`
	Flavor    string            `cbor:"2,keyasint" yaml:"flavor"`
	Parent    int32             `cbor:"3,keyasint" yaml:"parent"`
	Vars      map[uint64]string `cbor:"4,keyasint,omitempty" yaml:"vars,omitempty"`
	Functions []uint64          `cbor:"5,keyasint,omitempty" yaml:"functions,omitempty"`
	Args      []string          `cbor:"6,keyasint,omitempty" yaml:"args,omitempty"`
	Res       string            `cbor:"7,keyasint" yaml:"res"`
}

// FrameState is one open bracket.
type FrameState struct {
	Kind     string `cbor:"1,keyasint" yaml:"kind"`
	State    string `cbor:"2,keyasint,omitempty" yaml:"state,omitempty"`
	Env      int32  `cbor:"3,keyasint" yaml:"env"`
	Start    string `cbor:"4,keyasint,omitempty" yaml:"start,omitempty"`
	Taken    bool   `cbor:"5,keyasint,omitempty" yaml:"taken,omitempty"`
	Function uint64 `cbor:"6,keyasint,omitempty" yaml:"function,omitempty"`
	Resume   string `cbor:"7,keyasint,omitempty" yaml:"resume,omitempty"`
}

// ImportState is one suspended importer.
type ImportState struct {
	Name   string `cbor:"1,keyasint" yaml:"name"`
	Resume string `cbor:"2,keyasint" yaml:"resume"`
	Env    int32  `cbor:"3,keyasint" yaml:"env"`
	Base   int    `cbor:"4,keyasint" yaml:"base"`
}

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return snapshotEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Snapshot captures the current state of the engine.
func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{
		RunID:    e.runID.String(),
		Program:  e.prog.Name,
		Flat:     e.cfg.Flat,
		Steps:    e.steps,
		Line:     e.line,
		Position: e.pos.String(),
		Pending:  lineString(e.pending),
		Result:   value.Format(e.Result(), 10),
	}
	for _, h := range e.envStack {
		s.EnvStack = append(s.EnvStack, int32(h))
	}
	for i := range e.envs.nodes {
		n := &e.envs.nodes[i]
		if !n.live {
			continue
		}
		s.Envs = append(s.Envs, envState(EnvHandle(i), n))
	}
	for _, f := range e.frames {
		fs := FrameState{Kind: f.kind.String(), Env: int32(f.env), Taken: f.taken}
		switch f.kind {
		case frameCall:
			fs.Function = f.fn.ID
			if !f.validate {
				fs.Resume = f.resume.String()
			}
		default:
			fs.State = f.state.String()
			if f.kind != frameIf {
				fs.Start = f.start.String()
			}
		}
		s.Brackets = append(s.Brackets, fs)
	}
	for _, r := range e.imports {
		s.Imports = append(s.Imports, ImportState{
			Name:   r.name,
			Resume: r.resume.String(),
			Env:    int32(r.env),
			Base:   r.bracketBase,
		})
	}
	return s
}

func envState(h EnvHandle, n *envNode) EnvState {
	st := EnvState{
		Handle: int32(h),
		Flavor: n.flavor.String(),
		Parent: int32(n.parent),
		Res:    value.Format(n.res, 10),
	}
	if len(n.vars) > 0 {
		st.Vars = make(map[uint64]string, len(n.vars))
		for id, v := range n.vars {
			st.Vars[id] = value.Format(v, 10)
		}
	}
	for id := range n.funcs {
		st.Functions = append(st.Functions, id)
	}
	sort.Slice(st.Functions, func(i, j int) bool { return st.Functions[i] < st.Functions[j] })
	for _, a := range n.args {
		st.Args = append(st.Args, value.Format(a, 10))
	}
	return st
}

// fail attaches the execution context to err.
func (e *Engine) fail(err error) *Fatal {
	f := asFatal(err)
	if f.Snapshot != nil {
		return f
	}
	f.Line = e.line
	f.Pending = lineString(e.pending)
	f.Pos = e.pos
	f.Snapshot = e.Snapshot()
	f.Snapshot.Error = f.Error()
	logger.Debugf("%s failed: %s", e.runID, f.Snapshot.Error)
	return f
}
