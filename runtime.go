package tensoralloc

// ExecutionMode mirrors MNN's distinction between a backend that runs ops
// as they're enqueued (DIRECT) and one that defers to a batched, planned
// execution (INDIRECT) — see SPEC_FULL.md §11.2.
type ExecutionMode int

const (
	ModeDirect ExecutionMode = iota
	ModeIndirect
)

// Info describes a Backend's identity and execution posture, the Go
// counterpart of MNN's Backend::Info.
type Info struct {
	Type      string
	NumThread int
	User      string
	Mode      ExecutionMode
}

// Runtime owns the lifetime of Backends built against a single source and
// the persistence of heuristic plans across process runs, mirroring
// MNN's Runtime::onGetCache/onSetCache/onGabageCollect.
type Runtime struct {
	source Allocator
	opts   Options
	info   Info
	plans  *PlanStore
}

// NewRuntime returns a Runtime that creates Backends drawing from source.
func NewRuntime(source Allocator, opts Options, info Info) *Runtime {
	return &Runtime{source: source, opts: opts, info: info, plans: NewPlanStore()}
}

// OnCreate returns a fresh Backend.
func (rt *Runtime) OnCreate() (*Backend, error) {
	return NewBackend(rt.source, rt.opts)
}

// Info returns the runtime's identity.
func (rt *Runtime) Info() Info {
	return rt.info
}

// OnGetCache serializes every loaded heuristic plan to a blob for the
// caller to persist however it likes (disk, a key-value store, ...).
func (rt *Runtime) OnGetCache() ([]byte, error) {
	return rt.plans.MarshalBlob()
}

// OnSetCache restores heuristic plans from a blob previously produced by
// OnGetCache.
func (rt *Runtime) OnSetCache(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	return rt.plans.UnmarshalBlob(blob)
}

// Plans exposes the runtime's plan store so a caller can register new
// plans ahead of a Backend's SetHeuristicStrategy call.
func (rt *Runtime) Plans() *PlanStore {
	return rt.plans
}

// OnGarbageCollect is a hint hook: level is a caller-defined aggressiveness
// knob (MNN passes a percentage). tensoralloc does not track per-tensor
// lifetime metadata needed to act on it proactively, so by default this is
// a no-op; a caller wanting eager reclamation should call Backend.OnClearBuffer
// directly instead.
func (rt *Runtime) OnGarbageCollect(level int) {}
