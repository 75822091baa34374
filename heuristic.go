package tensoralloc

import (
	"sync"

	"github.com/tidwall/hashmap"
	"github.com/zeebo/xxh3"
	"slices"
)

// tensorKey is a tensor identifier reduced to a fast, comparable map key,
// the same trade MNN's header describes for "a stable string derived
// from the op/tensor name" and the same one cache.go makes for its own
// string keys via xxh3.HashString: a 64-bit collision is astronomically
// unlikely for model-graph-sized tensor counts, so the hash is used
// directly as the key rather than carrying the string around too.
type tensorKey uint64

func hashTensorID(id string) tensorKey {
	return tensorKey(xxh3.HashString(id))
}

// HeuristicPlacer is the optional, model-aware placement layer of spec
// §4.4: a pre-declared tensor-id -> offset plan carves tensors out of one
// arena instead of using the general pool, and supports shrinking that
// arena while live tensors are present.
type HeuristicPlacer struct {
	mu sync.Mutex

	source      Allocator
	alignBottom bool
	needAlloc   bool

	budget  uintptr
	arena   Range
	arenaOK bool

	// plan is the immutable, loaded strategy: tensor id -> offset,
	// always expressed bottom-relative regardless of alignBottom.
	plan *hashmap.Map[tensorKey, uintptr]

	// live is the mutable current offset table. It starts out equal to
	// plan and is only touched by a successful MoveTensor2Bottom.
	live *hashmap.Map[tensorKey, uintptr]

	// allocated records the size most recently handed out per tensor,
	// mirroring mAllocatedSize.
	allocated *hashmap.Map[tensorKey, uintptr]
	ids       *hashmap.Map[tensorKey, string]

	disableWhileAdapting      bool
	shrinkPointer             uintptr
	tensorReversedAfterShrink []string
}

// NewHeuristicPlacer returns a placer with no strategy loaded; calling
// AllocHeuristically before SetStrategy always fails with ErrPlanMiss.
func NewHeuristicPlacer(source Allocator) *HeuristicPlacer {
	return &HeuristicPlacer{
		source:    source,
		plan:      hashmap.New[tensorKey, uintptr](0),
		live:      hashmap.New[tensorKey, uintptr](0),
		allocated: hashmap.New[tensorKey, uintptr](0),
		ids:       hashmap.New[tensorKey, string](0),
	}
}

// SetStrategy loads a precomputed plan mapping tensor id to offset
// within a single budget-byte arena. If needAlloc, the arena is obtained
// from the source immediately; otherwise it is deferred until the first
// AllocHeuristically call.
func (h *HeuristicPlacer) SetStrategy(plan map[string]uintptr, budget uintptr, alignBottom, needAlloc bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.plan = hashmap.New[tensorKey, uintptr](len(plan))
	h.live = hashmap.New[tensorKey, uintptr](len(plan))
	h.ids = hashmap.New[tensorKey, string](len(plan))
	h.allocated = hashmap.New[tensorKey, uintptr](len(plan))

	for id, off := range plan {
		k := hashTensorID(id)
		h.plan.Set(k, off)
		h.live.Set(k, off)
		h.ids.Set(k, id)
	}

	h.budget = budget
	h.alignBottom = alignBottom
	h.needAlloc = needAlloc
	h.arenaOK = false

	if needAlloc {
		arena, err := h.source.OnAlloc(budget)
		if err != nil {
			return ErrOutOfMemory
		}
		h.arena = arena
		h.arenaOK = true
	}
	return nil
}

func (h *HeuristicPlacer) ensureArena() error {
	if h.arenaOK {
		return nil
	}
	arena, err := h.source.OnAlloc(h.budget)
	if err != nil {
		return ErrOutOfMemory
	}
	h.arena = arena
	h.arenaOK = true
	return nil
}

// actualOffset converts a canonical, bottom-relative offset into the
// physical offset within the arena, honoring alignBottom: when set,
// tensors pack against the high end, so the canonical offset is mirrored
// across the budget.
func (h *HeuristicPlacer) actualOffset(off, size uintptr) uintptr {
	if h.alignBottom {
		return h.budget - off - size
	}
	return off
}

// AllocHeuristically looks up id in the plan and returns its bound
// range. Repeated calls for the same id return the same base+offset,
// provided no shrink has intervened in between.
func (h *HeuristicPlacer) AllocHeuristically(id string, size uintptr) (Range, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disableWhileAdapting {
		return Range{}, ErrContractViolation
	}

	k := hashTensorID(id)
	off, ok := h.live.Get(k)
	if !ok {
		return Range{}, ErrPlanMiss
	}

	if err := h.ensureArena(); err != nil {
		return Range{}, err
	}

	h.allocated.Set(k, size)
	base := h.arena.Base + h.actualOffset(off, size)
	return Range{Base: base, Size: size}, nil
}

// FreeHeuristically removes id's allocated-size bookkeeping. The arena
// itself is not released until Release is called (Backend.Close does so).
func (h *HeuristicPlacer) FreeHeuristically(id string, r Range) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := hashTensorID(id)
	if _, ok := h.allocated.Get(k); !ok {
		return false, nil
	}
	h.allocated.Delete(k)
	return true, nil
}

type tensorEntry struct {
	id     string
	key    tensorKey
	offset uintptr
	size   uintptr
}

// MoveTensor2Bottom re-packs the given live tensors contiguously into a
// notional arena of newBudget bytes, sorted by their current offset, and
// records the new canonical offsets plus a watermark of repacked bytes.
// It is all-or-nothing: if the repacked footprint would exceed newBudget,
// no state changes and the original bindings remain intact. While this
// call is in flight (and until AdaptTensorToNewAddress runs) no new
// heuristic allocations are permitted, so nothing can interleave with the
// repack.
func (h *HeuristicPlacer) MoveTensor2Bottom(tensors []string, newBudget uintptr) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]tensorEntry, 0, len(tensors))
	for _, id := range tensors {
		k := hashTensorID(id)
		off, ok := h.live.Get(k)
		if !ok {
			return nil, ErrPlanMiss
		}
		size, ok := h.allocated.Get(k)
		if !ok {
			return nil, ErrContractViolation
		}
		entries = append(entries, tensorEntry{id: id, key: k, offset: off, size: size})
	}

	slices.SortFunc(entries, func(a, b tensorEntry) int {
		if a.offset < b.offset {
			return -1
		}
		if a.offset > b.offset {
			return 1
		}
		return 0
	})

	newOffsets := make(map[tensorKey]uintptr, len(entries))
	var watermark uintptr
	for _, e := range entries {
		newOffsets[e.key] = watermark
		watermark += e.size
	}
	if watermark > newBudget {
		return nil, ErrBudgetExceeded
	}

	h.disableWhileAdapting = true
	for _, e := range entries {
		h.live.Set(e.key, newOffsets[e.key])
	}
	h.budget = newBudget
	h.shrinkPointer = watermark

	h.tensorReversedAfterShrink = make([]string, len(entries))
	for i, e := range entries {
		h.tensorReversedAfterShrink[i] = e.id
	}
	return append([]string(nil), h.tensorReversedAfterShrink...), nil
}

// AdaptTensorToNewAddress publishes the (base, offset) bindings computed
// by the most recent MoveTensor2Bottom for the given tensors and clears
// the adapt-in-progress flag so AllocHeuristically can resume.
func (h *HeuristicPlacer) AdaptTensorToNewAddress(tensors []string) (map[string]Range, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.disableWhileAdapting {
		return nil, ErrContractViolation
	}

	out := make(map[string]Range, len(tensors))
	for _, id := range tensors {
		k := hashTensorID(id)
		off, ok := h.live.Get(k)
		if !ok {
			return nil, ErrContractViolation
		}
		size, _ := h.allocated.Get(k)
		base := h.arena.Base + h.actualOffset(off, size)
		out[id] = Range{Base: base, Size: size}
	}

	h.disableWhileAdapting = false
	return out, nil
}

// ShrinkWatermark returns the repacked footprint, in bytes, computed by
// the most recent MoveTensor2Bottom call, or 0 if none has run yet.
func (h *HeuristicPlacer) ShrinkWatermark() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shrinkPointer
}

// PendingAdapt reports whether a MoveTensor2Bottom call is waiting on a
// matching AdaptTensorToNewAddress, and if so, in the repacked order.
func (h *HeuristicPlacer) PendingAdapt() (tensors []string, pending bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.disableWhileAdapting {
		return nil, false
	}
	return append([]string(nil), h.tensorReversedAfterShrink...), true
}

// PlannedIDs returns every tensor id covered by the currently loaded
// plan, for diagnostics.
func (h *HeuristicPlacer) PlannedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, h.ids.Len())
	h.ids.Scan(func(_ tensorKey, id string) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Release returns the arena to the source, if one was ever allocated.
func (h *HeuristicPlacer) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.arenaOK {
		return nil
	}
	if err := h.source.OnRelease(h.arena); err != nil {
		return err
	}
	h.arenaOK = false
	return nil
}
