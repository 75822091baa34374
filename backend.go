package tensoralloc

import (
	"sync"

	"github.com/sourcegraph/conc"
)

// StorageType is the lifetime/reuse discipline of a buffer, mirroring
// MNN's Backend::StorageType.
type StorageType int

const (
	// StorageStatic never reuses a range once handed out; release is a
	// no-op until the whole backend is torn down.
	StorageStatic StorageType = iota
	// StorageDynamic reuses ranges within the pool selected by the active
	// BufferType.
	StorageDynamic
	// StorageDynamicSeparate draws from its own pool, isolated from the
	// per-BufferType dynamic pools, and is fully returned on every clear.
	StorageDynamicSeparate
)

// BufferType selects which dynamic pool a StorageDynamic request lands
// in, mirroring MNN's DYNAMIC_OTHER/DYNAMIC_OUTPUT/DYNAMIC_RESIZE tags.
type BufferType int

const (
	BufferOther BufferType = iota
	BufferOutput
	BufferResize
	bufferTypeCount
)

// TensorBuffer is the narrow contract a caller's tensor type must satisfy
// to participate in buffer acquisition. Shape, dtype and layout are out
// of scope for this package (see spec's Non-goals) and never appear here;
// only identity, size, device, and the ability to receive an address do.
type TensorBuffer interface {
	TensorID() string
	ByteSize() uintptr
	// Device identifies which backend/device owns this tensor's memory.
	// The empty string means host memory.
	Device() string
	CurrentRange() Range
	BindRange(r Range)
}

type binding struct {
	storage   StorageType
	bufType   BufferType
	r         Range
	heuristic bool
}

// Backend composes the pools and the heuristic placer into the single
// acquire/release/clear surface spec §4.5 describes, the Go counterpart
// of MNN's Backend.hpp buffer-management half.
type Backend struct {
	mu sync.Mutex

	static   *Pool
	dynamic  [bufferTypeCount]*Pool
	separate *Pool

	heuristic        *HeuristicPlacer
	heuristicEnabled bool

	bounce           *bounceBuffer
	activeBufferType BufferType
	hybridThreshold  uintptr

	bindings map[string]binding
}

// NewBackend builds a Backend drawing every pool from source.
func NewBackend(source Allocator, opts Options) (*Backend, error) {
	static, err := NewPool("static", source, opts)
	if err != nil {
		return nil, err
	}
	separate, err := NewPool("dynamic-separate", source, opts)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		static:          static,
		separate:        separate,
		heuristic:       NewHeuristicPlacer(source),
		bounce:          newBounceBuffer(source),
		hybridThreshold: DefaultHybridThreshold,
		bindings:        make(map[string]binding),
	}
	for i := range b.dynamic {
		pool, err := NewPool("dynamic", source, opts)
		if err != nil {
			return nil, err
		}
		b.dynamic[i] = pool
	}
	return b, nil
}

// ChangeBufferType switches which dynamic pool subsequent StorageDynamic
// acquisitions draw from.
func (b *Backend) ChangeBufferType(bt BufferType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeBufferType = bt
}

// SetHybridThreshold overrides DefaultHybridThreshold.
func (b *Backend) SetHybridThreshold(n uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hybridThreshold = n
}

// SetHeuristicStrategy enables or disables heuristic placement, mirroring
// Backend::setHeuristicStrategy. Disabling does not release the arena;
// only Close releases it.
func (b *Backend) SetHeuristicStrategy(enable bool, plan map[string]uintptr, budget uintptr, alignBottom, needAlloc bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.heuristicEnabled = enable
	if !enable {
		return nil
	}
	return b.heuristic.SetStrategy(plan, budget, alignBottom, needAlloc)
}

// OnAcquireBuffer allocates storage for t according to storage, binds the
// resulting range onto t, and records the binding so OnReleaseBuffer can
// route the matching free correctly.
//
// When heuristic placement is enabled and storage is StorageDynamic, the
// plan is consulted first; a miss falls through to the general dynamic
// pool rather than failing the request (see DESIGN.md's Open Questions:
// the plan is treated as a hint, not a mandatory cover of every tensor).
func (b *Backend) OnAcquireBuffer(t TensorBuffer, storage StorageType) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := t.ByteSize()
	bt := b.activeBufferType

	if storage == StorageDynamic && b.heuristicEnabled {
		r, err := b.heuristic.AllocHeuristically(t.TensorID(), size)
		if err == nil {
			b.bindings[t.TensorID()] = binding{storage: storage, bufType: bt, r: r, heuristic: true}
			t.BindRange(r)
			return true, nil
		}
		if err != ErrPlanMiss {
			return false, err
		}
	}

	var (
		r   Range
		err error
	)
	switch storage {
	case StorageStatic:
		r, err = b.static.Alloc(size, true)
	case StorageDynamicSeparate:
		r, err = b.separate.Alloc(size, true)
	default:
		pool := b.dynamic[bt]
		if bt == BufferOutput && b.hybridThreshold > 0 && size >= b.hybridThreshold {
			// Oversized hybrid outputs bypass free-list reuse and go
			// straight to a fresh root, per Backend::onRequireBufferHybrid.
			r, err = pool.Alloc(size, true)
		} else {
			r, err = pool.Alloc(size, false)
		}
	}
	if err != nil {
		return false, err
	}

	b.bindings[t.TensorID()] = binding{storage: storage, bufType: bt, r: r, heuristic: false}
	t.BindRange(r)
	return true, nil
}

// OnReleaseBuffer returns t's range, if any, to the pool it came from.
// StorageStatic releases are a no-op: static buffers live until the
// backend itself is torn down.
func (b *Backend) OnReleaseBuffer(t TensorBuffer, storage StorageType) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if storage == StorageStatic {
		return true, nil
	}

	bnd, ok := b.bindings[t.TensorID()]
	if !ok {
		return false, ErrUnknownRange
	}
	delete(b.bindings, t.TensorID())

	if bnd.heuristic {
		return b.heuristic.FreeHeuristically(t.TensorID(), bnd.r)
	}

	switch bnd.storage {
	case StorageDynamicSeparate:
		return b.separate.Free(bnd.r)
	default:
		return b.dynamic[bnd.bufType].Free(bnd.r)
	}
}

// OnClearBuffer releases every dynamic and dynamic-separate root,
// concurrently, mirroring onClearBuffer; static storage is untouched.
func (b *Backend) OnClearBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var wg conc.WaitGroup
	for _, pool := range b.dynamic {
		pool := pool
		wg.Go(func() { pool.Release(true) })
	}
	wg.Go(func() { b.separate.Release(true) })
	wg.Wait()

	for id, bnd := range b.bindings {
		if bnd.storage != StorageStatic {
			delete(b.bindings, id)
		}
	}
}

// Close tears the backend down entirely: static storage, every dynamic
// pool, the separate pool, the heuristic arena, and the copy bounce
// buffer.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.static.Release(true)
	for _, pool := range b.dynamic {
		pool.Release(true)
	}
	b.separate.Release(true)
	if err := b.heuristic.Release(); err != nil {
		return err
	}
	return b.bounce.release()
}

// UsedSize sums the currently outstanding bytes across every pool.
func (b *Backend) UsedSize() uintptr {
	var sum uintptr
	sum += b.static.UsedSize()
	for _, pool := range b.dynamic {
		sum += pool.UsedSize()
	}
	sum += b.separate.UsedSize()
	return sum
}

// MoveTensor2Bottom delegates to the heuristic placer.
func (b *Backend) MoveTensor2Bottom(tensors []string, newBudget uintptr) ([]string, error) {
	return b.heuristic.MoveTensor2Bottom(tensors, newBudget)
}

// AdaptTensorToNewAddress delegates to the heuristic placer.
func (b *Backend) AdaptTensorToNewAddress(tensors []string) (map[string]Range, error) {
	return b.heuristic.AdaptTensorToNewAddress(tensors)
}

// OnCopyBuffer moves src's bytes into dst using mover for the actual data
// transfer, choosing among the four directions spec §4.6 describes. Only
// the device-to-different-device case needs the backend's own bounce
// buffer; the other three are a single direct call.
func (b *Backend) OnCopyBuffer(src, dst TensorBuffer, mover CopyFunc) error {
	sr, dr := src.CurrentRange(), dst.CurrentRange()

	srcDev, dstDev := src.Device(), dst.Device()
	if srcDev == dstDev || srcDev == "" || dstDev == "" {
		return mover(dr, sr)
	}

	bounce, err := b.bounce.ensure(src.ByteSize())
	if err != nil {
		return err
	}
	if err := mover(bounce, sr); err != nil {
		return err
	}
	return mover(dr, bounce)
}
