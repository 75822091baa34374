package tensoralloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolAllocFreeReuse(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	assert.NoError(err)

	r1, err := pool.Alloc(64, false)
	assert.NoError(err)
	assert.Equal(uintptr(64), r1.Size)
	assert.Equal(uintptr(64), pool.UsedSize())
	assert.Equal(uintptr(64), pool.TotalSize())

	ok, err := pool.Free(r1)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(uintptr(0), pool.UsedSize())

	// a same-size request should now be served from the free list rather
	// than drawing a fresh root.
	r2, err := pool.Alloc(64, false)
	assert.NoError(err)
	assert.Equal(r1, r2)
	assert.Equal(uintptr(64), pool.TotalSize(), "reuse must not grow total size")
}

func TestPoolFreeUnknownRange(t *testing.T) {
	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ok, err := pool.Free(Range{Base: 999, Size: 32})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("freeing an unknown range should report false, not error")
	}
}

func TestPoolSeparateAllocNeverReuses(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	assert.NoError(err)

	r1, err := pool.Alloc(32, true)
	assert.NoError(err)
	_, err = pool.Free(r1)
	assert.NoError(err)

	r2, err := pool.Alloc(32, true)
	assert.NoError(err)
	assert.NotEqual(r1, r2, "separate allocations must always draw a fresh root")
	assert.Equal(uintptr(64), pool.TotalSize())
}

// TestPoolAllocSplitsFreeNodeIntoContiguousPieces is spec §8 Scenario 2:
// a single freed 4096-byte root, split three times over three 1024-byte
// requests, must yield three contiguous ranges inside the same root.
func TestPoolAllocSplitsFreeNodeIntoContiguousPieces(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	assert.NoError(err)

	root, err := pool.Alloc(4096, true)
	assert.NoError(err)
	ok, err := pool.Free(root)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(1, pool.DebugDump().FreeNodes, "the freed 4096 root should sit as a single free node")

	a, err := pool.Alloc(1024, false)
	assert.NoError(err)
	b, err := pool.Alloc(1024, false)
	assert.NoError(err)
	c, err := pool.Alloc(1024, false)
	assert.NoError(err)

	assert.Equal(root.Base, a.Base)
	assert.Equal(root.Base+1024, b.Base)
	assert.Equal(root.Base+2048, c.Base)
	assert.Equal(uintptr(4096), pool.TotalSize())
	assert.Equal(uintptr(3072), pool.UsedSize())
	assert.Equal(1, pool.DebugDump().FreeNodes, "the unconsumed 1024-byte tail of the root remains free")
}

// TestPoolCoalescesSiblingsBackIntoRoot is spec §8 Scenario 3: two sibling
// nodes split from the same root, once both are freed, must coalesce back
// into a single free node covering the whole root — not two independent
// free nodes, which is what freeing two *unrelated* roots would produce.
func TestPoolCoalescesSiblingsBackIntoRoot(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	assert.NoError(err)

	root, err := pool.Alloc(2048, true)
	assert.NoError(err)
	ok, err := pool.Free(root)
	assert.NoError(err)
	assert.True(ok)

	// split root into two 1024-byte siblings: the first Alloc splits it,
	// the second reuses the exact-fit remainder rather than splitting again.
	a, err := pool.Alloc(1024, false)
	assert.NoError(err)
	b, err := pool.Alloc(1024, false)
	assert.NoError(err)
	assert.Equal(root.Base, a.Base)
	assert.Equal(root.Base+1024, b.Base)
	assert.Equal(0, pool.DebugDump().FreeNodes, "both halves of the root are in use")

	ok, err = pool.Free(a)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(1, pool.DebugDump().FreeNodes, "only one sibling freed so far: no merge yet")

	ok, err = pool.Free(b)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(1, pool.DebugDump().FreeNodes, "freeing the second sibling must coalesce back into a single node")
	assert.Equal(uintptr(2048), pool.TotalSize(), "coalescing must not change total size")

	// the coalesced root should now satisfy a 2048-byte request directly,
	// without a fresh root from the source.
	r, err := pool.Alloc(2048, false)
	assert.NoError(err)
	assert.Equal(root, r)
	assert.Equal(uintptr(2048), pool.TotalSize(), "reuse of the coalesced root must not grow total size")
}

// TestPoolReleaseNonForcedWithMergeDisabledStillReclaimsFreeRoot covers
// Release(false) when PermitMerge is off: a fully-free subtree never
// coalesces back into one leaf, so eligibility can't be decided by asking
// whether the root itself sits in the free list — it must walk the
// subtree's leaves instead.
func TestPoolReleaseNonForcedWithMergeDisabledStillReclaimsFreeRoot(t *testing.T) {
	assert := assert.New(t)

	opts := DefaultOptions()
	opts.PermitMerge = false
	pool, err := NewPool("p", NewHostAllocator(), opts)
	assert.NoError(err)

	root, err := pool.Alloc(2048, true)
	assert.NoError(err)
	ok, err := pool.Free(root)
	assert.NoError(err)
	assert.True(ok)

	a, err := pool.Alloc(1024, false)
	assert.NoError(err)
	b, err := pool.Alloc(1024, false)
	assert.NoError(err)

	ok, err = pool.Free(a)
	assert.NoError(err)
	assert.True(ok)
	ok, err = pool.Free(b)
	assert.NoError(err)
	assert.True(ok)

	// with merging disabled the two leaves stay separate free nodes...
	assert.Equal(2, pool.DebugDump().FreeNodes)

	// ...but the whole root is still free, so a non-forced release must
	// still reclaim it rather than leaking it forever.
	pool.Release(false)
	assert.Equal(uintptr(0), pool.TotalSize(), "a fully-free root must be released even when it never coalesced into one node")
}

func TestPoolReleaseNonForcedKeepsUsedRoots(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	assert.NoError(err)

	r, err := pool.Alloc(32, true)
	assert.NoError(err)

	pool.Release(false)
	assert.Equal(uintptr(32), pool.TotalSize(), "an outstanding root must survive a non-forced release")

	ok, err := pool.Free(r)
	assert.NoError(err)
	assert.True(ok)

	pool.Release(false)
	assert.Equal(uintptr(0), pool.TotalSize(), "a fully-free root should be released once nothing holds it")
}

func TestPoolReleaseForcedClearsEverything(t *testing.T) {
	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Alloc(32, true); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Alloc(64, true); err != nil {
		t.Fatal(err)
	}

	pool.Release(true)
	if pool.TotalSize() != 0 || pool.UsedSize() != 0 {
		t.Fatalf("forced release should zero both sizes, got total=%d used=%d", pool.TotalSize(), pool.UsedSize())
	}

	// idempotent: calling again on an already-cleared pool is a no-op.
	pool.Release(true)
	if pool.TotalSize() != 0 {
		t.Fatal("second Release(true) must remain a no-op")
	}
}

func TestPoolBarrierGroupsIsolateConcurrentReuse(t *testing.T) {
	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	pool.BarrierBegin()
	if err := pool.BeginGroup(); err != nil {
		t.Fatal(err)
	}
	if err := pool.BeginGroup(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	seen := make(map[Range]bool)
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := pool.Alloc(16, false)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			if seen[r] {
				t.Error("two concurrent group allocations returned the same range")
			}
			seen[r] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := pool.EndGroup(); err != nil {
		t.Fatal(err)
	}
	if err := pool.EndGroup(); err != nil {
		t.Fatal(err)
	}
	if err := pool.BarrierEnd(); err != nil {
		t.Fatal(err)
	}
}

func TestPoolGroupContractViolations(t *testing.T) {
	pool, err := NewPool("p", NewHostAllocator(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	if err := pool.BeginGroup(); err != ErrContractViolation {
		t.Fatalf("BeginGroup outside a barrier should violate the contract, got %v", err)
	}

	pool.BarrierBegin()
	if err := pool.BeginGroup(); err != nil {
		t.Fatal(err)
	}
	if err := pool.BarrierEnd(); err != ErrContractViolation {
		t.Fatalf("BarrierEnd with an open group should violate the contract, got %v", err)
	}
	if err := pool.EndGroup(); err != nil {
		t.Fatal(err)
	}
	if err := pool.EndGroup(); err != ErrContractViolation {
		t.Fatalf("EndGroup with nothing open should violate the contract, got %v", err)
	}
}

func TestPoolHandsOutAlignedBasesAndSizes(t *testing.T) {
	opts := DefaultOptions()
	opts.Align = 16
	pool, err := NewPool("p", NewHostAllocator(), opts)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []uintptr{1, 15, 17, 100} {
		r, err := pool.Alloc(want, true)
		if err != nil {
			t.Fatal(err)
		}
		if r.Base%opts.Align != 0 {
			t.Fatalf("Alloc(%d) returned unaligned base %d", want, r.Base)
		}
		if r.Size%opts.Align != 0 {
			t.Fatalf("Alloc(%d) returned unaligned size %d", want, r.Size)
		}
	}
}

func TestPoolRejectsBadAlignment(t *testing.T) {
	opts := DefaultOptions()
	opts.Align = 3
	if _, err := NewPool("p", NewHostAllocator(), opts); err == nil {
		t.Fatal("a non-power-of-two alignment must be rejected")
	}
}

func TestRecurseAllocatorDelegatesToParent(t *testing.T) {
	parent, err := NewPool("parent", NewHostAllocator(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	child, err := NewPool("child", NewRecurseAllocator(parent), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	r, err := child.Alloc(128, false)
	if err != nil {
		t.Fatal(err)
	}
	if parent.UsedSize() != 128 {
		t.Fatalf("parent.UsedSize() = %d, want 128 (drawn on behalf of the child)", parent.UsedSize())
	}

	ok, err := child.Free(r)
	if err != nil || !ok {
		t.Fatalf("child.Free failed: ok=%v err=%v", ok, err)
	}
}
