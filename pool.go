package tensoralloc

import (
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/tidwall/hashmap"
)

// Pool is the allocation engine described by spec §4.3: it serves
// aligned requests by best-fit over a free list with optional splitting,
// returns ranges with optional merging, and manages group-scoped free
// lists under the barrier protocol in group.go.
//
// Pool mirrors the teacher's GigaCache/bucket split: GigaCache sharded a
// single key space across many buckets to avoid lock contention; Pool
// instead keeps one free list per logical client (main pool, or one per
// active group) so concurrent groups never hand out overlapping ranges.
type Pool struct {
	mu sync.Mutex

	name   string
	source Allocator
	align  uintptr

	totalSize uintptr
	usedSize  uintptr

	mainFree *FreeList
	used     *hashmap.Map[Range, *Node]
	roots    []*Node

	groups     []*FreeList
	inBarrier  bool
	permitSplt bool
	permitMrg  bool

	hist *sizeHistogram
}

// NewPool creates a Pool that draws fresh ranges from source.
func NewPool(name string, source Allocator, opts Options) (*Pool, error) {
	if err := checkOptions(opts); err != nil {
		return nil, err
	}
	return &Pool{
		name:       name,
		source:     source,
		align:      opts.Align,
		mainFree:   newFreeList(),
		used:       hashmap.New[Range, *Node](0),
		permitSplt: opts.PermitSplit,
		permitMrg:  opts.PermitMerge,
		hist:       newSizeHistogram(),
	}, nil
}

// currentFreeList returns the group-top free list if a group is active,
// otherwise the main free list. Must be called with mu held.
func (p *Pool) currentFreeList() *FreeList {
	if len(p.groups) > 0 {
		return p.groups[len(p.groups)-1]
	}
	return p.mainFree
}

// Alloc rounds size up to the pool's alignment and serves it. If separate
// is true the free list is skipped entirely and a fresh root is obtained
// from the source. Otherwise the current free list (group-top, or main)
// is consulted first; on a miss a fresh root is obtained and registered.
func (p *Pool) Alloc(size uintptr, separate bool) (Range, error) {
	size = alignUp(size, p.align)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.hist.observe(size)

	if separate {
		n, err := p.newRoot(size)
		if err != nil {
			return Range{}, err
		}
		p.used.Set(n.Range, n)
		p.usedSize += n.Range.Size
		return n.Range, nil
	}

	list := p.currentFreeList()
	if n, ok := getFromFreeList(list, size, p.align, p.permitSplt); ok {
		p.used.Set(n.Range, n)
		p.usedSize += n.Range.Size
		return n.Range, nil
	}

	n, err := p.newRoot(size)
	if err != nil {
		return Range{}, err
	}
	p.used.Set(n.Range, n)
	p.usedSize += n.Range.Size
	return n.Range, nil
}

// newRoot obtains a fresh range from the source and wraps it in a root
// Node. Must be called with mu held.
func (p *Pool) newRoot(size uintptr) (*Node, error) {
	r, err := p.source.OnAlloc(size)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	n := &Node{Range: r, outside: p.source}
	p.roots = append(p.roots, n)
	p.totalSize += r.Size
	return n, nil
}

// Free looks up r in the used list and, if found, returns its node to
// the main free list, even when it was drawn inside a group (see
// homeFreeList); EndGroup only carries over the nodes still sitting in
// the group's own free list (see group.go).
func (p *Pool) Free(r Range) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.used.Get(r)
	if !ok {
		return false, nil
	}
	p.used.Delete(r)
	p.usedSize -= r.Size

	returnMemory(p.homeFreeList(n), n, p.permitMrg)
	return true, nil
}

// homeFreeList decides which free list a node being returned belongs to.
// Since groups only ever draw split children from lists that were
// themselves seeded by the main pool's roots, returning to the main list
// is always structurally correct; group membership only matters for
// which list is *consulted* on alloc, not which list a free lands in.
func (p *Pool) homeFreeList(_ *Node) *FreeList {
	return p.mainFree
}

// Release returns roots to the source. If allRelease, every root is
// released and all pool state is cleared, regardless of outstanding
// uses. Otherwise only roots whose entire subtree is currently free are
// released, leaving used ranges intact. Release(true) is idempotent:
// calling it twice in a row is equivalent to calling it once.
func (p *Pool) Release(allRelease bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.roots) == 0 {
		return
	}

	if allRelease {
		var wg conc.WaitGroup
		for _, root := range p.roots {
			root := root
			wg.Go(func() { _ = p.source.OnRelease(root.Range) })
		}
		wg.Wait()

		p.roots = nil
		p.mainFree = newFreeList()
		p.used = hashmap.New[Range, *Node](0)
		p.groups = nil
		p.totalSize = 0
		p.usedSize = 0
		return
	}

	kept := p.roots[:0]
	for _, root := range p.roots {
		if p.releaseRootIfFree(root) {
			continue
		}
		kept = append(kept, root)
	}
	p.roots = kept
}

// subtreeFree reports whether every leaf of n's subtree is currently
// free. A leaf's status comes from the used list (the only place a leaf
// is recorded as outstanding); an internal node is free iff both of its
// children are. This holds regardless of PermitMerge: with merging
// disabled, a fully-free subtree never coalesces back into a single leaf
// sitting in the free list, so checking the free list directly (as
// releasing used to) misses it entirely. A node is internal only when its
// left pointer holds a child (a node whose parent is n); a leaf's
// left/right may still hold the sibling link set by split.
func (p *Pool) subtreeFree(n *Node) bool {
	if n.left == nil || n.left.parent != n {
		_, used := p.used.Get(n.Range)
		return !used
	}
	return p.subtreeFree(n.left) && p.subtreeFree(n.right)
}

// removeFreeLeaves removes every leaf of n's subtree from the free list
// it's currently parked in, in preparation for releasing the whole
// subtree's root back to the source.
func (p *Pool) removeFreeLeaves(n *Node) {
	if n.left == nil || n.left.parent != n {
		p.mainFree.remove(n)
		return
	}
	p.removeFreeLeaves(n.left)
	p.removeFreeLeaves(n.right)
}

// releaseRootIfFree releases root to the source and reports true if its
// entire subtree is free, regardless of whether merging ever coalesced
// it back into a single node.
func (p *Pool) releaseRootIfFree(root *Node) bool {
	if !p.subtreeFree(root) {
		return false
	}
	p.removeFreeLeaves(root)
	_ = p.source.OnRelease(root.Range)
	p.totalSize -= root.Range.Size
	return true
}

// TotalSize returns the sum of every root range obtained from the
// source, used or free.
func (p *Pool) TotalSize() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalSize
}

// UsedSize returns the sum of sizes of currently outstanding ranges.
func (p *Pool) UsedSize() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedSize
}
