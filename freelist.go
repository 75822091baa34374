package tensoralloc

import (
	"github.com/tidwall/hashmap"
	"golang.org/x/exp/rand"
	"golang.org/x/exp/slices"
)

// FreeList is the size-indexed multimap of currently free nodes: the Go
// analogue of MNN's std::multimap<size_t, shared_ptr<Node>>. Multiple
// free nodes of identical size coexist in the same bucket; sizes is kept
// sorted so "smallest free size >= request" is a binary search rather
// than a full scan, the same bookkeeping trick arena.go uses to keep its
// level table ordered after every Free.
type FreeList struct {
	buckets *hashmap.Map[uintptr, []*Node]
	sizes   []uintptr
}

func newFreeList() *FreeList {
	return &FreeList{buckets: hashmap.New[uintptr, []*Node](0)}
}

func (fl *FreeList) insert(n *Node) {
	size := n.Range.Size
	list, ok := fl.buckets.Get(size)
	if !ok {
		i, found := slices.BinarySearch(fl.sizes, size)
		if !found {
			fl.sizes = slices.Insert(fl.sizes, i, size)
		}
	}
	fl.buckets.Set(size, append(list, n))
}

// remove deletes the specific node n (by identity, not just by size) from
// the free list. FIFO among equal-size nodes is not required, so this
// swap-deletes rather than preserving insertion order.
func (fl *FreeList) remove(n *Node) bool {
	size := n.Range.Size
	list, ok := fl.buckets.Get(size)
	if !ok {
		return false
	}
	for i, cand := range list {
		if cand == n {
			list[i] = list[len(list)-1]
			list = list[:len(list)-1]
			if len(list) == 0 {
				fl.buckets.Delete(size)
				if i, found := slices.BinarySearch(fl.sizes, size); found {
					fl.sizes = slices.Delete(fl.sizes, i, i+1)
				}
			} else {
				fl.buckets.Set(size, list)
			}
			return true
		}
	}
	return false
}

// bestFit returns the smallest free node with size >= want, removing it
// from the list. Among equal-size candidates the pick is arbitrary (any
// selection is a valid tie-break per the allocator's contract); among
// exact-fit vs splittable candidates at different sizes, the binary
// search below always prefers an exact-size bucket when one exists.
func (fl *FreeList) bestFit(want uintptr) (*Node, bool) {
	idx, _ := slices.BinarySearch(fl.sizes, want)
	if idx >= len(fl.sizes) {
		return nil, false
	}
	size := fl.sizes[idx]
	list, _ := fl.buckets.Get(size)
	pick := rand.Intn(len(list))
	n := list[pick]
	list[pick] = list[len(list)-1]
	list = list[:len(list)-1]
	if len(list) == 0 {
		fl.buckets.Delete(size)
		fl.sizes = slices.Delete(fl.sizes, idx, idx+1)
	} else {
		fl.buckets.Set(size, list)
	}
	return n, true
}

func (fl *FreeList) len() int {
	n := 0
	fl.buckets.Scan(func(_ uintptr, list []*Node) bool {
		n += len(list)
		return true
	})
	return n
}

// getFromFreeList finds the smallest free node with size >= size. When
// permitSplit is set and the node is at least align bytes bigger than
// needed, it is split in two: a left child covering exactly size, handed
// back in use, and a right child covering the remainder, reinserted as
// free. Otherwise the whole node is handed back as-is.
func getFromFreeList(list *FreeList, size, align uintptr, permitSplit bool) (*Node, bool) {
	n, ok := list.bestFit(size)
	if !ok {
		return nil, false
	}

	if permitSplit && n.Range.Size >= size+align && n.Range.Size != size {
		left, right := n.split(size)
		n.useCount = 1
		if n.parent != nil {
			n.parent.useCount++
		}
		list.insert(right)
		return left, true
	}

	if n.parent != nil {
		n.parent.useCount++
	}
	return n, true
}

// returnMemory places node onto list. When permitMerge is set and node's
// immediate sibling is also currently free (node's parent has no other
// outstanding child, and the sibling is actually sitting in list), both
// children are coalesced back into the parent and the merge is attempted
// one level further up.
func returnMemory(list *FreeList, node *Node, permitMerge bool) {
	parent := node.parent
	if parent != nil {
		parent.useCount--
	}

	if !permitMerge || parent == nil {
		list.insert(node)
		return
	}

	sib := node.sibling()
	if parent.useCount == 0 && sib != nil && list.remove(sib) {
		parent.left, parent.right = nil, nil
		returnMemory(list, parent, true)
		return
	}

	list.insert(node)
}
