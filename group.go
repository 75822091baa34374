package tensoralloc

// BarrierBegin opens a multi-thread region. Outside a barrier, callers
// must serialize their own access to the pool; inside one, each thread
// that wants isolated reuse must bracket its work with BeginGroup/EndGroup.
func (p *Pool) BarrierBegin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inBarrier = true
}

// BarrierEnd closes the region opened by BarrierBegin. Any groups still
// open at this point are a contract violation: callers are expected to
// have matched every BeginGroup with an EndGroup before ending the
// barrier.
func (p *Pool) BarrierEnd() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.groups) != 0 {
		return ErrContractViolation
	}
	p.inBarrier = false
	return nil
}

// BeginGroup pushes a fresh group-local free list. Allocations made while
// this group is the innermost one consult only this list for reuse —
// never the main list or an outer group's list — and fall through to the
// source on a miss, so concurrently active groups can never be handed the
// same node. BeginGroup outside an active barrier is a contract
// violation.
func (p *Pool) BeginGroup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inBarrier {
		return ErrContractViolation
	}
	p.groups = append(p.groups, newFreeList())
	return nil
}

// EndGroup pops the innermost group and merges whatever is left in its
// free list into the enclosing scope (the next group down, or the main
// list if this was the outermost group). Nodes that were actually
// consumed and freed again during the group's lifetime already went
// through Pool.Free and landed in the main list per homeFreeList, so this
// merge only needs to carry over nodes the group never handed out.
func (p *Pool) EndGroup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.groups) == 0 {
		return ErrContractViolation
	}

	g := p.groups[len(p.groups)-1]
	p.groups = p.groups[:len(p.groups)-1]

	dest := p.mainFree
	if len(p.groups) > 0 {
		dest = p.groups[len(p.groups)-1]
	}

	g.buckets.Scan(func(_ uintptr, nodes []*Node) bool {
		for _, n := range nodes {
			dest.insert(n)
		}
		return true
	})
	return nil
}
