package tensoralloc

import "sync"

// CopyFunc moves bytes from src to dst. tensoralloc never dereferences a
// Range itself (§9's opaque-pair design note), so the actual memory
// movement for onCopyBuffer is always supplied by the caller; this
// package only owns the bounce-buffer policy and the direction routing.
type CopyFunc func(dst, src Range) error

// bounceBuffer is the host-side scratch range used when copying between
// two different device backends. It is the single-slot (K=1)
// specialization of scache.go's "retain the largest space seen, discard
// anything smaller" policy: growing never shrinks the buffer, it only
// ever replaces it with something bigger.
type bounceBuffer struct {
	mu     sync.Mutex
	source Allocator
	size   uintptr
	held   Range
}

func newBounceBuffer(source Allocator) *bounceBuffer {
	return &bounceBuffer{source: source}
}

// ensure returns a range of at least need bytes, growing the held buffer
// if necessary. Shrinking the requirement never shrinks the buffer.
func (b *bounceBuffer) ensure(need uintptr) (Range, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if need <= b.size {
		return b.held, nil
	}

	if b.size > 0 {
		_ = b.source.OnRelease(b.held)
	}

	r, err := b.source.OnAlloc(need)
	if err != nil {
		return Range{}, ErrOutOfMemory
	}
	b.held = r
	b.size = r.Size
	return r, nil
}

// release returns the bounce buffer to the source, if one was ever grown.
func (b *bounceBuffer) release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}
	err := b.source.OnRelease(b.held)
	b.size = 0
	b.held = Range{}
	return err
}
