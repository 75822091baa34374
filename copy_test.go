package tensoralloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnCopyBufferDirectPaths(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBackend(NewHostAllocator(), DefaultOptions())
	assert.NoError(err)

	src := &fakeTensor{id: "src", size: 32, device: "", r: Range{Base: 1, Size: 32}}
	dst := &fakeTensor{id: "dst", size: 32, device: "", r: Range{Base: 2, Size: 32}}

	var got [2]Range
	mover := func(d, s Range) error {
		got[0], got[1] = d, s
		return nil
	}

	assert.NoError(b.OnCopyBuffer(src, dst, mover))
	assert.Equal(dst.r, got[0])
	assert.Equal(src.r, got[1])
}

func TestOnCopyBufferSameDeviceIsDirect(t *testing.T) {
	b, err := NewBackend(NewHostAllocator(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeTensor{id: "src", size: 16, device: "cuda:0", r: Range{Base: 1, Size: 16}}
	dst := &fakeTensor{id: "dst", size: 16, device: "cuda:0", r: Range{Base: 2, Size: 16}}

	calls := 0
	mover := func(d, s Range) error { calls++; return nil }

	if err := b.OnCopyBuffer(src, dst, mover); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("same-device copy should be a single direct call, got %d", calls)
	}
}

func TestOnCopyBufferCrossDeviceUsesBounce(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBackend(NewHostAllocator(), DefaultOptions())
	assert.NoError(err)

	src := &fakeTensor{id: "src", size: 16, device: "cuda:0", r: Range{Base: 1, Size: 16}}
	dst := &fakeTensor{id: "dst", size: 16, device: "metal:0", r: Range{Base: 2, Size: 16}}

	var calls []Range
	mover := func(d, s Range) error {
		calls = append(calls, d)
		return nil
	}

	assert.NoError(b.OnCopyBuffer(src, dst, mover))
	assert.Len(calls, 2, "cross-backend copy must bounce through a host range")
	assert.Equal(dst.r, calls[1], "the final call must target dst directly")
	assert.NotEqual(src.r, calls[0])
	assert.NotEqual(dst.r, calls[0])

	// the bounce buffer must be reused, not regrown, for a same-size
	// follow-up copy.
	held := b.bounce.held
	dst2 := &fakeTensor{id: "dst2", size: 16, device: "metal:0", r: Range{Base: 3, Size: 16}}
	assert.NoError(b.OnCopyBuffer(src, dst2, mover))
	assert.Equal(held, b.bounce.held)
}

func TestBounceBufferGrowsButNeverShrinks(t *testing.T) {
	assert := assert.New(t)

	bb := newBounceBuffer(NewHostAllocator())

	r1, err := bb.ensure(16)
	assert.NoError(err)
	assert.Equal(uintptr(16), r1.Size)

	r2, err := bb.ensure(64)
	assert.NoError(err)
	assert.Equal(uintptr(64), r2.Size)

	r3, err := bb.ensure(8)
	assert.NoError(err)
	assert.Equal(r2, r3, "a smaller request must reuse the already-grown buffer")

	assert.NoError(bb.release())
	assert.Equal(uintptr(0), bb.size)
}
