package tensoralloc

import "errors"

// Options is the configuration of a Pool.
type Options struct {
	// Align is the byte alignment every handed-out base and size is
	// rounded to. Must be a power of two.
	Align uintptr

	// PermitSplit enables splitting an oversized free node on reuse
	// instead of always handing out the whole node.
	PermitSplit bool

	// PermitMerge enables coalescing adjacent free siblings back into
	// their parent on free.
	PermitMerge bool
}

// DefaultHybridThreshold matches MNN_HYBRID_DYNAMIC_THRESHOLD (4 MiB). It
// is a Backend-level policy knob, not a Pool one: the pool applies no
// size threshold, and it is the backend adapter that decides whether a
// given request skips free-list reuse and takes a fresh root (see
// Backend.OnAcquireBuffer).
const DefaultHybridThreshold = 4 * 1024 * 1024

// DefaultOptions returns the default pool configuration: platform-word
// alignment, splitting and merging both enabled.
func DefaultOptions() Options {
	return Options{
		Align:       8,
		PermitSplit: true,
		PermitMerge: true,
	}
}

func checkOptions(o Options) error {
	if o.Align == 0 || o.Align&(o.Align-1) != 0 {
		return errors.New("tensoralloc/options: align must be a power of two")
	}
	return nil
}

func alignUp(size, align uintptr) uintptr {
	return (size + align - 1) &^ (align - 1)
}
