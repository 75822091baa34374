package tensoralloc

import "testing"

func BenchmarkPoolAlloc(b *testing.B) {
	b.Run("stdmap-backed", func(b *testing.B) {
		m := make(map[int][]byte)
		for i := 0; i < b.N; i++ {
			m[i] = make([]byte, 256)
		}
	})

	b.Run("Pool", func(b *testing.B) {
		pool, err := NewPool("bench", NewHostAllocator(), DefaultOptions())
		if err != nil {
			b.Fatal(err)
		}
		for i := 0; i < b.N; i++ {
			if _, err := pool.Alloc(256, false); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkPoolAllocFreeChurn(b *testing.B) {
	pool, err := NewPool("bench", NewHostAllocator(), DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		r, err := pool.Alloc(128, false)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := pool.Free(r); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHeuristicAlloc(b *testing.B) {
	h := NewHeuristicPlacer(NewHostAllocator())
	plan := map[string]uintptr{"t": 0}
	if err := h.SetStrategy(plan, 256, false, true); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.AllocHeuristically("t", 256); err != nil {
			b.Fatal(err)
		}
	}
}
