// Command bufbench compares tensoralloc's Pool against a bigcache-backed
// arena and a bare stdlib map under a workload of same-sized
// allocations (only the pool run frees, every other one), reporting heap
// and GC pressure the way the
// teacher's benchmark/main.go compared GigaCache against a stdmap.
package main

import (
	"flag"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/xgzlucario/tensoralloc"
)

var previousPause time.Duration

func gcPause() time.Duration {
	runtime.GC()
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	pause := stats.PauseTotal - previousPause
	previousPause = stats.PauseTotal
	return pause
}

func runPool(entries, size int) {
	pool, err := tensoralloc.NewPool("bench", tensoralloc.NewHostAllocator(), tensoralloc.DefaultOptions())
	if err != nil {
		panic(err)
	}
	ranges := make([]tensoralloc.Range, entries)
	for i := 0; i < entries; i++ {
		r, err := pool.Alloc(uintptr(size), false)
		if err != nil {
			panic(err)
		}
		ranges[i] = r
		if i%2 == 0 {
			pool.Free(r)
		}
	}
}

func runBigcache(entries, size int) {
	bc, err := bigcache.New(nil, bigcache.DefaultConfig(10*time.Minute))
	if err != nil {
		panic(err)
	}
	val := make([]byte, size)
	for i := 0; i < entries; i++ {
		key := fmt.Sprintf("%08x", i)
		_ = bc.Set(key, val)
	}
}

func runStdmap(entries, size int) {
	m := make(map[int][]byte, entries)
	for i := 0; i < entries; i++ {
		m[i] = make([]byte, size)
	}
}

func main() {
	mode := flag.String("mode", "pool", "pool | bigcache | stdmap")
	entries := flag.Int("entries", 2_000_000, "number of allocations to test")
	size := flag.Int("size", 256, "bytes per allocation")
	flag.Parse()

	fmt.Println(*mode)
	fmt.Println("entries:", *entries)

	start := time.Now()
	switch *mode {
	case "pool":
		runPool(*entries, *size)
	case "bigcache":
		runBigcache(*entries, *size)
	case "stdmap":
		runStdmap(*entries, *size)
	default:
		fmt.Println("unknown mode:", *mode)
		return
	}
	cost := time.Since(start)

	var mem runtime.MemStats
	var stat debug.GCStats
	runtime.ReadMemStats(&mem)
	debug.ReadGCStats(&stat)

	fmt.Println("alloc:", mem.Alloc/1024/1024, "mb")
	fmt.Println("gcsys:", mem.GCSys/1024/1024, "mb")
	fmt.Println("heap inuse:", mem.HeapInuse/1024/1024, "mb")
	fmt.Println("gc:", stat.NumGC)
	fmt.Println("pause:", gcPause())
	fmt.Println("cost:", cost)
}
