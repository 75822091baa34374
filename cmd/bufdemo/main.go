// Command bufdemo runs a Backend under a steady acquire/release churn and
// prints periodic stats, the way the teacher's example/main.go ran
// GigaCache under a steady Set/Get churn and printed periodic stats.
package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xgzlucario/tensoralloc"
)

// demoTensor is the minimal TensorBuffer a standalone demo needs: no
// real shape or dtype, just an id, a size and a place to remember its
// bound range.
type demoTensor struct {
	id   string
	size uintptr
	r    tensoralloc.Range
}

func (t *demoTensor) TensorID() string                { return t.id }
func (t *demoTensor) ByteSize() uintptr               { return t.size }
func (t *demoTensor) Device() string                  { return "" }
func (t *demoTensor) CurrentRange() tensoralloc.Range { return t.r }
func (t *demoTensor) BindRange(r tensoralloc.Range)   { t.r = r }

func main() {
	backend, err := tensoralloc.NewBackend(tensoralloc.NewHostAllocator(), tensoralloc.DefaultOptions())
	if err != nil {
		panic(err)
	}

	start := time.Now()
	var acquired, released int64

	go func() {
		for i := 0; ; i++ {
			time.Sleep(time.Second / 10)
			if i%100 == 0 {
				fmt.Printf("[Backend] %.0fs\tacquired: %d\treleased: %d\tused: %d bytes\n",
					time.Since(start).Seconds(), acquired, released, backend.UsedSize())
			}
		}
	}()

	for i := 0; ; i++ {
		t := &demoTensor{id: strconv.Itoa(i), size: 256}

		ok, err := backend.OnAcquireBuffer(t, tensoralloc.StorageDynamic)
		if err != nil || !ok {
			panic(err)
		}
		acquired++

		if i%2 == 0 {
			ok, err := backend.OnReleaseBuffer(t, tensoralloc.StorageDynamic)
			if err != nil || !ok {
				panic(err)
			}
			released++
		}

		i %= 1_000_000_000
		time.Sleep(time.Microsecond)
	}
}
