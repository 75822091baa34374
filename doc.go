// Package tensoralloc implements a reusable buffer allocator for serving
// tensor-buffer requests during graph preparation and execution.
//
// The core pieces are layered bottom-up: an Allocator abstracts the
// underlying memory source (host heap, device buffer, or a parent pool),
// Node and FreeList track every range ever obtained from that source and
// which of them are currently free, Pool is the allocation engine that
// serves aligned requests by best-fit with optional splitting and merging,
// HeuristicPlacer carves tensors out of a single arena using a
// precomputed offset plan, and Backend binds all of the above to the
// three storage disciplines a tensor may request.
package tensoralloc
