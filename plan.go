package tensoralloc

import (
	"sync"

	"github.com/bytedance/sonic"
)

// PlanKey identifies one heuristic plan: the external table is keyed by
// (model name, batch size, budget) per spec §6.
type PlanKey struct {
	Model  string
	Batch  int
	Budget uintptr
}

// PlanStore holds loaded heuristic plans in memory and round-trips them
// through a byte blob, the same role bucket.go's MarshalJSON/bucketJSON
// played for snapshotting a bucket's contents — here the payload is the
// tensor-id -> offset tables instead of key-value pairs, and sonic does
// the encoding exactly as it did there.
type PlanStore struct {
	mu     sync.Mutex
	tables map[PlanKey]map[string]uintptr
}

// NewPlanStore returns an empty store.
func NewPlanStore() *PlanStore {
	return &PlanStore{tables: make(map[PlanKey]map[string]uintptr)}
}

// Put registers a plan, as produced by whatever offline tool computed it.
// The plan's provenance is out of scope for this package.
func (s *PlanStore) Put(key PlanKey, plan map[string]uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[key] = plan
}

// Get returns the plan for key, if loaded.
func (s *PlanStore) Get(key PlanKey) (map[string]uintptr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.tables[key]
	return plan, ok
}

// planDoc is the wire shape of one table entry.
type planDoc struct {
	Model   string             `json:"model"`
	Batch   int                `json:"batch"`
	Budget  uintptr            `json:"budget"`
	Offsets map[string]uintptr `json:"offsets"`
}

// MarshalBlob serializes every loaded plan to a single opaque byte blob
// suitable for handing to Runtime.OnSetCache.
func (s *PlanStore) MarshalBlob() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]planDoc, 0, len(s.tables))
	for k, offsets := range s.tables {
		docs = append(docs, planDoc{Model: k.Model, Batch: k.Batch, Budget: k.Budget, Offsets: offsets})
	}
	return sonic.Marshal(docs)
}

// UnmarshalBlob replaces the store's contents with the plans encoded in
// blob, as produced by MarshalBlob. This is the "must round-trip
// losslessly through the cache interface" requirement of spec §6.
func (s *PlanStore) UnmarshalBlob(blob []byte) error {
	var docs []planDoc
	if err := sonic.Unmarshal(blob, &docs); err != nil {
		return err
	}

	tables := make(map[PlanKey]map[string]uintptr, len(docs))
	for _, d := range docs {
		tables[PlanKey{Model: d.Model, Batch: d.Batch, Budget: d.Budget}] = d.Offsets
	}

	s.mu.Lock()
	s.tables = tables
	s.mu.Unlock()
	return nil
}
