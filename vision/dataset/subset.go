package dataset

import "fmt"

// Subset exposes the first limit items of another dataset, for quick runs on a
// slice of a large split.
type Subset struct {
	Dataset
	limit int
}

// NewSubset wraps ds. A limit of 0 or one beyond ds.Len() keeps every item.
// The result is Keyed exactly when ds is.
func NewSubset(ds Dataset, limit int) (Dataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit == 0 || limit > ds.Len() {
		limit = ds.Len()
	}
	s := &Subset{Dataset: ds, limit: limit}
	if keyed, ok := ds.(Keyed); ok {
		return &keyedSubset{Subset: s, keyed: keyed}, nil
	}
	return s, nil
}

func (s *Subset) Len() int {
	return s.limit
}

func (s *Subset) Get(index int) ([]float32, int, error) {
	if index < 0 || index >= s.limit {
		return nil, 0, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", index, s.limit)
	}
	return s.Dataset.Get(index)
}

type keyedSubset struct {
	*Subset
	keyed Keyed
}

func (s *keyedSubset) Key(index int) string {
	return s.keyed.Key(index)
}
