package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in standalone mode and in tests.
// Collections are created lazily; querying an unknown collection yields an
// empty result.
type MemoryStore struct {
	collections map[string]map[string]Document
	mu          sync.RWMutex
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, collection string, filters []Filter, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for _, doc := range s.collections[collection] {
		if matchesAll(doc, filters) {
			out = append(out, cloneDocument(doc))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, collection, id string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Document)
	}
	s.collections[collection][id] = cloneDocument(doc)
	return nil
}

func matchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matches(doc[f.Field], f) {
			return false
		}
	}
	return true
}

func matches(value interface{}, f Filter) bool {
	switch f.Op {
	case OpEq:
		// Equality against an array field means containment, mirroring the
		// MongoDB behavior the retriever relies on.
		switch arr := value.(type) {
		case []interface{}:
			for _, v := range arr {
				if v == f.Value {
					return true
				}
			}
			return false
		case []string:
			want, ok := f.Value.(string)
			if !ok {
				return false
			}
			for _, v := range arr {
				if v == want {
					return true
				}
			}
			return false
		default:
			return value == f.Value
		}
	case OpGte:
		return compare(value, f.Value) >= 0
	case OpLte:
		return compare(value, f.Value) <= 0
	}
	return false
}

// compare orders two values of the same kind; unsupported pairs order as -1
// so range filters simply exclude them.
func compare(a, b interface{}) int {
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			}
			return 0
		}
		return -1
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return -1
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
