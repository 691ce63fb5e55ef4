package store

import (
	"context"
	"errors"
)

// Collection names forming the document-store contract consumed by the
// pipeline.
const (
	CollectionIncidents          = "incidents"
	CollectionKnowledgeBase      = "knowledge_base"
	CollectionHistoricalPatterns = "historical_patterns"
	CollectionThreatIntelligence = "threat_intelligence"
)

// ErrNotFound is returned by Get when no document exists under the id.
var ErrNotFound = errors.New("document not found")

// Document is a schemaless record as returned by the backing store.
type Document map[string]interface{}

// Op is a comparison operator usable in a query filter.
type Op string

const (
	OpEq  Op = "=="
	OpGte Op = ">="
	OpLte Op = "<="
)

// Filter constrains a query on a single top-level field. Equality against an
// array-valued field matches when the array contains the value, mirroring
// MongoDB semantics.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Store is the collection-based document store consumed by the context
// retriever and the incident retriever. Implementations must treat missing
// collections as empty, not as errors.
type Store interface {
	// Get returns the document stored under id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Query returns up to limit documents matching every filter. limit <= 0
	// means no limit.
	Query(ctx context.Context, collection string, filters []Filter, limit int) ([]Document, error)
	// Put stores doc under id, replacing any existing document.
	Put(ctx context.Context, collection, id string, doc Document) error
}

// String reads a string field from a document, returning "" when absent or
// of another type.
func (d Document) String(field string) string {
	if v, ok := d[field].(string); ok {
		return v
	}
	return ""
}

// Strings reads a string-array field from a document.
func (d Document) Strings(field string) []string {
	raw, ok := d[field].([]interface{})
	if !ok {
		if typed, ok := d[field].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Maps reads an array-of-documents field from a document.
func (d Document) Maps(field string) []Document {
	raw, ok := d[field].([]interface{})
	if !ok {
		if typed, ok := d[field].([]Document); ok {
			return typed
		}
		if typed, ok := d[field].([]map[string]interface{}); ok {
			out := make([]Document, len(typed))
			for i, m := range typed {
				out[i] = Document(m)
			}
			return out
		}
		return nil
	}
	out := make([]Document, 0, len(raw))
	for _, v := range raw {
		switch m := v.(type) {
		case map[string]interface{}:
			out = append(out, Document(m))
		case Document:
			out = append(out, m)
		}
	}
	return out
}
