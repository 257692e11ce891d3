// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

type entry struct {
	key crawler.NaturalKey
	doc crawler.Object
}

// DocumentStore keeps documents in mutex guarded maps keyed by natural key.
type DocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*entry
}

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{collections: make(map[string]map[string]*entry)}
}

// Upsert merges doc into the stored document with set semantics.
func (s *DocumentStore) Upsert(_ context.Context, doc crawler.Document) error {
	if err := doc.Validate(); err != nil {
		return crawler.NewPersistenceError(doc, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(doc)
	return nil
}

// BulkUpsert writes each document independently.
func (s *DocumentStore) BulkUpsert(_ context.Context, docs []crawler.Document) crawler.BulkResult {
	var res crawler.BulkResult
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range docs {
		if err := doc.Validate(); err != nil {
			res.Failures = append(res.Failures, crawler.RecordFailure{
				Index: i,
				Key:   doc.Key.String(),
				Err:   crawler.NewPersistenceError(doc, err),
			})
			continue
		}
		s.apply(doc)
		res.Upserted++
	}
	return res
}

func (s *DocumentStore) apply(doc crawler.Document) {
	coll := s.collections[doc.Collection]
	if coll == nil {
		coll = make(map[string]*entry)
		s.collections[doc.Collection] = coll
	}
	id := doc.Key.String()
	e, ok := coll[id]
	if !ok {
		e = &entry{key: append(crawler.NaturalKey(nil), doc.Key...), doc: crawler.Object{}}
		for k, v := range doc.InsertDefaults() {
			e.doc[k] = v
		}
		coll[id] = e
	}
	for k, v := range doc.Merged() {
		e.doc[k] = v
	}
}

// Marker implements crawler.MarkerReader.
func (s *DocumentStore) Marker(_ context.Context, target crawler.MarkerTarget) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.collections[target.Collection][target.Key.String()]
	if !ok {
		return "", false, nil
	}
	switch v := e.doc[target.Field].(type) {
	case string:
		return v, true, nil
	case nil:
		return "", false, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

// Get returns a copy of one stored document.
func (s *DocumentStore) Get(_ context.Context, collection string, key crawler.NaturalKey) (crawler.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.collections[collection][key.String()]
	if !ok {
		return nil, false
	}
	return copyObject(e.doc), true
}

// Page returns documents ordered by natural key. Numeric key components sort
// numerically.
func (s *DocumentStore) Page(_ context.Context, collection string, page, pageSize int) ([]crawler.Object, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*entry, 0, len(s.collections[collection]))
	for _, e := range s.collections[collection] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return compareKeys(entries[i].key, entries[j].key) < 0
	})
	start := (page - 1) * pageSize
	if start >= len(entries) {
		return []crawler.Object{}, nil
	}
	end := min(start+pageSize, len(entries))
	out := make([]crawler.Object, 0, end-start)
	for _, e := range entries[start:end] {
		out = append(out, copyObject(e.doc))
	}
	return out, nil
}

// Count returns the number of documents in a collection.
func (s *DocumentStore) Count(_ context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collections[collection])), nil
}

// Ping always succeeds.
func (s *DocumentStore) Ping(context.Context) error {
	return nil
}

func compareKeys(a, b crawler.NaturalKey) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareValues(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareValues(a, b any) int {
	ai, aok := toInt(a)
	bi, bok := toInt(b)
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func copyObject(in crawler.Object) crawler.Object {
	out := make(crawler.Object, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
