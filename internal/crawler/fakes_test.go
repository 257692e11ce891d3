package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]Object
	upserts  int
	failKeys map[string]error
	onUpsert func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]map[string]Object{}, failKeys: map[string]error{}}
}

func (s *fakeStore) Marker(_ context.Context, target MarkerTarget) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[target.Collection][target.Key.String()]
	if !ok {
		return "", false, nil
	}
	v, ok := doc[target.Field].(string)
	return v, ok, nil
}

func (s *fakeStore) Upsert(_ context.Context, doc Document) error {
	s.mu.Lock()
	hook := s.onUpsert
	if err, ok := s.failKeys[doc.Key.String()]; ok {
		s.mu.Unlock()
		return NewPersistenceError(doc, err)
	}
	coll := s.docs[doc.Collection]
	if coll == nil {
		coll = map[string]Object{}
		s.docs[doc.Collection] = coll
	}
	existing := coll[doc.Key.String()]
	if existing == nil {
		existing = Object{}
	}
	for k, v := range doc.Merged() {
		existing[k] = v
	}
	coll[doc.Key.String()] = existing
	s.upserts++
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (s *fakeStore) BulkUpsert(ctx context.Context, docs []Document) BulkResult {
	var res BulkResult
	for i, doc := range docs {
		if err := s.Upsert(ctx, doc); err != nil {
			res.Failures = append(res.Failures, RecordFailure{Index: i, Key: doc.Key.String(), Err: err})
			continue
		}
		res.Upserted++
	}
	return res
}

func (s *fakeStore) Page(_ context.Context, collection string, page, pageSize int) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.docs[collection]))
	for k := range s.docs[collection] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	start := (page - 1) * pageSize
	if start >= len(keys) {
		return nil, nil
	}
	end := min(start+pageSize, len(keys))
	out := make([]Object, 0, end-start)
	for _, k := range keys[start:end] {
		out = append(out, s.docs[collection][k])
	}
	return out, nil
}

func (s *fakeStore) Count(_ context.Context, collection string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.docs[collection])), nil
}

func (s *fakeStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *fakeStore) get(collection string, key NaturalKey) Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[collection][key.String()]
}

// fakePipeline serves fixed pages of records keyed by remote ID. Each record's
// payload carries the remote marker under "marker".
type fakePipeline struct {
	pages     [][]SourceRecord
	listCalls atomic.Int64
	pageErr   map[int]error
	buildErr  map[string]error
	related   map[string][]Document
	gate      chan struct{}
}

func (p *fakePipeline) Resource() Resource {
	return ResourceDeputies
}

func (p *fakePipeline) ListPage(_ context.Context, page, _ int) ([]SourceRecord, error) {
	p.listCalls.Add(1)
	if err := p.pageErr[page]; err != nil {
		return nil, err
	}
	if page-1 >= len(p.pages) {
		return nil, nil
	}
	return p.pages[page-1], nil
}

func (p *fakePipeline) Inspect(_ context.Context, rec SourceRecord) (Inspection, error) {
	if p.gate != nil {
		<-p.gate
	}
	return Inspection{
		Target: MarkerTarget{
			Collection: CollectionDeputies,
			Key:        NewKey(FieldDeputyID, rec.RemoteID),
			Field:      FieldChangeMarker,
		},
		Version: rec.Payload.StringPtr("marker"),
	}, nil
}

func (p *fakePipeline) Build(_ context.Context, in Inspection) (WriteSet, error) {
	id := fmt.Sprint(in.Target.Key[0].Value)
	if err := p.buildErr[id]; err != nil {
		return WriteSet{}, err
	}
	fields := map[string]any{"name": "deputy " + id}
	if in.Version != nil {
		fields[FieldChangeMarker] = *in.Version
	}
	return WriteSet{
		Primary: Document{Collection: CollectionDeputies, Key: in.Target.Key, Fields: fields},
		Related: p.related[id],
	}, nil
}

func record(id, marker string) SourceRecord {
	payload := Object{"id": id}
	if marker != "" {
		payload["marker"] = marker
	}
	return SourceRecord{RemoteID: id, Payload: payload}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeIDs struct {
	err error
}

func (f fakeIDs) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.New("uuid")
	}
	return id.String(), nil
}
