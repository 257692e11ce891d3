package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves and normalizes one upstream URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Envelope, error)
}

// Pipeline adapts one upstream resource to the controller loop.
type Pipeline interface {
	Resource() Resource
	// ListPage returns the records of one listing page. An empty slice ends
	// the stream.
	ListPage(ctx context.Context, page, pageSize int) ([]SourceRecord, error)
	// Inspect fetches just enough to locate the entity and its remote marker.
	Inspect(ctx context.Context, rec SourceRecord) (Inspection, error)
	// Build produces the documents to persist for a record that changed.
	Build(ctx context.Context, in Inspection) (WriteSet, error)
}

// MarkerReader looks up stored change markers.
type MarkerReader interface {
	// Marker returns the stored marker for target. ok is false when the entity
	// does not exist or carries no marker.
	Marker(ctx context.Context, target MarkerTarget) (value string, ok bool, err error)
}

// Sink persists documents with partial update semantics.
type Sink interface {
	Upsert(ctx context.Context, doc Document) error
	BulkUpsert(ctx context.Context, docs []Document) BulkResult
}

// DocumentStore is the full persistence contract used by the pipelines.
type DocumentStore interface {
	MarkerReader
	Sink
	// Page returns stored documents of a collection ordered by natural key.
	// Pages start at 1.
	Page(ctx context.Context, collection string, page, pageSize int) ([]Object, error)
	// Count returns the number of stored documents in a collection.
	Count(ctx context.Context, collection string) (int64, error)
}

// Hasher computes digests used as synthetic change markers.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
