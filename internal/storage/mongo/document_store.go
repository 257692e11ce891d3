// Package mongo stores crawl documents in MongoDB collections.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// Config describes the Mongo connection.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Connect dials the server and pings it.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("store.mongo_uri is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// DocumentStore implements crawler.DocumentStore on a Mongo database.
type DocumentStore struct {
	db *mongo.Database
}

// NewDocumentStore wraps db.
func NewDocumentStore(db *mongo.Database) (*DocumentStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	return &DocumentStore{db: db}, nil
}

// EnsureIndexes creates a unique index over the natural key of every
// collection listed in crawler.KeyFields.
func (s *DocumentStore) EnsureIndexes(ctx context.Context) error {
	for collection, fields := range crawler.KeyFields {
		keys := bson.D{}
		for _, f := range fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		model := mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
		if _, err := s.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", collection, err)
		}
	}
	return nil
}

// Upsert writes doc, creating it when no document matches its key.
func (s *DocumentStore) Upsert(ctx context.Context, doc crawler.Document) error {
	if err := doc.Validate(); err != nil {
		return crawler.NewPersistenceError(doc, err)
	}
	_, err := s.db.Collection(doc.Collection).UpdateOne(
		ctx,
		keyFilter(doc.Key),
		updateFor(doc),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return crawler.NewPersistenceError(doc, err)
	}
	return nil
}

type batch struct {
	models  []mongo.WriteModel
	indexes []int
}

// BulkUpsert groups docs per collection and issues unordered bulk writes, so
// one rejected document never blocks the others.
func (s *DocumentStore) BulkUpsert(ctx context.Context, docs []crawler.Document) crawler.BulkResult {
	var res crawler.BulkResult
	var order []string
	batches := map[string]*batch{}
	for i, doc := range docs {
		if err := doc.Validate(); err != nil {
			res.Failures = append(res.Failures, crawler.RecordFailure{
				Index: i, Key: doc.Key.String(), Err: crawler.NewPersistenceError(doc, err),
			})
			continue
		}
		b, ok := batches[doc.Collection]
		if !ok {
			b = &batch{}
			batches[doc.Collection] = b
			order = append(order, doc.Collection)
		}
		b.models = append(b.models, mongo.NewUpdateOneModel().
			SetFilter(keyFilter(doc.Key)).
			SetUpdate(updateFor(doc)).
			SetUpsert(true))
		b.indexes = append(b.indexes, i)
	}

	for _, collection := range order {
		b := batches[collection]
		_, err := s.db.Collection(collection).BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(false))
		if err == nil {
			res.Upserted += len(b.models)
			continue
		}
		failed := failedPositions(err, len(b.models))
		for pos, ferr := range failed {
			idx := b.indexes[pos]
			res.Failures = append(res.Failures, crawler.RecordFailure{
				Index: idx,
				Key:   docs[idx].Key.String(),
				Err:   crawler.NewPersistenceError(docs[idx], ferr),
			})
		}
		res.Upserted += len(b.models) - len(failed)
	}
	sortFailures(res.Failures)
	return res
}

// failedPositions maps a bulk write error to the batch positions it rejected.
// Errors that are not per-document reject the whole batch.
func failedPositions(err error, n int) map[int]error {
	out := map[int]error{}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && bwe.WriteConcernError == nil && len(bwe.WriteErrors) > 0 {
		for _, we := range bwe.WriteErrors {
			if we.Index >= 0 && we.Index < n {
				out[we.Index] = fmt.Errorf("write error %d: %s", we.Code, we.Message)
			}
		}
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = err
	}
	return out
}

func sortFailures(f []crawler.RecordFailure) {
	sort.Slice(f, func(i, j int) bool { return f[i].Index < f[j].Index })
}

// Marker implements crawler.MarkerReader.
func (s *DocumentStore) Marker(ctx context.Context, target crawler.MarkerTarget) (string, bool, error) {
	opts := options.FindOne().SetProjection(bson.M{target.Field: 1})
	var raw bson.M
	err := s.db.Collection(target.Collection).FindOne(ctx, keyFilter(target.Key), opts).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find marker: %w", err)
	}
	v, ok := raw[target.Field]
	if !ok || v == nil {
		return "", false, nil
	}
	if str, ok := v.(string); ok {
		return str, true, nil
	}
	return fmt.Sprint(v), true, nil
}

// Page returns stored documents ordered by natural key.
func (s *DocumentStore) Page(ctx context.Context, collection string, page, pageSize int) ([]crawler.Object, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}
	sortKeys := bson.D{}
	for _, f := range crawler.KeyFields[collection] {
		sortKeys = append(sortKeys, bson.E{Key: f, Value: 1})
	}
	if len(sortKeys) == 0 {
		sortKeys = bson.D{{Key: "_id", Value: 1}}
	}
	opts := options.Find().
		SetSort(sortKeys).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))
	cur, err := s.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	out := make([]crawler.Object, 0, len(raws))
	for _, raw := range raws {
		out = append(out, normalizeMap(raw))
	}
	return out, nil
}

// Count returns the number of documents in collection.
func (s *DocumentStore) Count(ctx context.Context, collection string) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *DocumentStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

func keyFilter(k crawler.NaturalKey) bson.D {
	out := make(bson.D, 0, len(k))
	for _, f := range k {
		out = append(out, bson.E{Key: f.Name, Value: f.Value})
	}
	return out
}

func updateFor(doc crawler.Document) bson.M {
	update := bson.M{"$set": bson.M(doc.Merged())}
	if defaults := doc.InsertDefaults(); defaults != nil {
		update["$setOnInsert"] = bson.M(defaults)
	}
	return update
}

func normalizeMap(m map[string]any) crawler.Object {
	out := make(crawler.Object, len(m))
	for k, v := range m {
		if k == "_id" {
			continue
		}
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return normalizeMap(m)
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}
