package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// DocumentStore keeps each collection in its own table of
// (key text primary key, doc jsonb, updated_at timestamptz). Upserts merge the
// supplied top level fields into doc, leaving the others untouched.
type DocumentStore struct {
	pool   Pool
	prefix string
}

// NewDocumentStore wraps pool. prefix is prepended to every table name.
func NewDocumentStore(pool Pool, prefix string) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix != "" && !validTableName.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &DocumentStore{pool: pool, prefix: prefix}, nil
}

// EnsureSchema creates the tables for collections if they are missing.
func (s *DocumentStore) EnsureSchema(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		table, err := tableName(s.prefix, collection)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key text PRIMARY KEY,
	doc jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`, table)
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return nil
}

// Upsert writes doc with set-on-conflict semantics.
func (s *DocumentStore) Upsert(ctx context.Context, doc crawler.Document) error {
	if err := doc.Validate(); err != nil {
		return crawler.NewPersistenceError(doc, err)
	}
	table, err := tableName(s.prefix, doc.Collection)
	if err != nil {
		return crawler.NewPersistenceError(doc, err)
	}
	fields, err := json.Marshal(doc.Merged())
	if err != nil {
		return crawler.NewPersistenceError(doc, fmt.Errorf("marshal fields: %w", err))
	}
	defaults := []byte("{}")
	if d := doc.InsertDefaults(); d != nil {
		if defaults, err = json.Marshal(d); err != nil {
			return crawler.NewPersistenceError(doc, fmt.Errorf("marshal defaults: %w", err))
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (key, doc, updated_at)
VALUES ($1, $3::jsonb || $2::jsonb, now())
ON CONFLICT (key) DO UPDATE
SET doc = %[1]s.doc || $2::jsonb, updated_at = now()`, table)
	if _, err := s.pool.Exec(ctx, query, doc.Key.String(), fields, defaults); err != nil {
		return crawler.NewPersistenceError(doc, err)
	}
	return nil
}

// BulkUpsert issues one statement per document so a rejected document never
// aborts its siblings.
func (s *DocumentStore) BulkUpsert(ctx context.Context, docs []crawler.Document) crawler.BulkResult {
	var res crawler.BulkResult
	for i, doc := range docs {
		if err := s.Upsert(ctx, doc); err != nil {
			res.Failures = append(res.Failures, crawler.RecordFailure{Index: i, Key: doc.Key.String(), Err: err})
			continue
		}
		res.Upserted++
	}
	return res
}

// Marker implements crawler.MarkerReader.
func (s *DocumentStore) Marker(ctx context.Context, target crawler.MarkerTarget) (string, bool, error) {
	table, err := tableName(s.prefix, target.Collection)
	if err != nil {
		return "", false, err
	}
	query := fmt.Sprintf(`SELECT doc ->> $2 IS NOT NULL, COALESCE(doc ->> $2, '') FROM %s WHERE key = $1`, table)
	var (
		present bool
		marker  string
	)
	err = s.pool.QueryRow(ctx, query, target.Key.String(), target.Field).Scan(&present, &marker)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select marker: %w", err)
	}
	return marker, present, nil
}

// Page returns stored documents ordered by key.
func (s *DocumentStore) Page(ctx context.Context, collection string, page, pageSize int) ([]crawler.Object, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}
	table, err := tableName(s.prefix, collection)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s ORDER BY key LIMIT $1 OFFSET $2`, table)
	rows, err := s.pool.Query(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("select page: %w", err)
	}
	defer rows.Close()

	out := []crawler.Object{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		obj, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// Count returns the number of rows in a collection table.
func (s *DocumentStore) Count(ctx context.Context, collection string) (int64, error) {
	table, err := tableName(s.prefix, collection)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *DocumentStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func decodeDoc(raw []byte) (crawler.Object, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj crawler.Object
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return obj, nil
}
