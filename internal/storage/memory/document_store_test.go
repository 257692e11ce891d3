package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

func deputy(id int64, fields map[string]any) crawler.Document {
	return crawler.Document{
		Collection: crawler.CollectionDeputies,
		Key:        crawler.NewKey(crawler.FieldDeputyID, id),
		Fields:     fields,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	ctx := context.Background()
	doc := deputy(1, map[string]any{"name": "Ana", crawler.FieldChangeMarker: "m1"})

	require.NoError(t, s.Upsert(ctx, doc))
	first, ok := s.Get(ctx, crawler.CollectionDeputies, doc.Key)
	require.True(t, ok)
	require.NoError(t, s.Upsert(ctx, doc))
	second, _ := s.Get(ctx, crawler.CollectionDeputies, doc.Key)

	require.Equal(t, first, second)
	count, err := s.Count(ctx, crawler.CollectionDeputies)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestUpsertPreservesUnsuppliedFields(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, deputy(1, map[string]any{"name": "Ana", "email": "ana@camara.leg.br", "party": "PT"})))

	partial := deputy(1, map[string]any{"name": "Ana Maria"})
	partial.Defaults = map[string]any{"party": "S/PARTIDO", "state": "SP"}
	require.NoError(t, s.Upsert(ctx, partial))

	got, _ := s.Get(ctx, crawler.CollectionDeputies, partial.Key)
	require.Equal(t, "Ana Maria", got["name"])
	require.Equal(t, "ana@camara.leg.br", got["email"])
	require.Equal(t, "PT", got["party"])
	require.NotContains(t, got, "state")
	require.Equal(t, int64(1), got[crawler.FieldDeputyID])
}

func TestUpsertAppliesDefaultsOnInsert(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	ctx := context.Background()
	doc := deputy(9, map[string]any{"name": "Bia"})
	doc.Defaults = map[string]any{"party": "S/PARTIDO", "name": "ignored"}
	require.NoError(t, s.Upsert(ctx, doc))

	got, _ := s.Get(ctx, crawler.CollectionDeputies, doc.Key)
	require.Equal(t, "S/PARTIDO", got["party"])
	require.Equal(t, "Bia", got["name"])
}

func TestBulkUpsertIsolatesMalformedRecord(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	docs := []crawler.Document{
		deputy(1, map[string]any{"name": "A"}),
		{Collection: crawler.CollectionDeputies, Key: crawler.NewKey(crawler.FieldDeputyID, nil)},
		deputy(3, map[string]any{"name": "C"}),
	}

	res := s.BulkUpsert(context.Background(), docs)
	require.Equal(t, 2, res.Upserted)
	require.Len(t, res.Failures, 1)
	require.Equal(t, 1, res.Failures[0].Index)
	require.ErrorIs(t, res.Failures[0].Err, crawler.ErrPersistence)

	count, err := s.Count(context.Background(), crawler.CollectionDeputies)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestMarker(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	ctx := context.Background()
	target := crawler.MarkerTarget{
		Collection: crawler.CollectionDeputies,
		Key:        crawler.NewKey(crawler.FieldDeputyID, int64(1)),
		Field:      crawler.FieldChangeMarker,
	}

	_, ok, err := s.Marker(ctx, target)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Upsert(ctx, deputy(1, map[string]any{"name": "A"})))
	_, ok, err = s.Marker(ctx, target)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Upsert(ctx, deputy(1, map[string]any{crawler.FieldChangeMarker: "2024-03-01"})))
	v, ok, err := s.Marker(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024-03-01", v)
}

func TestPageOrdersByNaturalKey(t *testing.T) {
	t.Parallel()

	s := NewDocumentStore()
	ctx := context.Background()
	for _, id := range []int64{10, 2, 33, 1} {
		require.NoError(t, s.Upsert(ctx, deputy(id, nil)))
	}

	first, err := s.Page(ctx, crawler.CollectionDeputies, 1, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Equal(t, int64(1), first[0][crawler.FieldDeputyID])
	require.Equal(t, int64(2), first[1][crawler.FieldDeputyID])
	require.Equal(t, int64(10), first[2][crawler.FieldDeputyID])

	second, err := s.Page(ctx, crawler.CollectionDeputies, 2, 3)
	require.NoError(t, err)
	require.Len(t, second, 1)

	third, err := s.Page(ctx, crawler.CollectionDeputies, 3, 3)
	require.NoError(t, err)
	require.Empty(t, third)

	_, err = s.Page(ctx, crawler.CollectionDeputies, 0, 3)
	require.Error(t, err)
}
