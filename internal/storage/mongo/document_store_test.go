package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

func voteDoc(voting string, deputy int64, vote string) crawler.Document {
	return crawler.Document{
		Collection: crawler.CollectionVotes,
		Key: crawler.NewKey(crawler.FieldVotingID, voting).
			With(crawler.FieldDeputyID, deputy).
			With(crawler.FieldPropositionID, int64(10)),
		Fields: map[string]any{"vote": vote},
	}
}

func TestDocumentStoreUpsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
		))

		doc := crawler.Document{
			Collection: crawler.CollectionDeputies,
			Key:        crawler.NewKey(crawler.FieldDeputyID, int64(204554)),
			Fields:     map[string]any{"name": "Ana"},
			Defaults:   map[string]any{"party": "S/PARTIDO"},
		}
		require.NoError(mt, s.Upsert(context.Background(), doc))

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		require.Equal(mt, "update", started.CommandName)
	})

	mt.Run("server error", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 2, Message: "bad update",
		}))

		err = s.Upsert(context.Background(), voteDoc("v1", 1, "Sim"))
		require.ErrorIs(mt, err, crawler.ErrPersistence)
	})

	mt.Run("invalid key", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		err = s.Upsert(context.Background(), crawler.Document{
			Collection: crawler.CollectionVotes,
			Key:        crawler.NewKey(crawler.FieldVotingID, nil),
		})
		require.ErrorIs(mt, err, crawler.ErrPersistence)
	})
}

func TestDocumentStoreBulkUpsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("partial failure", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 1, Code: 11000, Message: "duplicate key",
		}))

		docs := []crawler.Document{
			voteDoc("v1", 1, "Sim"),
			{Collection: crawler.CollectionVotes, Key: crawler.NewKey(crawler.FieldVotingID, " ")},
			voteDoc("v1", 2, "Não"),
			voteDoc("v1", 3, "Outros"),
		}
		res := s.BulkUpsert(context.Background(), docs)
		require.Equal(mt, 2, res.Upserted)
		require.Len(mt, res.Failures, 2)
		require.Equal(mt, 1, res.Failures[0].Index)
		// batch position 1 is docs[2] since docs[1] never left the process
		require.Equal(mt, 2, res.Failures[1].Index)
		require.ErrorContains(mt, res.Failures[1].Err, "duplicate key")
	})

	mt.Run("all succeed", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}))

		res := s.BulkUpsert(context.Background(), []crawler.Document{
			voteDoc("v2", 1, "Sim"),
			voteDoc("v2", 2, "Sim"),
		})
		require.Equal(mt, 2, res.Upserted)
		require.False(mt, res.Failed())
	})
}

func TestDocumentStoreMarker(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	target := crawler.MarkerTarget{
		Collection: crawler.CollectionPropositions,
		Key:        crawler.NewKey(crawler.FieldPropositionID, int64(7)),
		Field:      crawler.FieldChangeMarker,
	}

	mt.Run("present", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "camara.propositions", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "x"},
			{Key: crawler.FieldChangeMarker, Value: "2024-03-01T10:00"},
		}))

		v, ok, err := s.Marker(context.Background(), target)
		require.NoError(mt, err)
		require.True(mt, ok)
		require.Equal(mt, "2024-03-01T10:00", v)
	})

	mt.Run("missing field", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "camara.propositions", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "x"},
		}))

		_, ok, err := s.Marker(context.Background(), target)
		require.NoError(mt, err)
		require.False(mt, ok)
	})

	mt.Run("no document", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "camara.propositions", mtest.FirstBatch))

		_, ok, err := s.Marker(context.Background(), target)
		require.NoError(mt, err)
		require.False(mt, ok)
	})
}

func TestDocumentStorePageAndCount(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("page", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "camara.propositions", mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: "a"},
				{Key: crawler.FieldPropositionID, Value: int64(1)},
				{Key: "status", Value: bson.D{{Key: "situation", Value: "Arquivada"}}},
				{Key: "keywords", Value: bson.A{"saude", "educacao"}},
			},
			bson.D{
				{Key: "_id", Value: "b"},
				{Key: crawler.FieldPropositionID, Value: int64(2)},
			},
		))

		docs, err := s.Page(context.Background(), crawler.CollectionPropositions, 1, 2)
		require.NoError(mt, err)
		require.Len(mt, docs, 2)
		_, hasID := docs[0]["_id"]
		require.False(mt, hasID)
		require.Equal(mt, "Arquivada", docs[0].String("status", "situation"))
		require.Equal(mt, []any{"saude", "educacao"}, docs[0]["keywords"])
		id, ok := docs[1].Int64(crawler.FieldPropositionID)
		require.True(mt, ok)
		require.Equal(mt, int64(2), id)

		_, err = s.Page(context.Background(), crawler.CollectionPropositions, 0, 2)
		require.Error(mt, err)
	})

	mt.Run("count", func(mt *mtest.T) {
		s, err := NewDocumentStore(mt.DB)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "camara.deputies", mtest.FirstBatch,
			bson.D{{Key: "n", Value: int64(513)}},
		))

		n, err := s.Count(context.Background(), crawler.CollectionDeputies)
		require.NoError(mt, err)
		require.Equal(mt, int64(513), n)
	})
}

func TestNewDocumentStoreRequiresDatabase(t *testing.T) {
	t.Parallel()

	_, err := NewDocumentStore(nil)
	require.Error(t, err)
}
