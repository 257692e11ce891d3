package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeShapes(t *testing.T) {
	t.Parallel()

	listing, err := NewEnvelope("u", FormatJSON, Object{"dados": []any{
		map[string]any{"id": json.Number("1")},
		map[string]any{"id": json.Number("2")},
	}})
	require.NoError(t, err)
	require.Equal(t, KindListing, listing.Kind)
	items, err := listing.Listing()
	require.NoError(t, err)
	require.Len(t, items, 2)
	_, err = listing.Detail()
	require.True(t, IsFatal(err))

	detail, err := NewEnvelope("u", FormatJSON, Object{"dados": map[string]any{"id": json.Number("7"), "nome": "X"}})
	require.NoError(t, err)
	obj, err := detail.Detail()
	require.NoError(t, err)
	require.Equal(t, "X", obj.String("nome"))
	_, err = detail.Listing()
	require.True(t, IsFatal(err))

	wrapped, err := NewEnvelope("u", FormatXML, Object{"dados": Object{"votacao": []any{
		Object{"id": "10"}, Object{"id": "11"},
	}}})
	require.NoError(t, err)
	require.Equal(t, KindWrappedListing, wrapped.Kind)
	items, err = wrapped.Listing()
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, err = wrapped.Detail()
	require.True(t, IsFatal(err))

	single, err := NewEnvelope("u", FormatXML, Object{"dados": Object{"voto": Object{"tipoVoto": "Sim"}}})
	require.NoError(t, err)
	items, err = single.Listing()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Sim", items[0].String("tipoVoto"))

	nested, err := NewEnvelope("u", FormatXML, Object{"dados": Object{
		"ultimoStatus": Object{"data": "2023-02-01"},
	}})
	require.NoError(t, err)
	obj, err = nested.Detail()
	require.NoError(t, err)
	require.Equal(t, "2023-02-01", obj.String("ultimoStatus", "data"))

	empty, err := NewEnvelope("u", FormatXML, Object{"dados": ""})
	require.NoError(t, err)
	items, err = empty.Listing()
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = NewEnvelope("u", FormatJSON, Object{"dados": []any{"scalar"}})
	require.Error(t, err)
}

func TestObjectAccessors(t *testing.T) {
	t.Parallel()

	obj := Object{
		"id":    json.Number("204554"),
		"xmlId": "42",
		"ultimoStatus": map[string]any{
			"data":  "2023-02-01",
			"blank": "  ",
		},
		"autores": []any{map[string]any{"nome": "A"}, map[string]any{"nome": "B"}},
		"unico":   map[string]any{"nome": "C"},
		"ratio":   1.5,
	}

	id, ok := obj.Int64("id")
	require.True(t, ok)
	require.Equal(t, int64(204554), id)

	xmlID, ok := obj.Int64("xmlId")
	require.True(t, ok)
	require.Equal(t, int64(42), xmlID)

	_, ok = obj.Int64("ratio")
	require.False(t, ok)

	require.Equal(t, "2023-02-01", obj.String("ultimoStatus", "data"))
	require.Nil(t, obj.StringPtr("ultimoStatus", "blank"))
	require.Nil(t, obj.StringPtr("ultimoStatus", "missing", "deeper"))
	require.Equal(t, "2023-02-01", *obj.StringPtr("ultimoStatus", "data"))
	require.Len(t, obj.Objects("autores"), 2)
	require.Len(t, obj.Objects("unico"), 1)
	require.Nil(t, obj.Objects("missing"))
	require.Equal(t, "204554", obj.String("id"))
}

func TestNaturalKey(t *testing.T) {
	t.Parallel()

	key := NewKey(FieldVotingID, "2265603-43").With(FieldDeputyID, int64(204554)).With(FieldPropositionID, int64(2192459))
	require.NoError(t, key.Validate())
	require.Equal(t, "voting_id=2265603-43|deputy_id=204554|proposition_id=2192459", key.String())
	require.Equal(t, map[string]any{
		FieldVotingID:      "2265603-43",
		FieldDeputyID:      int64(204554),
		FieldPropositionID: int64(2192459),
	}, key.Map())

	require.Error(t, NaturalKey{}.Validate())
	require.Error(t, NewKey(FieldDeputyID, nil).Validate())
	require.Error(t, NewKey(FieldDeputyID, " ").Validate())
	require.Error(t, NewKey("", 1).Validate())

	doc := Document{Collection: CollectionDeputies, Key: NewKey(FieldDeputyID, int64(1)), Fields: map[string]any{"name": "X", FieldDeputyID: "ignored"}}
	require.Equal(t, int64(1), doc.Merged()[FieldDeputyID])
	require.Equal(t, []string{FieldDeputyID, "name"}, doc.SortedFieldNames())
	require.Error(t, Document{Key: NewKey(FieldDeputyID, 1)}.Validate())
}

func TestParseResource(t *testing.T) {
	t.Parallel()

	r, ok := ParseResource(" Votes ")
	require.True(t, ok)
	require.Equal(t, ResourceVotes, r)
	_, ok = ParseResource("senators")
	require.False(t, ok)
}
