package camara

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

func seedProposition(f *fakeFetcher, id int, statusDate string) {
	path := "/proposicoes/" + itoa(id)
	f.set(path, obj(
		"id", id,
		"siglaTipo", "PL",
		"numero", 1234,
		"ano", 2023,
		"ementa", "Dispõe sobre algo.",
		"descricaoTipo", "Projeto de Lei",
		"keywords", "saúde, educação ,, transporte",
		"dataApresentacao", "2023-03-01T10:00",
		"statusProposicao", obj(
			"dataHora", statusDate,
			"descricaoSituacao", "Aguardando Parecer",
			"descricaoTramitacao", "Recebimento",
			"siglaOrgao", "CCJC",
			"despacho", "Às Comissões",
		),
	))
	f.set(path+"/autores", list(
		obj("uri", testBase+"/deputados/204554", "nome", "Ana Souza", "tipo", "Deputado(a)", "ordemAssinatura", 1, "proponente", 1),
		obj("uri", testBase+"/deputados/204554", "nome", "Ana Souza", "tipo", "Deputado(a)", "ordemAssinatura", 2, "proponente", 1),
		obj("uri", testBase+"/deputados/178957", "nome", "Bruno Lima", "siglaPartido", "PSD", "tipo", "Deputado(a)", "ordemAssinatura", 3, "proponente", 1),
		obj("uri", testBase+"/orgaos/2003", "nome", "Comissão", "tipo", "Órgão do Poder Legislativo", "ordemAssinatura", 4, "proponente", 0),
	))
}

func TestPropositionsListPageQuery(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.set("/proposicoes?dataApresentacaoInicio=2018-01-01&itens=20&pagina=1&siglaTipo=PEC&siglaTipo=PL",
		list(obj("id", 1, "siglaTipo", "PEC"), obj("id", 2, "siglaTipo", "PL")))
	deps, _ := newTestDeps(f)
	p, err := NewPropositions(deps, PropositionFilter{})
	require.NoError(t, err)

	recs, err := p.ListPage(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "2", recs[1].RemoteID)
}

func TestPropositionsInspectAndBuild(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	seedProposition(f, 2192459, "2024-05-02T10:30")
	deps, _ := newTestDeps(f)
	p, err := NewPropositions(deps, DefaultPropositionFilter())
	require.NoError(t, err)

	in, err := p.Inspect(context.Background(), crawler.SourceRecord{
		RemoteID: "2192459",
		Payload:  crawler.Object{"id": 2192459, "siglaTipo": "PL"},
	})
	require.NoError(t, err)
	require.Equal(t, "proposition_id=2192459", in.Target.Key.String())
	require.Equal(t, "2024-05-02T10:30", *in.Version)
	require.Equal(t, 1, f.callCount("/proposicoes/2192459/autores"))

	ws, err := p.Build(context.Background(), in)
	require.NoError(t, err)
	fields := ws.Primary.Fields
	require.Equal(t, "PL", fields["type"])
	require.Equal(t, int64(1234), fields["number"])
	require.Equal(t, []string{"saúde", "educação", "transporte"}, fields["keywords"])
	require.Equal(t, []string{}, fields["themes"])
	require.Equal(t, fichaURL+"2192459", fields["link"])
	require.Equal(t, "CCJC", fields["status"].(map[string]any)["organ_short"])
	require.Len(t, fields["authors"], 4)
	require.Equal(t, "2024-05-02T10:30", fields[crawler.FieldChangeMarker])

	require.Len(t, ws.Related, 2)
	ana := ws.Related[0]
	require.Equal(t, "deputy_id=204554", ana.Key.String())
	require.Equal(t, "Ana Souza", ana.Fields["name"])
	require.NotContains(t, ana.Fields, "party")
	require.Equal(t, PartyUnknown, ana.Defaults["party"])
	bruno := ws.Related[1]
	require.Equal(t, "PSD", bruno.Fields["party"])
	require.Nil(t, bruno.InsertDefaults())
}

func TestPropositionsAuthorsDoNotClobberDeputies(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	seedProposition(f, 55, "2024-01-01T00:00")
	deps, store := newTestDeps(f)
	ctx := context.Background()
	key := crawler.NewKey(crawler.FieldDeputyID, int64(204554))
	require.NoError(t, store.Upsert(ctx, crawler.Document{
		Collection: crawler.CollectionDeputies,
		Key:        key,
		Fields:     map[string]any{"name": "Ana Souza", "party": "PT", "email": "ana@camara.leg.br"},
	}))

	p, err := NewPropositions(deps, DefaultPropositionFilter())
	require.NoError(t, err)
	in, err := p.Inspect(ctx, crawler.SourceRecord{Payload: crawler.Object{"id": 55}})
	require.NoError(t, err)
	ws, err := p.Build(ctx, in)
	require.NoError(t, err)
	require.False(t, store.BulkUpsert(ctx, ws.Related).Failed())

	ana, ok := store.Get(ctx, crawler.CollectionDeputies, key)
	require.True(t, ok)
	require.Equal(t, "PT", ana["party"])
	require.Equal(t, "ana@camara.leg.br", ana["email"])

	fresh, ok := store.Get(ctx, crawler.CollectionDeputies, crawler.NewKey(crawler.FieldDeputyID, int64(178957)))
	require.True(t, ok)
	require.Equal(t, "PSD", fresh["party"])
}

func TestPropositionsInspectFailsWhenAuthorsFail(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	seedProposition(f, 9, "2024-01-01T00:00")
	f.fail("/proposicoes/9/autores", crawler.NewFatalError("u", 404, nil))
	deps, _ := newTestDeps(f)
	p, err := NewPropositions(deps, DefaultPropositionFilter())
	require.NoError(t, err)

	_, err = p.Inspect(context.Background(), crawler.SourceRecord{Payload: crawler.Object{"id": 9}})
	require.ErrorContains(t, err, "proposition 9 authors")
}

func TestSplitKeywordsAndIDFromURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{}, splitKeywords(""))
	require.Equal(t, []string{"a", "b"}, splitKeywords(" a ,b,"))

	id, ok := idFromURI("https://dadosabertos.camara.leg.br/api/v2/deputados/204554", "deputados")
	require.True(t, ok)
	require.Equal(t, int64(204554), id)
	_, ok = idFromURI("https://dadosabertos.camara.leg.br/api/v2/orgaos/2003", "deputados")
	require.False(t, ok)
	_, ok = idFromURI("https://x/deputados/abc", "deputados")
	require.False(t, ok)
}
