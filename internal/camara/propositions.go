package camara

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// PropositionFilter narrows the propositions listing.
type PropositionFilter struct {
	// Types are siglaTipo values such as PL and PEC.
	Types []string
	// PresentedSince is an ISO date bounding dataApresentacaoInicio.
	PresentedSince string
}

// DefaultPropositionFilter matches bills and constitutional amendments
// presented since 2018.
func DefaultPropositionFilter() PropositionFilter {
	return PropositionFilter{Types: []string{"PEC", "PL"}, PresentedSince: "2018-01-01"}
}

const fichaURL = "https://www.camara.leg.br/proposicoesWeb/fichadetramitacao?idProposicao="

// Propositions crawls /proposicoes. The change marker is
// statusProposicao.dataHora.
type Propositions struct {
	deps   Deps
	filter PropositionFilter
	logger *zap.Logger
}

type propositionState struct {
	listing crawler.Object
	detail  crawler.Object
	authors []crawler.Object
}

// NewPropositions builds the propositions pipeline.
func NewPropositions(deps Deps, filter PropositionFilter) (*Propositions, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if len(filter.Types) == 0 && filter.PresentedSince == "" {
		filter = DefaultPropositionFilter()
	}
	return &Propositions{deps: deps, filter: filter, logger: deps.logger("propositions")}, nil
}

// Resource implements crawler.Pipeline.
func (p *Propositions) Resource() crawler.Resource {
	return crawler.ResourcePropositions
}

// ListPage implements crawler.Pipeline.
func (p *Propositions) ListPage(ctx context.Context, page, pageSize int) ([]crawler.SourceRecord, error) {
	items, err := p.deps.Client.List(ctx, "/proposicoes", p.query(page, pageSize))
	if err != nil {
		return nil, err
	}
	out := make([]crawler.SourceRecord, 0, len(items))
	for _, item := range items {
		out = append(out, crawler.SourceRecord{RemoteID: item.String("id"), Payload: item})
	}
	return out, nil
}

func (p *Propositions) query(page, pageSize int) url.Values {
	q := pageQuery(page, pageSize)
	for _, t := range p.filter.Types {
		q.Add("siglaTipo", t)
	}
	if p.filter.PresentedSince != "" {
		q.Set("dataApresentacaoInicio", p.filter.PresentedSince)
	}
	return q
}

// Inspect fetches the detail and the author list concurrently.
func (p *Propositions) Inspect(ctx context.Context, rec crawler.SourceRecord) (crawler.Inspection, error) {
	id, err := recordID(rec.Payload, "id")
	if err != nil {
		return crawler.Inspection{}, err
	}
	base := "/proposicoes/" + strconv.FormatInt(id, 10)
	state := &propositionState{listing: rec.Payload}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		detail, err := p.deps.Client.Detail(gctx, base)
		if err != nil {
			return fmt.Errorf("proposition %d detail: %w", id, err)
		}
		state.detail = detail
		return nil
	})
	g.Go(func() error {
		authors, err := p.deps.Client.List(gctx, base+"/autores", nil)
		if err != nil {
			return fmt.Errorf("proposition %d authors: %w", id, err)
		}
		state.authors = authors
		return nil
	})
	if err := g.Wait(); err != nil {
		return crawler.Inspection{}, err
	}

	return crawler.Inspection{
		Target: crawler.MarkerTarget{
			Collection: crawler.CollectionPropositions,
			Key:        crawler.NewKey(crawler.FieldPropositionID, id),
			Field:      crawler.FieldChangeMarker,
		},
		Version: state.detail.StringPtr("statusProposicao", "dataHora"),
		State:   state,
	}, nil
}

// Build maps the proposition and upserts its deputy authors as partial
// deputy documents.
func (p *Propositions) Build(_ context.Context, in crawler.Inspection) (crawler.WriteSet, error) {
	state, ok := in.State.(*propositionState)
	if !ok {
		return crawler.WriteSet{}, fmt.Errorf("unexpected inspection state %T", in.State)
	}
	id, _ := recordID(state.listing, "id")
	detail, listing := state.detail, state.listing
	now := p.deps.now()

	pick := func(field string) string {
		if v := detail.String(field); v != "" {
			return v
		}
		return listing.String(field)
	}

	fields := map[string]any{
		"type":                       nullable(pick("siglaTipo")),
		"number":                     intOrNil(detail, listing, "numero"),
		"year":                       intOrNil(detail, listing, "ano"),
		"summary":                    nullable(pick("ementa")),
		"type_description":           nullable(detail.String("descricaoTipo")),
		"keywords":                   splitKeywords(detail.String("keywords")),
		"themes":                     themesOf(detail),
		"date_presented":             nullable(detail.String("dataApresentacao")),
		"last_updated":               nullable(detail.String("dataUltimaAtualizacao")),
		"status":                     statusOf(detail.Object("statusProposicao")),
		"authors":                    authorsOf(state.authors),
		"link":                       fichaURL + strconv.FormatInt(id, 10),
		crawler.FieldChangeMarker:    markerValue(in.Version),
		crawler.FieldLastProcessedAt: now,
	}

	related := p.authorDeputies(state.authors, now)
	p.logger.Debug("proposition built",
		zap.String("key", in.Target.Key.String()),
		zap.Int("authors", len(state.authors)),
		zap.Int("author_deputies", len(related)),
	)
	return crawler.WriteSet{
		Primary: crawler.Document{
			Collection: crawler.CollectionPropositions,
			Key:        in.Target.Key,
			Fields:     fields,
		},
		Related: related,
	}, nil
}

// authorDeputies returns one partial deputy document per author that is a
// deputy. The party is only defaulted when the deputy is first created so a
// fully crawled deputy keeps its details.
func (p *Propositions) authorDeputies(authors []crawler.Object, now time.Time) []crawler.Document {
	seen := map[int64]bool{}
	var out []crawler.Document
	for _, a := range authors {
		uri := a.String("uri")
		deputyID, ok := idFromURI(uri, "deputados")
		if !ok || seen[deputyID] {
			continue
		}
		seen[deputyID] = true
		fields := map[string]any{
			"name":                       a.String("nome"),
			"link":                       uri,
			crawler.FieldLastProcessedAt: now,
		}
		if party := a.String("siglaPartido"); party != "" {
			fields["party"] = party
		}
		out = append(out, crawler.Document{
			Collection: crawler.CollectionDeputies,
			Key:        crawler.NewKey(crawler.FieldDeputyID, deputyID),
			Fields:     fields,
			Defaults:   map[string]any{"party": PartyUnknown},
		})
	}
	return out
}

func intOrNil(primary, fallback crawler.Object, field string) any {
	if v, ok := primary.Int64(field); ok {
		return v
	}
	if v, ok := fallback.Int64(field); ok {
		return v
	}
	return nil
}

func splitKeywords(raw string) []string {
	out := []string{}
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func themesOf(detail crawler.Object) []string {
	out := []string{}
	switch v := detail.Get("tema").(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range v {
			switch t := item.(type) {
			case string:
				out = append(out, t)
			case map[string]any:
				if name := crawler.Object(t).String("tema"); name != "" {
					out = append(out, name)
				}
			case crawler.Object:
				if name := t.String("tema"); name != "" {
					out = append(out, name)
				}
			}
		}
	}
	return out
}

func statusOf(status crawler.Object) any {
	if status == nil {
		return nil
	}
	return map[string]any{
		"situation":   nullable(status.String("descricaoSituacao")),
		"procedure":   nullable(status.String("descricaoTramitacao")),
		"organ_short": nullable(status.String("siglaOrgao")),
		"organ":       nullable(status.String("descricaoOrgao")),
		"dispatch":    nullable(status.String("despacho")),
		"regime":      nullable(status.String("regime")),
		"date_time":   nullable(status.String("dataHora")),
	}
}

func authorsOf(authors []crawler.Object) []any {
	out := make([]any, 0, len(authors))
	for _, a := range authors {
		author := map[string]any{
			"name":            a.String("nome"),
			"type":            nullable(a.String("tipo")),
			"uri":             nullable(a.String("uri")),
			"signature_order": intOrNil(a, nil, "ordemAssinatura"),
			"proponent":       a.String("proponente") == "1",
		}
		if deputyID, ok := idFromURI(a.String("uri"), "deputados"); ok {
			author[crawler.FieldDeputyID] = deputyID
		}
		out = append(out, author)
	}
	return out
}
