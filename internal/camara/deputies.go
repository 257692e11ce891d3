package camara

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// Deputies crawls /deputados. The change marker is ultimoStatus.data, the
// date of the deputy's latest status change.
type Deputies struct {
	deps   Deps
	logger *zap.Logger
}

// NewDeputies builds the deputies pipeline.
func NewDeputies(deps Deps) (*Deputies, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Deputies{deps: deps, logger: deps.logger("deputies")}, nil
}

// Resource implements crawler.Pipeline.
func (p *Deputies) Resource() crawler.Resource {
	return crawler.ResourceDeputies
}

// ListPage implements crawler.Pipeline.
func (p *Deputies) ListPage(ctx context.Context, page, pageSize int) ([]crawler.SourceRecord, error) {
	items, err := p.deps.Client.List(ctx, "/deputados", pageQuery(page, pageSize))
	if err != nil {
		return nil, err
	}
	out := make([]crawler.SourceRecord, 0, len(items))
	for _, item := range items {
		out = append(out, crawler.SourceRecord{RemoteID: item.String("id"), Payload: item})
	}
	return out, nil
}

// Inspect fetches the deputy detail, which carries the marker.
func (p *Deputies) Inspect(ctx context.Context, rec crawler.SourceRecord) (crawler.Inspection, error) {
	id, err := recordID(rec.Payload, "id")
	if err != nil {
		return crawler.Inspection{}, err
	}
	detail, err := p.deps.Client.Detail(ctx, "/deputados/"+strconv.FormatInt(id, 10))
	if err != nil {
		return crawler.Inspection{}, fmt.Errorf("deputy %d detail: %w", id, err)
	}
	if detailID, ok := detail.Int64("id"); ok && detailID > 0 {
		id = detailID
	}
	return crawler.Inspection{
		Target: crawler.MarkerTarget{
			Collection: crawler.CollectionDeputies,
			Key:        crawler.NewKey(crawler.FieldDeputyID, id),
			Field:      crawler.FieldChangeMarker,
		},
		Version: detail.StringPtr("ultimoStatus", "data"),
		State:   detail,
	}, nil
}

// Build maps the detail onto the deputies collection.
func (p *Deputies) Build(_ context.Context, in crawler.Inspection) (crawler.WriteSet, error) {
	detail, ok := in.State.(crawler.Object)
	if !ok {
		return crawler.WriteSet{}, fmt.Errorf("unexpected inspection state %T", in.State)
	}
	status := detail.Object("ultimoStatus")
	name := status.String("nome")
	if name == "" {
		name = detail.String("nomeCivil")
	}
	party := status.String("siglaPartido")
	if party == "" {
		party = PartyUnknown
	}

	fields := map[string]any{
		"name":                       name,
		"civil_name":                 nullable(detail.String("nomeCivil")),
		"party":                      party,
		"state":                      nullable(status.String("siglaUf")),
		"email":                      nullable(status.String("gabinete", "email")),
		"phone":                      nullable(status.String("gabinete", "telefone")),
		"photo_url":                  nullable(status.String("urlFoto")),
		"legislature_id":             nullable(status.String("idLegislatura")),
		"electoral_condition":        nullable(status.String("condicaoEleitoral")),
		"situation":                  nullable(status.String("situacao")),
		"mandate":                    mandateOf(status),
		"office":                     officeOf(status),
		crawler.FieldChangeMarker:    markerValue(in.Version),
		crawler.FieldLastProcessedAt: p.deps.now(),
	}
	p.logger.Debug("deputy built", zap.String("key", in.Target.Key.String()), zap.String("party", party))
	return crawler.WriteSet{
		Primary: crawler.Document{
			Collection: crawler.CollectionDeputies,
			Key:        in.Target.Key,
			Fields:     fields,
		},
	}, nil
}

func mandateOf(status crawler.Object) any {
	m := status.Object("mandato")
	if m == nil {
		return nil
	}
	return map[string]any{
		"start": nullable(m.String("dataInicio")),
		"end":   nullable(m.String("dataFim")),
		"type":  nullable(m.String("tipoMandato")),
	}
}

func officeOf(status crawler.Object) any {
	g := status.Object("gabinete")
	if g == nil {
		return nil
	}
	return map[string]any{
		"name":     nullable(g.String("nome")),
		"building": nullable(g.String("predio")),
		"room":     nullable(g.String("sala")),
		"floor":    nullable(g.String("andar")),
		"phone":    nullable(g.String("telefone")),
		"email":    nullable(g.String("email")),
	}
}
