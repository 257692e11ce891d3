package camara

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// Vote values stored on vote documents.
const (
	VoteYes   = "Sim"
	VoteNo    = "Não"
	VoteOther = "Outros"
)

const defaultVotesConcurrency = 4

// Votes walks the stored propositions and ingests the roll call votes of
// each one. The upstream exposes no change date for votes, so the marker is a
// digest of the proposition's votings and their registration times, stored as
// votes_marker on the proposition.
type Votes struct {
	deps        Deps
	concurrency int
	logger      *zap.Logger
}

type votesState struct {
	propositionID int64
	proposition   crawler.Object
	votings       []crawler.Object
}

// NewVotes builds the votes pipeline.
func NewVotes(deps Deps) (*Votes, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Hasher == nil {
		return nil, errors.New("hasher is required")
	}
	return &Votes{deps: deps, concurrency: defaultVotesConcurrency, logger: deps.logger("votes")}, nil
}

// Resource implements crawler.Pipeline.
func (p *Votes) Resource() crawler.Resource {
	return crawler.ResourceVotes
}

// ListPage pages over the stored propositions.
func (p *Votes) ListPage(ctx context.Context, page, pageSize int) ([]crawler.SourceRecord, error) {
	docs, err := p.deps.Store.Page(ctx, crawler.CollectionPropositions, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list stored propositions: %w", err)
	}
	out := make([]crawler.SourceRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, crawler.SourceRecord{RemoteID: doc.String(crawler.FieldPropositionID), Payload: doc})
	}
	return out, nil
}

// Inspect lists the proposition's votings and derives the marker from them.
func (p *Votes) Inspect(ctx context.Context, rec crawler.SourceRecord) (crawler.Inspection, error) {
	id, err := recordID(rec.Payload, crawler.FieldPropositionID)
	if err != nil {
		return crawler.Inspection{}, err
	}
	votings, err := p.deps.Client.List(ctx, "/proposicoes/"+strconv.FormatInt(id, 10)+"/votacoes", nil)
	if err != nil {
		return crawler.Inspection{}, fmt.Errorf("proposition %d votings: %w", id, err)
	}
	marker, err := p.marker(votings)
	if err != nil {
		return crawler.Inspection{}, err
	}
	return crawler.Inspection{
		Target: crawler.MarkerTarget{
			Collection: crawler.CollectionPropositions,
			Key:        crawler.NewKey(crawler.FieldPropositionID, id),
			Field:      crawler.FieldVotesMarker,
		},
		Version: &marker,
		State:   &votesState{propositionID: id, proposition: rec.Payload, votings: votings},
	}, nil
}

func (p *Votes) marker(votings []crawler.Object) (string, error) {
	lines := make([]string, 0, len(votings))
	for _, v := range votings {
		lines = append(lines, v.String("id")+"@"+v.String("dataHoraRegistro"))
	}
	sort.Strings(lines)
	digest, err := p.deps.Hasher.Hash([]byte(strings.Join(lines, "\n")))
	if err != nil {
		return "", fmt.Errorf("hash votings: %w", err)
	}
	return digest, nil
}

// Build fetches the votes of every voting, writes one document per deputy
// vote plus a weak deputy reference, and tallies the result onto the
// proposition.
func (p *Votes) Build(ctx context.Context, in crawler.Inspection) (crawler.WriteSet, error) {
	state, ok := in.State.(*votesState)
	if !ok {
		return crawler.WriteSet{}, fmt.Errorf("unexpected inspection state %T", in.State)
	}
	ballots, err := p.fetchBallots(ctx, state.votings)
	if err != nil {
		return crawler.WriteSet{}, err
	}

	now := p.deps.now()
	propositionType := nullable(state.proposition.String("type"))
	var (
		votes      []crawler.Document
		voteIndex  = map[string]int{}
		deputies   []crawler.Document
		seenDeputy = map[int64]bool{}
		withVotes  int
	)
	for i, voting := range state.votings {
		votingID := voting.String("id")
		if votingID == "" || len(ballots[i]) == 0 {
			continue
		}
		withVotes++
		for _, ballot := range ballots[i] {
			deputy := ballot.Object("deputado_")
			deputyID, ok := deputy.Int64("id")
			if !ok || deputyID <= 0 {
				continue
			}
			key := crawler.NewKey(crawler.FieldVotingID, votingID).
				With(crawler.FieldDeputyID, deputyID).
				With(crawler.FieldPropositionID, state.propositionID)
			doc := crawler.Document{
				Collection: crawler.CollectionVotes,
				Key:        key,
				Fields: map[string]any{
					"deputy_name":                deputy.String("nome"),
					"deputy_party":               nullable(deputy.String("siglaPartido")),
					"deputy_state":               nullable(deputy.String("siglaUf")),
					"proposition_type":           propositionType,
					"vote":                       NormalizeVote(ballot.String("tipoVoto")),
					"voted_at":                   nullable(ballot.String("dataRegistroVoto")),
					crawler.FieldLastProcessedAt: now,
				},
			}
			if idx, dup := voteIndex[key.String()]; dup {
				votes[idx] = doc
			} else {
				voteIndex[key.String()] = len(votes)
				votes = append(votes, doc)
			}

			if !seenDeputy[deputyID] {
				seenDeputy[deputyID] = true
				deputies = append(deputies, deputyReference(deputyID, deputy))
			}
		}
	}

	yes, no, other := tally(votes)
	p.logger.Debug("votes built",
		zap.Int64("proposition_id", state.propositionID),
		zap.Int("votings", len(state.votings)),
		zap.Int("votings_with_votes", withVotes),
		zap.Int("votes", len(votes)),
	)

	related := make([]crawler.Document, 0, len(deputies)+len(votes))
	related = append(related, deputies...)
	related = append(related, votes...)
	return crawler.WriteSet{
		Primary: crawler.Document{
			Collection: crawler.CollectionPropositions,
			Key:        in.Target.Key,
			Fields: map[string]any{
				"total_yes":              yes,
				"total_no":               no,
				"total_other":            other,
				"votings_with_votes":     withVotes,
				"votes_processed":        true,
				"votes_processed_at":     now,
				crawler.FieldVotesMarker: markerValue(in.Version),
			},
		},
		Related: related,
	}, nil
}

// fetchBallots fetches /votacoes/{id}/votos for every voting with bounded
// concurrency. Results are indexed like votings.
func (p *Votes) fetchBallots(ctx context.Context, votings []crawler.Object) ([][]crawler.Object, error) {
	out := make([][]crawler.Object, len(votings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, voting := range votings {
		votingID := voting.String("id")
		if votingID == "" {
			continue
		}
		g.Go(func() error {
			ballots, err := p.deps.Client.List(gctx, "/votacoes/"+url.PathEscape(votingID)+"/votos", nil)
			if err != nil {
				return fmt.Errorf("voting %s ballots: %w", votingID, err)
			}
			out[i] = ballots
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// deputyReference only sets the key on update; name, party and state are
// filled in when the deputy does not exist yet.
func deputyReference(id int64, deputy crawler.Object) crawler.Document {
	party := deputy.String("siglaPartido")
	if party == "" {
		party = PartyUnknown
	}
	return crawler.Document{
		Collection: crawler.CollectionDeputies,
		Key:        crawler.NewKey(crawler.FieldDeputyID, id),
		Fields:     map[string]any{},
		Defaults: map[string]any{
			"name":      deputy.String("nome"),
			"party":     party,
			"state":     nullable(deputy.String("siglaUf")),
			"photo_url": nullable(deputy.String("urlFoto")),
		},
	}
}

// NormalizeVote folds the upstream tipoVoto into Sim, Não or Outros.
func NormalizeVote(raw string) string {
	switch strings.TrimSpace(raw) {
	case VoteYes:
		return VoteYes
	case VoteNo:
		return VoteNo
	default:
		return VoteOther
	}
}

func tally(votes []crawler.Document) (yes, no, other int64) {
	for _, v := range votes {
		switch v.Fields["vote"] {
		case VoteYes:
			yes++
		case VoteNo:
			no++
		default:
			other++
		}
	}
	return yes, no, other
}
