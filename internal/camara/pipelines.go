package camara

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// PartyUnknown is stored for deputies first seen without a party.
const PartyUnknown = "S/PARTIDO"

// Deps are the collaborators shared by the pipelines.
type Deps struct {
	Client *Client
	Store  crawler.DocumentStore
	Clock  crawler.Clock
	Hasher crawler.Hasher
	Logger *zap.Logger
}

func (d Deps) validate() error {
	if d.Client == nil {
		return errors.New("camara client is required")
	}
	if d.Store == nil {
		return errors.New("document store is required")
	}
	if d.Clock == nil {
		return errors.New("clock is required")
	}
	return nil
}

func (d Deps) now() time.Time {
	return d.Clock.Now().UTC()
}

func (d Deps) logger(name string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(name)
}

// NewPipelines builds every pipeline keyed by resource.
func NewPipelines(deps Deps, filter PropositionFilter) (map[crawler.Resource]crawler.Pipeline, error) {
	deputies, err := NewDeputies(deps)
	if err != nil {
		return nil, err
	}
	propositions, err := NewPropositions(deps, filter)
	if err != nil {
		return nil, err
	}
	votes, err := NewVotes(deps)
	if err != nil {
		return nil, err
	}
	return map[crawler.Resource]crawler.Pipeline{
		crawler.ResourceDeputies:     deputies,
		crawler.ResourcePropositions: propositions,
		crawler.ResourceVotes:        votes,
	}, nil
}

// recordID extracts the numeric "id" of a listing item.
func recordID(obj crawler.Object, field string) (int64, error) {
	id, ok := obj.Int64(field)
	if !ok || id <= 0 {
		return 0, crawler.NewFatalError("", 0, fmt.Errorf("item has no usable %q", field))
	}
	return id, nil
}

// idFromURI returns the trailing numeric segment of an API URI such as
// ".../deputados/204554".
func idFromURI(uri, collection string) (int64, bool) {
	marker := "/" + collection + "/"
	i := strings.LastIndex(uri, marker)
	if i < 0 {
		return 0, false
	}
	tail := strings.Trim(uri[i+len(marker):], "/")
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// nullable returns s or nil when s is blank, so absent values are stored as
// null rather than "".
func nullable(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func markerValue(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
