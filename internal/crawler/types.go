package crawler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Resource names one ingestion pipeline.
type Resource string

// Supported resources.
const (
	ResourceDeputies     Resource = "deputies"
	ResourcePropositions Resource = "propositions"
	ResourceVotes        Resource = "votes"
)

// Resources lists every resource in start order.
func Resources() []Resource {
	return []Resource{ResourceDeputies, ResourcePropositions, ResourceVotes}
}

// Collection returns the document collection that holds the resource's
// primary entities. Votes are stored in their own collection even though
// their marker lives on propositions.
func (r Resource) Collection() string {
	return string(r)
}

// ParseResource maps a route or CLI argument to a Resource.
func ParseResource(raw string) (Resource, bool) {
	r := Resource(strings.ToLower(strings.TrimSpace(raw)))
	switch r {
	case ResourceDeputies, ResourcePropositions, ResourceVotes:
		return r, true
	default:
		return "", false
	}
}

// Collection names used by the document stores.
const (
	CollectionDeputies     = "deputies"
	CollectionPropositions = "propositions"
	CollectionVotes        = "votes"
)

// Natural key field names.
const (
	FieldDeputyID      = "deputy_id"
	FieldPropositionID = "proposition_id"
	FieldVotingID      = "voting_id"
)

// Marker and bookkeeping fields written by the pipelines.
const (
	FieldChangeMarker    = "change_marker"
	FieldVotesMarker     = "votes_marker"
	FieldLastProcessedAt = "last_processed_at"
)

// KeyFields lists the natural key fields of every known collection.
var KeyFields = map[string][]string{
	CollectionDeputies:     {FieldDeputyID},
	CollectionPropositions: {FieldPropositionID},
	CollectionVotes:        {FieldVotingID, FieldDeputyID, FieldPropositionID},
}

// SourceRecord is one item returned by a listing page.
type SourceRecord struct {
	RemoteID string
	Payload  Object
}

// KeyField is one component of a natural key.
type KeyField struct {
	Name  string
	Value any
}

// NaturalKey identifies a document across runs. Field order is significant.
type NaturalKey []KeyField

// NewKey starts a NaturalKey with one component.
func NewKey(name string, value any) NaturalKey {
	return NaturalKey{{Name: name, Value: value}}
}

// With returns a copy of k extended by one component.
func (k NaturalKey) With(name string, value any) NaturalKey {
	out := make(NaturalKey, 0, len(k)+1)
	out = append(out, k...)
	return append(out, KeyField{Name: name, Value: value})
}

// Validate reports whether every component has a name and a usable value.
func (k NaturalKey) Validate() error {
	if len(k) == 0 {
		return errors.New("natural key is empty")
	}
	for _, f := range k {
		if f.Name == "" {
			return errors.New("natural key field name is empty")
		}
		switch v := f.Value.(type) {
		case nil:
			return fmt.Errorf("natural key field %q is nil", f.Name)
		case string:
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("natural key field %q is blank", f.Name)
			}
		}
	}
	return nil
}

// String renders the key as name=value pairs joined by "|".
func (k NaturalKey) String() string {
	parts := make([]string, len(k))
	for i, f := range k {
		parts[i] = fmt.Sprintf("%s=%v", f.Name, f.Value)
	}
	return strings.Join(parts, "|")
}

// Map returns the key components as document fields.
func (k NaturalKey) Map() map[string]any {
	out := make(map[string]any, len(k))
	for _, f := range k {
		out[f.Name] = f.Value
	}
	return out
}

// Document is a partial write against one collection. Fields absent from
// Fields are left untouched on the stored document.
type Document struct {
	Collection string
	Key        NaturalKey
	Fields     map[string]any
	// Defaults are written only when the document is created. Keys also
	// present in Fields are ignored.
	Defaults map[string]any
}

// InsertDefaults returns Defaults minus any key set by Fields or the key.
func (d Document) InsertDefaults() map[string]any {
	if len(d.Defaults) == 0 {
		return nil
	}
	merged := d.Merged()
	out := make(map[string]any, len(d.Defaults))
	for k, v := range d.Defaults {
		if _, ok := merged[k]; !ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate checks the collection and key before a write.
func (d Document) Validate() error {
	if d.Collection == "" {
		return errors.New("document collection is empty")
	}
	if err := d.Key.Validate(); err != nil {
		return err
	}
	return nil
}

// Merged returns Fields with the natural key components applied on top.
func (d Document) Merged() map[string]any {
	out := make(map[string]any, len(d.Fields)+len(d.Key))
	for k, v := range d.Fields {
		out[k] = v
	}
	for _, f := range d.Key {
		out[f.Name] = f.Value
	}
	return out
}

// SortedFieldNames returns the field names of Merged in lexical order.
func (d Document) SortedFieldNames() []string {
	merged := d.Merged()
	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarkerTarget points at the stored change marker for an entity.
type MarkerTarget struct {
	Collection string
	Key        NaturalKey
	Field      string
}

// Inspection is the cheap per-record probe a pipeline performs before the
// change detector decides whether the record needs a full rebuild.
type Inspection struct {
	Target MarkerTarget
	// Version is the remote change marker. Nil means the source exposed none.
	Version *string
	// State carries pipeline specific data from Inspect to Build.
	State any
}

// WriteSet holds the documents produced for one record. Related documents are
// written first and Primary last, so the change marker carried by Primary is
// only stored once everything it summarizes has been persisted.
type WriteSet struct {
	Primary Document
	Related []Document
}

// RecordFailure describes one rejected document inside a bulk write.
type RecordFailure struct {
	Index int
	Key   string
	Err   error
}

// BulkResult summarizes a bulk upsert.
type BulkResult struct {
	Upserted int
	Failures []RecordFailure
}

// Failed reports whether any document was rejected.
func (r BulkResult) Failed() bool {
	return len(r.Failures) > 0
}

// State is the controller lifecycle state.
type State string

// Controller states.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is a point-in-time snapshot of a controller.
type Status struct {
	Resource   Resource   `json:"resource"`
	State      State      `json:"state"`
	Running    bool       `json:"running"`
	Processed  int64      `json:"processed"`
	Skipped    int64      `json:"skipped"`
	Failed     int64      `json:"failed"`
	Page       int64      `json:"page"`
	RunID      string     `json:"run_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// RunOutcome is the terminal result of one crawl run.
type RunOutcome string

// Run outcomes.
const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeStopped   RunOutcome = "stopped"
	OutcomeFailed    RunOutcome = "failed"
)
