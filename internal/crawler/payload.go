package crawler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Object is a decoded upstream JSON or XML object.
type Object map[string]any

// Get walks nested objects by key. It returns nil when any step is missing.
func (o Object) Get(path ...string) any {
	var cur any = o
	for _, key := range path {
		m, ok := asObject(cur)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// Object returns the nested object at path, or nil.
func (o Object) Object(path ...string) Object {
	m, _ := asObject(o.Get(path...))
	return m
}

// String returns the value at path rendered as a string. Missing values and
// nested structures yield "".
func (o Object) String(path ...string) string {
	switch v := o.Get(path...).(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// StringPtr is String but nil for missing or blank values.
func (o Object) StringPtr(path ...string) *string {
	s := strings.TrimSpace(o.String(path...))
	if s == "" {
		return nil
	}
	return &s
}

// Int64 coerces the value at path to an integer.
func (o Object) Int64(path ...string) (int64, bool) {
	switch v := o.Get(path...).(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), v == float64(int64(v))
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Objects returns the list at path. A single object is treated as a one item
// list, matching how XML renders single element collections.
func (o Object) Objects(path ...string) []Object {
	return toObjects(o.Get(path...))
}

func toObjects(v any) []Object {
	switch t := v.(type) {
	case []any:
		out := make([]Object, 0, len(t))
		for _, item := range t {
			if m, ok := asObject(item); ok {
				out = append(out, m)
			}
		}
		return out
	case []Object:
		return t
	default:
		if m, ok := asObject(v); ok {
			return []Object{m}
		}
		return nil
	}
}

func asObject(v any) (Object, bool) {
	switch t := v.(type) {
	case Object:
		return t, true
	case map[string]any:
		return Object(t), true
	default:
		return nil, false
	}
}

// Format identifies the wire format of an upstream response.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// EnvelopeKind tags the shape of the "dados" payload.
type EnvelopeKind int

// Envelope kinds.
const (
	// KindEmpty means the payload carried no data.
	KindEmpty EnvelopeKind = iota
	// KindListing is a plain array of objects.
	KindListing
	// KindDetail is a single object.
	KindDetail
	// KindWrappedListing is an XML array nested under one element name.
	KindWrappedListing
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindDetail:
		return "detail"
	case KindWrappedListing:
		return "wrapped_listing"
	default:
		return "empty"
	}
}

// Envelope is the normalized form of an upstream response body.
type Envelope struct {
	URL    string
	Format Format
	Kind   EnvelopeKind
	items  []Object
	detail Object
	// single holds the lone child of an XML detail, which may also be a
	// one-item listing. The caller's accessor decides.
	single []Object
}

// NewEnvelope classifies the decoded root object of a response. The payload
// lives under "dados" in both formats. An XML object with one repeated child
// is a wrapped listing. An XML object with one non-repeated child object is
// kept as a detail that Listing also accepts as a single item.
func NewEnvelope(rawURL string, format Format, root Object) (Envelope, error) {
	env := Envelope{URL: rawURL, Format: format}
	data, present := root["dados"]
	if !present {
		return env, nil
	}
	switch v := data.(type) {
	case nil:
		return env, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return env, nil
		}
		return env, fmt.Errorf("unexpected scalar payload %q", v)
	case []any:
		items, err := objectItems(v)
		if err != nil {
			return env, err
		}
		env.Kind = KindListing
		env.items = items
		return env, nil
	}
	obj, ok := asObject(data)
	if !ok {
		return env, fmt.Errorf("unexpected payload type %T", data)
	}
	if format == FormatXML && len(obj) == 1 {
		for _, inner := range obj {
			switch t := inner.(type) {
			case []any:
				items, err := objectItems(t)
				if err != nil {
					return env, err
				}
				env.Kind = KindWrappedListing
				env.items = items
				return env, nil
			default:
				if m, ok := asObject(t); ok {
					env.single = []Object{m}
				}
			}
		}
	}
	env.Kind = KindDetail
	env.detail = obj
	return env, nil
}

func objectItems(raw []any) ([]Object, error) {
	items := make([]Object, 0, len(raw))
	for i, item := range raw {
		m, ok := asObject(item)
		if !ok {
			return nil, fmt.Errorf("listing item %d is %T, not an object", i, item)
		}
		items = append(items, m)
	}
	return items, nil
}

// Listing returns the array payload. An empty envelope is an empty listing.
func (e Envelope) Listing() ([]Object, error) {
	switch e.Kind {
	case KindEmpty:
		return []Object{}, nil
	case KindListing, KindWrappedListing:
		return e.items, nil
	case KindDetail:
		if e.single != nil {
			return e.single, nil
		}
		return nil, NewFatalError(e.URL, 0, fmt.Errorf("expected listing payload, got %s", e.Kind))
	default:
		return nil, NewFatalError(e.URL, 0, fmt.Errorf("expected listing payload, got %s", e.Kind))
	}
}

// Detail returns the object payload.
func (e Envelope) Detail() (Object, error) {
	if e.Kind != KindDetail {
		return nil, NewFatalError(e.URL, 0, fmt.Errorf("expected detail payload, got %s", e.Kind))
	}
	return e.detail, nil
}
