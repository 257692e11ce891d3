package collyfetcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// Decode parses a response body into an Envelope according to its content
// type. Bodies without a content type are sniffed. Every failure is fatal.
func Decode(rawURL, contentType string, body []byte) (crawler.Envelope, error) {
	format, err := detectFormat(contentType, body)
	if err != nil {
		return crawler.Envelope{}, crawler.NewFatalError(rawURL, 0, err)
	}
	var root crawler.Object
	switch format {
	case crawler.FormatXML:
		root, err = decodeXML(body)
	default:
		root, err = decodeJSON(body)
	}
	if err != nil {
		return crawler.Envelope{}, crawler.NewFatalError(rawURL, 0, err)
	}
	env, err := crawler.NewEnvelope(rawURL, format, root)
	if err != nil {
		return crawler.Envelope{}, crawler.NewFatalError(rawURL, 0, err)
	}
	return env, nil
}

func detectFormat(contentType string, body []byte) (crawler.Format, error) {
	if strings.TrimSpace(contentType) == "" {
		trimmed := bytes.TrimSpace(body)
		switch {
		case bytes.HasPrefix(trimmed, []byte("{")):
			return crawler.FormatJSON, nil
		case bytes.HasPrefix(trimmed, []byte("<")):
			return crawler.FormatXML, nil
		default:
			return "", errors.New("cannot detect body format")
		}
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parse content type %q: %w", contentType, err)
	}
	switch {
	case strings.HasSuffix(mediaType, "json"):
		return crawler.FormatJSON, nil
	case strings.HasSuffix(mediaType, "xml"):
		return crawler.FormatXML, nil
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func decodeJSON(body []byte) (crawler.Object, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if root == nil {
		return nil, errors.New("decode json: body is not an object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode json: trailing data after object")
	}
	return crawler.Object(root), nil
}

// decodeXML converts the document element into an Object. Repeated child
// elements become arrays, leaf elements become trimmed strings, and
// attributes are merged into the element's object.
func decodeXML(body []byte) (crawler.Object, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}
	var root *xmlquery.Node
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			root = n
			break
		}
	}
	if root == nil {
		return nil, errors.New("decode xml: no document element")
	}
	switch v := xmlValue(root).(type) {
	case crawler.Object:
		return v, nil
	default:
		return crawler.Object{}, nil
	}
}

func xmlValue(n *xmlquery.Node) any {
	fields := crawler.Object{}
	for _, attr := range n.Attr {
		fields[attr.Name.Local] = attr.Value
	}
	repeated := map[string]bool{}
	children := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		children++
		name := c.Data
		value := xmlValue(c)
		existing, seen := fields[name]
		switch {
		case !seen:
			fields[name] = value
		case repeated[name]:
			fields[name] = append(existing.([]any), value)
		default:
			fields[name] = []any{existing, value}
			repeated[name] = true
		}
	}
	if children == 0 {
		text := strings.TrimSpace(n.InnerText())
		if len(n.Attr) == 0 {
			return text
		}
		if text != "" {
			fields["_"] = text
		}
	}
	return fields
}
