package tle

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Entry represents a single satellite's two-line element set.
type Entry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// Lines is a validated pair of element lines.
type Lines struct {
	Line1 string
	Line2 string
}

// Kind tags the shape of an ephemeris response.
type Kind uint8

const (
	// KindRaw is plain text: a name line followed by the two element lines.
	KindRaw Kind = iota
	// KindStructured is a JSON object {"line1": "...", "line2": "..."}.
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// Payload is an ephemeris response as received, tagged with its shape.
// Body is kept verbatim so callers can detect upstream changes byte for byte.
type Payload struct {
	Kind Kind
	Body []byte
}

// RawPayload wraps multi-line text.
func RawPayload(text string) Payload {
	return Payload{Kind: KindRaw, Body: []byte(text)}
}

// StructuredPayload builds the JSON shape from two lines.
func StructuredPayload(line1, line2 string) Payload {
	body, _ := json.Marshal(structuredBody{Line1: line1, Line2: line2})
	return Payload{Kind: KindStructured, Body: body}
}

// Equal reports whether two payloads carry identical content.
func (p Payload) Equal(o Payload) bool {
	return p.Kind == o.Kind && bytes.Equal(p.Body, o.Body)
}

// IsZero reports whether the payload is empty.
func (p Payload) IsZero() bool {
	return len(p.Body) == 0
}

type structuredBody struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// Source returns the current element payload for one catalog id.
type Source interface {
	Elements(ctx context.Context, catalogID int) (Payload, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, catalogID int) (Payload, error)

// Elements calls f.
func (f SourceFunc) Elements(ctx context.Context, catalogID int) (Payload, error) {
	return f(ctx, catalogID)
}
