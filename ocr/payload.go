package ocr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	iface "FloorAuditServer/interface"
)

// UnparseableError carries the raw output of a recognition backend that did
// not contain a usable JSON object.
type UnparseableError struct {
	Source string
	Raw    string
	Err    error
}

func (e *UnparseableError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("%s: unparseable output (%v): %q", e.Source, e.Err, raw)
}

func (e *UnparseableError) Unwrap() error { return e.Err }

// ServiceError is a well-formed payload in which the backend reported failure.
type ServiceError struct {
	Source  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

var errNoJSON = errors.New("no JSON object found")

// ExtractPayload decodes the JSON object spanning the first '{' and the last
// '}' of raw into v. Log lines printed around the object are ignored.
func ExtractPayload(source string, raw []byte, v any) error {
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return &UnparseableError{Source: source, Raw: string(raw), Err: errNoJSON}
	}
	if err := json.Unmarshal(raw[start:end+1], v); err != nil {
		return &UnparseableError{Source: source, Raw: string(raw), Err: err}
	}
	return nil
}

// Finding is one text region in a recognition service payload.
type Finding struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	BBox       [][]float64 `json:"bbox"`
}

// StreamPayload is the JSON document printed by the subprocess recognizer and
// returned by the HTTP recognition service.
type StreamPayload struct {
	Engine          string    `json:"engine"`
	TotalDetections int       `json:"total_detections"`
	Stream          []Finding `json:"stream"`
	Success         bool      `json:"success"`
	Error           string    `json:"error"`
}

// ParseStream decodes a stream payload and converts its polygons to
// axis-aligned word boxes.
func ParseStream(source string, raw []byte) ([]iface.RecognizedWord, error) {
	var p StreamPayload
	if err := ExtractPayload(source, raw, &p); err != nil {
		return nil, err
	}
	if !p.Success {
		msg := p.Error
		if msg == "" {
			msg = "recognition reported failure"
		}
		return nil, &ServiceError{Source: source, Message: msg}
	}
	words := make([]iface.RecognizedWord, 0, len(p.Stream))
	for _, f := range p.Stream {
		words = append(words, iface.RecognizedWord{Text: f.Text, BBox: polygonBounds(f.BBox)})
	}
	return words, nil
}

func polygonBounds(pts [][]float64) iface.BBox {
	if len(pts) == 0 {
		return iface.BBox{}
	}
	b := iface.BBox{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	n := 0
	for _, p := range pts {
		if len(p) < 2 {
			continue
		}
		b.X0, b.X1 = math.Min(b.X0, p[0]), math.Max(b.X1, p[0])
		b.Y0, b.Y1 = math.Min(b.Y0, p[1]), math.Max(b.Y1, p[1])
		n++
	}
	if n == 0 {
		return iface.BBox{}
	}
	return b
}
