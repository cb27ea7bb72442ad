// Package vision reads word boxes with Google Cloud Vision text detection.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	iface "FloorAuditServer/interface"

	gvision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
)

// Recognizer uses Application Default Credentials.
type Recognizer struct {
	client *gvision.ImageAnnotatorClient
	hints  []string
}

var _ iface.Recognizer = (*Recognizer)(nil)

func New(ctx context.Context, languageHints ...string) (*Recognizer, error) {
	client, err := gvision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &Recognizer{client: client, hints: languageHints}, nil
}

func (r *Recognizer) Close() error {
	return r.client.Close()
}

func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]iface.RecognizedWord, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image:    &visionpb.Image{Content: buf.Bytes()},
				Features: []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION}},
			},
		},
	}
	if len(r.hints) > 0 {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: r.hints}
	}
	resp, err := r.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision API request failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return []iface.RecognizedWord{}, nil
	}
	if e := resp.Responses[0].Error; e != nil {
		return nil, fmt.Errorf("vision API error: %s", e.Message)
	}
	return wordsFromAnnotations(resp.Responses[0].TextAnnotations), nil
}

// wordsFromAnnotations skips the first annotation, which holds the whole
// page text, and keeps the per-word entries.
func wordsFromAnnotations(anns []*visionpb.EntityAnnotation) []iface.RecognizedWord {
	words := []iface.RecognizedWord{}
	if len(anns) < 2 {
		return words
	}
	for _, a := range anns[1:] {
		if a.GetDescription() == "" {
			continue
		}
		words = append(words, iface.RecognizedWord{
			Text: a.GetDescription(),
			BBox: bounds(a.GetBoundingPoly().GetVertices()),
		})
	}
	return words
}

func bounds(vs []*visionpb.Vertex) iface.BBox {
	if len(vs) == 0 {
		return iface.BBox{}
	}
	b := iface.BBox{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, v := range vs {
		x, y := float64(v.GetX()), float64(v.GetY())
		b.X0, b.X1 = math.Min(b.X0, x), math.Max(b.X1, x)
		b.Y0, b.Y1 = math.Min(b.Y0, y), math.Max(b.Y1, y)
	}
	return b
}
