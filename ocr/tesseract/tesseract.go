//go:build cgo

// Package tesseract reads word boxes with a local Tesseract installation.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	iface "FloorAuditServer/interface"

	"github.com/otiai10/gosseract/v2"
)

// Available reports whether this build links Tesseract.
const Available = true

type Recognizer struct {
	Language     string
	TessdataPath string
}

var _ iface.Recognizer = (*Recognizer)(nil)

func New(language, tessdata string) (*Recognizer, error) {
	if language == "" {
		language = "eng"
	}
	return &Recognizer{Language: language, TessdataPath: tessdata}, nil
}

// Recognize opens a fresh client per call; gosseract clients are not safe
// for concurrent use.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]iface.RecognizedWord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if r.TessdataPath != "" {
		if err := client.SetTessdataPrefix(r.TessdataPath); err != nil {
			return nil, fmt.Errorf("set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(r.Language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}
	words := make([]iface.RecognizedWord, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, wordFromBox(b.Word, b.Box))
	}
	return words, nil
}
