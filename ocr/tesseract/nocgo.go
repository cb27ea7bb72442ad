//go:build !cgo

package tesseract

import (
	"context"
	"errors"
	"image"

	iface "FloorAuditServer/interface"
)

const Available = false

var ErrUnavailable = errors.New("tesseract recognizer requires a cgo build")

type Recognizer struct {
	Language     string
	TessdataPath string
}

func New(language, tessdata string) (*Recognizer, error) {
	return nil, ErrUnavailable
}

func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]iface.RecognizedWord, error) {
	return nil, ErrUnavailable
}
