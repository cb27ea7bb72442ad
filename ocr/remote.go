package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	iface "FloorAuditServer/interface"

	"github.com/go-resty/resty/v2"
)

// HTTPRecognizer posts a page as a base64 PNG data URL to a recognition
// microservice that answers with a StreamPayload.
type HTTPRecognizer struct {
	client *resty.Client
	url    string
}

var _ iface.Recognizer = (*HTTPRecognizer)(nil)

func NewHTTPRecognizer(url string, timeout time.Duration) (*HTTPRecognizer, error) {
	if url == "" {
		return nil, errors.New("recognizer url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRecognizer{client: resty.New().SetTimeout(timeout), url: url}, nil
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, img image.Image) ([]iface.RecognizedWord, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"imageBase64": "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		}).
		Post(r.url)
	if err != nil {
		return nil, fmt.Errorf("recognize %s: %w", r.url, err)
	}
	// Error responses still carry a payload with success=false.
	return ParseStream(r.url, resp.Body())
}
