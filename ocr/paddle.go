package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strings"
	"time"

	iface "FloorAuditServer/interface"
)

// SubprocessRecognizer runs an external recognition script once per image.
// The script receives a PNG path as its only argument and prints a
// StreamPayload on stdout.
type SubprocessRecognizer struct {
	Python  string
	Script  string
	Timeout time.Duration
}

var _ iface.Recognizer = (*SubprocessRecognizer)(nil)

func NewSubprocessRecognizer(python, script string, timeout time.Duration) (*SubprocessRecognizer, error) {
	if script == "" {
		return nil, errors.New("recognizer script cannot be empty")
	}
	if python == "" {
		python = "python"
	}
	return &SubprocessRecognizer{Python: python, Script: script, Timeout: timeout}, nil
}

func (r *SubprocessRecognizer) Recognize(ctx context.Context, img image.Image) ([]iface.RecognizedWord, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	f, err := os.CreateTemp("", "floor-audit-ocr-*.png")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	defer os.Remove(path)
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode page: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Python, r.Script, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", r.Script, err, strings.TrimSpace(stderr.String()))
	}
	return ParseStream(r.Script, stdout.Bytes())
}
