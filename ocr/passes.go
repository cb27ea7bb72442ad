package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"
	"sync"

	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"

	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BinarizeThreshold is the cut on the mean of R, G and B. Pixels strictly
// brighter than it become paper.
const BinarizeThreshold = 160

// Angles are the clockwise page rotations each recognized in its own pass.
var Angles = []int{0, 90, 270}

// Binarize converts a page to black ink on white paper.
func Binarize(page image.Image) *image.Gray {
	bw := imaging.AdjustFunc(page, func(c color.NRGBA) color.NRGBA {
		// compare sums to keep the mean exact
		if int(c.R)+int(c.G)+int(c.B) > 3*BinarizeThreshold {
			return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
		}
		return color.NRGBA{A: 255}
	})
	return segment.Threshold(bw, 128)
}

// Rotate turns img clockwise by a multiple of 90 degrees.
func Rotate(img image.Image, angle int) (image.Image, error) {
	switch ((angle % 360) + 360) % 360 {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	}
	return nil, fmt.Errorf("unsupported rotation %d", angle)
}

// PassError reports a failed recognition pass.
type PassError struct {
	Angle int
	Err   error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("recognition pass %d°: %v", e.Angle, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }

// RecognizePass recognizes one rotation of an already binarized page and
// assembles the words into lines.
func RecognizePass(ctx context.Context, rec iface.Recognizer, prepared image.Image, angle int) ([]string, error) {
	rotated, err := Rotate(prepared, angle)
	if err != nil {
		return nil, &PassError{Angle: angle, Err: err}
	}
	words, err := rec.Recognize(ctx, rotated)
	if err != nil {
		return nil, &PassError{Angle: angle, Err: err}
	}
	return Assemble(words), nil
}

// Passes is the outcome of a multi-orientation recognition.
type Passes struct {
	Lines  []string
	Failed []*PassError
}

// AllFailed reports whether no pass produced output.
func (p Passes) AllFailed() bool { return len(p.Failed) == len(Angles) }

// MultiPass binarizes the page, recognizes it at every angle in Angles
// concurrently and merges the lines in angle order. A failed pass is recorded
// and the others still contribute.
func MultiPass(ctx context.Context, rec iface.Recognizer, page image.Image) (Passes, error) {
	prepared := Binarize(page)
	perPass := make([][]string, len(Angles))
	var mu sync.Mutex
	var failed []*PassError

	g, gctx := errgroup.WithContext(ctx)
	for i, angle := range Angles {
		g.Go(func() error {
			lines, err := RecognizePass(gctx, rec, prepared, angle)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log().Warn("Recognition pass failed", zap.Int("angle", angle), zap.Error(err))
				var pe *PassError
				if !errors.As(err, &pe) {
					pe = &PassError{Angle: angle, Err: err}
				}
				mu.Lock()
				failed = append(failed, pe)
				mu.Unlock()
				return nil
			}
			perPass[i] = lines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Passes{}, err
	}
	slices.SortFunc(failed, func(a, b *PassError) int {
		return slices.Index(Angles, a.Angle) - slices.Index(Angles, b.Angle)
	})
	return Passes{Lines: MergeAcrossPasses(perPass), Failed: failed}, nil
}
