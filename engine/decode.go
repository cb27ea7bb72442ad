package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	iface "FloorAuditServer/interface"
)

// InputSize is the square model input edge, in pixels.
const InputSize = 640

// NMSThreshold is the IoU above which a lower-ranked box is suppressed.
const NMSThreshold = 0.45

var ErrBadOutputShape = errors.New("model output is not [1, 4+classes, anchors]")

// OutputDims validates a raw output tensor and returns its channel and
// anchor counts.
func OutputDims(out iface.Tensor) (channels, anchors int, err error) {
	if len(out.Shape) != 3 || out.Shape[0] != 1 || out.Shape[1] <= 4 || out.Shape[2] < 0 {
		return 0, 0, fmt.Errorf("%w: shape %v", ErrBadOutputShape, out.Shape)
	}
	if int64(len(out.Data)) != out.Elements() {
		return 0, 0, fmt.Errorf("%w: %d values for shape %v", ErrBadOutputShape, len(out.Data), out.Shape)
	}
	return int(out.Shape[1]), int(out.Shape[2]), nil
}

// Decode turns a [1, C, A] output into NMS-filtered boxes scaled to the page.
// Each anchor contributes at most one candidate, its highest scoring class.
func Decode(out iface.Tensor, imageWidth, imageHeight int, labels []string, confThreshold float64) ([]iface.DetectionBox, error) {
	channels, anchors, err := OutputDims(out)
	if err != nil {
		return nil, err
	}
	if anchors == 0 {
		return []iface.DetectionBox{}, nil
	}
	data := out.Data
	sx := float64(imageWidth) / InputSize
	sy := float64(imageHeight) / InputSize

	candidates := make([]iface.DetectionBox, 0, 64)
	for a := 0; a < anchors; a++ {
		maxScore := math.Inf(-1)
		maxClass := -1
		for c := 4; c < channels; c++ {
			score := float64(data[c*anchors+a])
			if score > maxScore {
				maxScore = score
				maxClass = c - 4
			}
		}
		if maxScore < confThreshold {
			continue
		}
		cx := float64(data[a])
		cy := float64(data[anchors+a])
		w := float64(data[2*anchors+a])
		h := float64(data[3*anchors+a])
		candidates = append(candidates, iface.DetectionBox{
			X:          (cx - w/2) * sx,
			Y:          (cy - h/2) * sy,
			W:          w * sx,
			H:          h * sy,
			Label:      LabelFor(labels, maxClass),
			Confidence: maxScore,
		})
	}
	return NMS(candidates, NMSThreshold), nil
}

// NMS is greedy class-agnostic non-max suppression. The input slice is not
// modified.
func NMS(boxes []iface.DetectionBox, threshold float64) []iface.DetectionBox {
	if len(boxes) == 0 {
		return []iface.DetectionBox{}
	}
	sorted := make([]iface.DetectionBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]iface.DetectionBox, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && IoU(sorted[i], sorted[j]) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// IoU is the axis-aligned intersection over union of two boxes.
func IoU(a, b iface.DetectionBox) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
