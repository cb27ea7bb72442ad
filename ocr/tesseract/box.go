package tesseract

import (
	"image"
	"strings"

	iface "FloorAuditServer/interface"
)

func wordFromBox(text string, box image.Rectangle) iface.RecognizedWord {
	return iface.RecognizedWord{
		Text: strings.TrimSpace(text),
		BBox: iface.BBox{
			X0: float64(box.Min.X),
			Y0: float64(box.Min.Y),
			X1: float64(box.Max.X),
			Y1: float64(box.Max.Y),
		},
	}
}
