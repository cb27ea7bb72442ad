//go:build !gocv

package engine

import (
	"errors"
	"image"

	iface "FloorAuditServer/interface"

	"github.com/disintegration/imaging"
)

// ToTensor stretches a page to InputSize x InputSize and packs it as a
// [1, 3, H, W] RGB tensor scaled to [0, 1].
func ToTensor(img image.Image) (iface.Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return iface.Tensor{}, errors.New("empty image")
	}
	resized := imaging.Resize(img, InputSize, InputSize, imaging.Linear)
	plane := InputSize * InputSize
	data := make([]float32, 3*plane)
	pix := resized.Pix
	for i := 0; i < plane; i++ {
		data[i] = float32(pix[i*4]) / 255
		data[i+plane] = float32(pix[i*4+1]) / 255
		data[i+2*plane] = float32(pix[i*4+2]) / 255
	}
	return iface.Tensor{Shape: []int64{1, 3, InputSize, InputSize}, Data: data}, nil
}
