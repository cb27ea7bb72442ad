//go:build gocv

package engine

import (
	"errors"
	"fmt"
	"image"

	iface "FloorAuditServer/interface"

	"gocv.io/x/gocv"
)

// ToTensor builds the model input with OpenCV's blob helper. Selected with
// the gocv build tag.
func ToTensor(img image.Image) (iface.Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return iface.Tensor{}, errors.New("empty image")
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return iface.Tensor{}, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return iface.Tensor{}, errors.New("decoded image is empty or unsupported format")
	}
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(InputSize, InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	raw, err := blob.DataPtrFloat32()
	if err != nil {
		return iface.Tensor{}, fmt.Errorf("blob data: %w", err)
	}
	data := append([]float32(nil), raw...)
	return iface.Tensor{Shape: []int64{1, 3, InputSize, InputSize}, Data: data}, nil
}
