package tesseract

import (
	"image"
	"testing"

	iface "FloorAuditServer/interface"

	"github.com/stretchr/testify/assert"
)

func TestWordFromBox(t *testing.T) {
	w := wordFromBox(" KITCHEN\n", image.Rect(10, 20, 90, 38))
	assert.Equal(t, "KITCHEN", w.Text)
	assert.Equal(t, iface.BBox{X0: 10, Y0: 20, X1: 90, Y1: 38}, w.BBox)
}
