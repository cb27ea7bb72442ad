package ocr

import (
	"context"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "ocr.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestSubprocessRecognizer(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
test -f "$1" || { echo '{"success": false, "error": "missing input"}'; exit 0; }
echo "loading weights..."
echo '{"engine": "PaddleOCR-Lite", "success": true, "stream": [{"text": "STAIR", "confidence": 0.9, "bbox": [[1,2],[30,2],[30,12],[1,12]]}]}'
`)
	rec, err := NewSubprocessRecognizer("sh", script, 10*time.Second)
	require.NoError(t, err)

	words, err := rec.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "STAIR", words[0].Text)
	assert.Equal(t, 30.0, words[0].BBox.X1)
}

func TestSubprocessRecognizer_NonZeroExit(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho 'No module named paddleocr' >&2\nexit 3\n")
	rec, err := NewSubprocessRecognizer("sh", script, 10*time.Second)
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No module named paddleocr")
}

func TestSubprocessRecognizer_Garbage(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho 'Traceback (most recent call last):'\n")
	rec, err := NewSubprocessRecognizer("sh", script, 10*time.Second)
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)))
	var unparseable *UnparseableError
	require.ErrorAs(t, err, &unparseable)
	assert.Contains(t, unparseable.Raw, "Traceback")
}

func TestNewSubprocessRecognizer(t *testing.T) {
	_, err := NewSubprocessRecognizer("python", "", 0)
	assert.Error(t, err)

	rec, err := NewSubprocessRecognizer("", "service.py", 0)
	require.NoError(t, err)
	assert.Equal(t, "python", rec.Python)
}
