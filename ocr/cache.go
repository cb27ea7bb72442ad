package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"image"
	"image/draw"
	"time"

	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachingRecognizer decorates a Recognizer with a Redis cache keyed by the
// pixel digest of the image it is asked to read.
type CachingRecognizer struct {
	inner     iface.Recognizer
	rdb       redis.Cmdable
	ttl       time.Duration
	namespace string
}

var _ iface.Recognizer = (*CachingRecognizer)(nil)

// NewCachingRecognizer wraps inner. If ttl is 0 it defaults to one hour; an
// empty namespace becomes "ocr". A nil rdb disables caching.
func NewCachingRecognizer(rdb redis.Cmdable, ttl time.Duration, inner iface.Recognizer, namespace string) *CachingRecognizer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if namespace == "" {
		namespace = "ocr"
	}
	return &CachingRecognizer{inner: inner, rdb: rdb, ttl: ttl, namespace: namespace}
}

func (c *CachingRecognizer) Recognize(ctx context.Context, img image.Image) ([]iface.RecognizedWord, error) {
	if c.rdb == nil {
		return c.inner.Recognize(ctx, img)
	}
	key := c.cacheKey(img)

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil && len(b) > 0:
		var out []iface.RecognizedWord
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	case err != nil && !errors.Is(err, redis.Nil):
		logger.Log().Warn("Recognition cache read failed", zap.String("key", key), zap.Error(err))
	}

	out, err := c.inner.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			logger.Log().Warn("Recognition cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func (c *CachingRecognizer) cacheKey(img image.Image) string {
	return c.namespace + ":" + Digest(img)
}

// Digest is a hex SHA-256 over an image's size and 8-bit RGBA pixels.
func Digest(img image.Image) string {
	b := img.Bounds()
	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(b.Dy()))
	h.Write(dims[:])

	switch m := img.(type) {
	case *image.Gray:
		h.Write([]byte("gray"))
		for y := 0; y < b.Dy(); y++ {
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			h.Write(m.Pix[off : off+b.Dx()])
		}
	default:
		rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		h.Write([]byte("nrgba"))
		h.Write(rgba.Pix)
	}
	return hex.EncodeToString(h.Sum(nil))
}
