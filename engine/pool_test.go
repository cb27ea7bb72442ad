package engine

import (
	"context"
	"image"
	"sync"
	"testing"

	iface "FloorAuditServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicModel struct{ fakeModel }

func (m *panicModel) Run(ctx context.Context, input iface.Tensor) (iface.Tensor, error) {
	panic("bad tensor")
}

func TestPool_Detect(t *testing.T) {
	model := &fakeModel{out: makeOutput(1, anchor{320, 320, 64, 64, 0.9})}
	d := NewDetector(DetectorConfig{Name: "door", Kind: "fake", Names: iface.NamesConf{Data: []string{"door"}}, Conf: 0.5}, staticLoader(model))
	p := NewPool(2)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			boxes, err := p.Detect(context.Background(), d, image.NewGray(image.Rect(0, 0, 64, 64)))
			assert.NoError(t, err)
			assert.Len(t, boxes, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(6), model.calls.Load())
}

func TestPool_CanceledContext(t *testing.T) {
	d := NewDetector(DetectorConfig{Name: "door", Kind: "fake"}, staticLoader(&fakeModel{}))
	p := NewPool(1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Detect(ctx, d, image.NewGray(image.Rect(0, 0, 8, 8)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_Closed(t *testing.T) {
	d := NewDetector(DetectorConfig{Name: "door", Kind: "fake"}, staticLoader(&fakeModel{}))
	p := NewPool(1)
	p.Close()
	p.Close()

	_, err := p.Detect(context.Background(), d, image.NewGray(image.Rect(0, 0, 8, 8)))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_PanicBecomesError(t *testing.T) {
	d := NewDetector(DetectorConfig{Name: "fragile", Kind: "fake"}, staticLoader(&panicModel{}))
	p := NewPool(1)
	defer p.Close()

	_, err := p.Detect(context.Background(), d, image.NewGray(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `detector "fragile" panicked`)
}
