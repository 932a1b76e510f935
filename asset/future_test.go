package asset

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuturePollBeforeAndAfterResolve(t *testing.T) {
	f := NewFuture()
	_, ok := f.Poll()
	assert.False(t, ok)

	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	assert.True(t, f.Resolve(img, nil))
	assert.False(t, f.Resolve(nil, errors.New("late")), "second Resolve must be ignored")

	res, ok := f.Poll()
	require.True(t, ok)
	assert.NoError(t, res.Err)
	assert.Same(t, img, res.Image)

	select {
	case <-f.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestFutureErrorDropsImage(t *testing.T) {
	f := Resolved(image.NewNRGBA(image.Rect(0, 0, 1, 1)), ErrClosed)
	res, ok := f.Poll()
	require.True(t, ok)
	assert.Nil(t, res.Image)
	assert.ErrorIs(t, res.Err, ErrClosed)
}

func TestFutureWait(t *testing.T) {
	f := NewFuture()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Resolve(image.NewNRGBA(image.Rect(0, 0, 2, 2)), nil)
	}()

	img, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
}

func TestFutureWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFuture().Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFutureOnComplete(t *testing.T) {
	f := NewFuture()
	var got []error
	f.OnComplete(func(r Result) { got = append(got, r.Err) })
	f.Resolve(nil, ErrClosed)
	f.OnComplete(func(r Result) { got = append(got, r.Err) })

	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0], ErrClosed)
	assert.ErrorIs(t, got[1], ErrClosed)
}

func TestLoadErrorUnwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := error(&LoadError{URI: "a.png", Err: cause})
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "a.png")
}
