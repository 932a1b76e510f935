package asset

import (
	"context"
	"image"
	"sync"
)

// Result is the outcome of a load. Exactly one of Image and Err is set.
type Result struct {
	Image image.Image
	Err   error
}

// Future is a single-assignment result of an asynchronous load.
// It is safe for concurrent use.
type Future struct {
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	result    Result
	callbacks []func(Result)
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(img image.Image, err error) *Future {
	f := NewFuture()
	f.Resolve(img, err)
	return f
}

// Resolve completes the future. Only the first call has an effect; it reports
// whether this call completed the future.
func (f *Future) Resolve(img image.Image, err error) bool {
	resolved := false
	f.once.Do(func() {
		res := Result{Image: img, Err: err}
		if err != nil {
			res.Image = nil
		}

		f.mu.Lock()
		f.result = res
		callbacks := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()

		for _, fn := range callbacks {
			fn(res)
		}
		resolved = true
	})
	return resolved
}

// Done returns a channel that is closed once the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Poll returns the result without blocking. The boolean is false while the
// load is still in flight.
func (f *Future) Poll() (Result, bool) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (image.Image, error) {
	select {
	case <-f.done:
		res, _ := f.Poll()
		return res.Image, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnComplete registers fn to run with the result. If the future is already
// complete fn runs immediately on the calling goroutine; otherwise it runs on
// the goroutine that resolves the future.
func (f *Future) OnComplete(fn func(Result)) {
	f.mu.Lock()
	select {
	case <-f.done:
		res := f.result
		f.mu.Unlock()
		fn(res)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
