package asset

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad is the sentinel every *LoadError unwraps to.
	ErrLoad = errors.New("asset: load failed")

	// ErrUnsupportedScheme is returned for URIs with an unknown scheme.
	ErrUnsupportedScheme = errors.New("asset: unsupported URI scheme")

	// ErrClosed is returned by loads started after Close.
	ErrClosed = errors.New("asset: loader closed")

	// ErrNotImage is returned when a resource is a known non-image type.
	ErrNotImage = errors.New("asset: not an image")

	// ErrTooLarge is returned when an image exceeds the configured byte limit.
	ErrTooLarge = errors.New("asset: resource too large")
)

// LoadError describes a failed texture load.
type LoadError struct {
	URI string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("asset: load %q: %v", e.URI, e.Err)
}

// Unwrap returns both the cause and ErrLoad so that errors.Is matches
// either of them.
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}
