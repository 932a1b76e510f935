package asset

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/postfx/cache"
)

const (
	defaultCacheSize   = 32
	defaultConcurrency = 4
	defaultMaxBytes    = 64 << 20
	defaultTimeout     = 30 * time.Second
)

// Loader loads and decodes images asynchronously.
//
// Loader is safe for concurrent use. The zero value is not usable; create
// loaders with NewLoader.
type Loader struct {
	root     string
	client   *http.Client
	maxDim   int
	maxBytes int64

	cache *cache.Cache[string, *image.NRGBA]
	sem   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*Future
	closed   bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithRoot resolves relative paths against dir.
func WithRoot(dir string) Option {
	return func(l *Loader) {
		l.root = dir
	}
}

// WithHTTPClient sets the client used for http and https URIs.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithMaxDimension downscales images whose width or height exceeds n pixels.
func WithMaxDimension(n int) Option {
	return func(l *Loader) {
		l.maxDim = n
	}
}

// WithMaxBytes limits the encoded size of a single resource.
func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithCacheSize sets how many decoded images are kept.
func WithCacheSize(n int) Option {
	return func(l *Loader) {
		l.cache = cache.New[string, *image.NRGBA](n)
	}
}

// WithConcurrency bounds the number of loads running at once.
func WithConcurrency(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.sem = make(chan struct{}, n)
		}
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		client:   &http.Client{Timeout: defaultTimeout},
		maxBytes: defaultMaxBytes,
		cache:    cache.New[string, *image.NRGBA](defaultCacheSize),
		sem:      make(chan struct{}, defaultConcurrency),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]*Future),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadTexture starts loading uri and returns immediately. Requests for a URI
// that is cached or already loading share the same result.
func (l *Loader) LoadTexture(uri string) *Future {
	if img, ok := l.cache.Get(uri); ok {
		return Resolved(img, nil)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Resolved(nil, &LoadError{URI: uri, Err: ErrClosed})
	}
	if f, ok := l.inflight[uri]; ok {
		l.mu.Unlock()
		return f
	}
	f := NewFuture()
	l.inflight[uri] = f
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(uri, f)
	return f
}

// Load loads uri and waits for the result.
func (l *Loader) Load(ctx context.Context, uri string) (image.Image, error) {
	return l.LoadTexture(uri).Wait(ctx)
}

// CacheStats reports decoded-image cache statistics.
func (l *Loader) CacheStats() cache.Stats {
	return l.cache.Stats()
}

// Close cancels pending loads and waits for their goroutines to exit.
// Pending futures resolve with ErrClosed or a context error.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
	l.cache.Clear()
	return nil
}

func (l *Loader) run(uri string, f *Future) {
	defer l.wg.Done()

	img, err := l.load(uri)
	if err != nil {
		err = &LoadError{URI: uri, Err: err}
		logger().Warn("asset: texture load failed", "uri", uri, "err", err)
	} else {
		l.cache.Set(uri, img)
		logger().Debug("asset: texture loaded", "uri", uri, "size", img.Bounds().Size())
	}

	l.mu.Lock()
	delete(l.inflight, uri)
	l.mu.Unlock()

	if err != nil {
		f.Resolve(nil, err)
		return
	}
	f.Resolve(img, nil)
}

func (l *Loader) load(uri string) (*image.NRGBA, error) {
	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
	case <-l.ctx.Done():
		return nil, ErrClosed
	}

	data, err := l.fetch(uri)
	if err != nil {
		return nil, err
	}
	return Decode(data, l.maxDim)
}

func (l *Loader) fetch(uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return decodeDataURI(uri)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return l.fetchHTTP(uri)
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, err
		}
		return l.readFile(u.Path)
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri[:strings.Index(uri, "://")])
	default:
		return l.readFile(uri)
	}
}

func (l *Loader) readFile(path string) ([]byte, error) {
	if !filepath.IsAbs(path) && l.root != "" {
		path = filepath.Join(l.root, path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() > l.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, fi.Size())
	}
	return os.ReadFile(path)
}

func (l *Loader) fetchHTTP(uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(l.ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.maxBytes)
	}
	return data, nil
}

// decodeDataURI returns the payload of a base64 data URI.
func decodeDataURI(uri string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URI must be base64 encoded")
	}
	return base64.StdEncoding.DecodeString(payload)
}
