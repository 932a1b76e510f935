// Command postfx applies a post-processing pipeline to an image.
//
//	postfx -in frame.png -effects brightness,fxaa -out out.png
//	postfx -in frame.png -depth depth.png -config post.yaml -watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gogpu/postfx"
	"github.com/gogpu/postfx/asset"
	"github.com/gogpu/postfx/backend"
	_ "github.com/gogpu/postfx/backend/software"
	"github.com/gogpu/postfx/config"
	"github.com/gogpu/postfx/library"
)

type flags struct {
	in       string
	depth    string
	out      string
	config   string
	effects  string
	backend  string
	textures string
	wait     time.Duration
	watch    bool
	verbose  bool
}

func main() {
	var f flags
	flag.StringVar(&f.in, "in", "", "input image")
	flag.StringVar(&f.depth, "depth", "", "optional depth image (red channel)")
	flag.StringVar(&f.out, "out", "out.png", "output file")
	flag.StringVar(&f.config, "config", "", "pipeline description (.yaml or .toml)")
	flag.StringVar(&f.effects, "effects", "", "comma-separated library effects, applied in order")
	flag.StringVar(&f.backend, "backend", "", "backend name (default: best available)")
	flag.StringVar(&f.textures, "textures", "", "directory texture URIs are resolved against")
	flag.DurationVar(&f.wait, "wait", 5*time.Second, "how long to wait for textures")
	flag.BoolVar(&f.watch, "watch", false, "re-render whenever -config changes")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	postfx.SetLogger(log)
	asset.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, f, log); err != nil {
		log.Error("postfx failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, log *slog.Logger) error {
	if f.in == "" {
		return errors.New("-in is required")
	}
	if (f.config == "") == (f.effects == "") {
		return errors.New("exactly one of -config and -effects is required")
	}
	if f.watch && f.config == "" {
		return errors.New("-watch needs -config")
	}

	var desc *config.File
	if f.config != "" {
		var err error
		if desc, err = config.Load(f.config); err != nil {
			return err
		}
	}

	name := f.backend
	if name == "" && desc != nil {
		name = desc.Backend
	}
	b, err := selectBackend(name, log)
	if err != nil {
		return err
	}
	defer b.Close()

	textures := f.textures
	if textures == "" && desc != nil {
		textures = desc.Textures
	}
	loader := asset.NewLoader(asset.WithRoot(textures))
	defer loader.Close()

	r := &renderer{b: b, loader: loader, log: log, flags: f}
	if err := r.loadInputs(); err != nil {
		return err
	}
	defer r.release()

	if err := r.render(ctx, desc); err != nil {
		return err
	}
	if !f.watch {
		return nil
	}

	log.Info("watching for changes", "config", f.config)
	return config.Watch(ctx, f.config, func(desc *config.File, err error) {
		if err != nil {
			log.Warn("reload failed", "err", err)
			return
		}
		if err := r.render(ctx, desc); err != nil {
			log.Warn("render failed", "err", err)
		}
	})
}

// selectBackend initializes the named backend, or the best one that
// initializes when name is empty.
func selectBackend(name string, log *slog.Logger) (backend.Backend, error) {
	candidates := []string{name}
	if name == "" {
		candidates = []string{backend.BackendWGPU, backend.BackendSoftware}
	}
	var errs []error
	for _, c := range candidates {
		b := backend.Get(c)
		if b == nil {
			errs = append(errs, fmt.Errorf("%w: %q", backend.ErrBackendNotAvailable, c))
			continue
		}
		if err := b.Init(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
			continue
		}
		log.Info("backend selected", "name", b.Name())
		return b, nil
	}
	return nil, errors.Join(errs...)
}

type renderer struct {
	b      backend.Backend
	loader *asset.Loader
	log    *slog.Logger
	flags  flags

	color backend.Texture
	depth backend.Texture
}

func (r *renderer) loadInputs() error {
	var err error
	if r.color, err = r.upload(r.flags.in); err != nil {
		return err
	}
	if r.flags.depth != "" {
		if r.depth, err = r.upload(r.flags.depth); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) upload(path string) (backend.Texture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := asset.Decode(data, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r.b.CreateTexture(img)
}

func (r *renderer) release() {
	if r.color != nil {
		r.b.DestroyTexture(r.color)
	}
	if r.depth != nil {
		r.b.DestroyTexture(r.depth)
	}
}

func (r *renderer) root(desc *config.File) (postfx.Node, error) {
	lib := library.New()
	if desc != nil {
		return desc.Build(lib)
	}
	var stages []postfx.Node
	for _, name := range strings.Split(r.flags.effects, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s, err := lib.Create(name, nil)
		if err != nil {
			return nil, fmt.Errorf("%w (known: %s)", err, strings.Join(lib.Names(), ", "))
		}
		stages = append(stages, s)
	}
	return postfx.NewSequential("effects", stages...), nil
}

// render builds a pipeline, applies it until no stage waits for a texture
// (or the wait runs out) and writes the result.
func (r *renderer) render(ctx context.Context, desc *config.File) error {
	root, err := r.root(desc)
	if err != nil {
		return err
	}
	opts := []postfx.Option{postfx.WithTextureLoader(r.loader)}
	w, h := r.color.Width(), r.color.Height()
	if desc != nil {
		format, err := desc.TextureFormat()
		if err != nil {
			return err
		}
		opts = append(opts, postfx.WithFormat(format))
		if desc.Width > 0 && desc.Height > 0 {
			w, h = desc.Width, desc.Height
		}
	}
	p, err := postfx.NewPipeline(r.b, w, h, root, opts...)
	if err != nil {
		return err
	}
	defer p.Destroy()

	deadline := time.Now().Add(r.flags.wait)
	var out backend.Texture
	for {
		before := p.Stats().SkippedStages
		out = p.Apply(r.color, r.depth)
		if err := p.LastError(); err != nil {
			return err
		}
		if p.Stats().SkippedStages == before {
			break
		}
		if time.Now().After(deadline) {
			r.log.Warn("textures still pending; writing partial result", "wait", r.flags.wait)
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}

	img, err := r.b.ReadPixels(out)
	if err != nil {
		return err
	}
	file, err := os.Create(r.flags.out)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	st := p.Stats()
	r.log.Info("wrote output", "file", r.flags.out, "width", img.Width(), "height", img.Height(),
		"passes", st.Passes, "frames", st.Frames)
	return nil
}
