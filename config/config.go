// Package config reads pipeline descriptions from YAML or TOML files.
//
// A description names the backend, the viewport and a tree of nodes. Leaves
// reference library effects; inner nodes are composites:
//
//	backend: software
//	width: 1280
//	height: 720
//	textures: assets
//	pipeline:
//	  name: post
//	  members:
//	    - effect: fxaa
//	    - name: look
//	      mode: parallel
//	      blend: screen
//	      members:
//	        - effect: nightVision
//	        - effect: brightness
//	          uniforms: {brightness: 0.8}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownFormat is returned for files that are neither YAML nor TOML.
	ErrUnknownFormat = errors.New("config: unknown file format")

	// ErrInvalid is returned for descriptions that fail validation.
	ErrInvalid = errors.New("config: invalid description")
)

// Format is a description file format.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// File is a pipeline description.
type File struct {
	// Backend names a registered backend. Empty selects the default.
	Backend string `yaml:"backend,omitempty" toml:"backend,omitempty"`

	// Width and Height give the initial viewport. Zero means the size of
	// the first input.
	Width  int `yaml:"width,omitempty" toml:"width,omitempty"`
	Height int `yaml:"height,omitempty" toml:"height,omitempty"`

	// Format is the intermediate framebuffer format, "rgba8unorm" or
	// "bgra8unorm".
	Format string `yaml:"format,omitempty" toml:"format,omitempty"`

	// Textures is the directory texture URIs are resolved against.
	Textures string `yaml:"textures,omitempty" toml:"textures,omitempty"`

	// Pipeline is the root node.
	Pipeline Node `yaml:"pipeline" toml:"pipeline"`
}

// Node describes a stage (Effect set) or a composite (Members set).
type Node struct {
	Name     string         `yaml:"name,omitempty" toml:"name,omitempty"`
	Effect   string         `yaml:"effect,omitempty" toml:"effect,omitempty"`
	Mode     string         `yaml:"mode,omitempty" toml:"mode,omitempty"`
	Blend    string         `yaml:"blend,omitempty" toml:"blend,omitempty"`
	Enabled  *bool          `yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	Uniforms map[string]any `yaml:"uniforms,omitempty" toml:"uniforms,omitempty"`
	Members  []Node         `yaml:"members,omitempty" toml:"members,omitempty"`
}

// Load reads and validates a description file.
func Load(path string) (*File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if f.Textures != "" && !filepath.IsAbs(f.Textures) {
		f.Textures = filepath.Join(filepath.Dir(path), f.Textures)
	}
	return f, nil
}

// Parse decodes and validates a description.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case TOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Marshal encodes f in the given format.
func (f *File) Marshal(format Format) ([]byte, error) {
	switch format {
	case YAML:
		return yaml.Marshal(f)
	case TOML:
		return toml.Marshal(f)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Validate checks the parts of a description that do not need the library.
func (f *File) Validate() error {
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalid, f.Width, f.Height)
	}
	if _, err := f.TextureFormat(); err != nil {
		return err
	}
	return f.Pipeline.validate("pipeline")
}

// TextureFormat returns the framebuffer format, defaulting to RGBA8.
func (f *File) TextureFormat() (gputypes.TextureFormat, error) {
	switch strings.ToLower(f.Format) {
	case "", "rgba8unorm":
		return gputypes.TextureFormatRGBA8Unorm, nil
	case "bgra8unorm":
		return gputypes.TextureFormatBGRA8Unorm, nil
	}
	var undefined gputypes.TextureFormat
	return undefined, fmt.Errorf("%w: format %q", ErrInvalid, f.Format)
}

func (n *Node) validate(path string) error {
	switch {
	case n.Effect != "" && len(n.Members) > 0:
		return fmt.Errorf("%w: %s: node has both an effect and members", ErrInvalid, path)
	case n.Effect == "" && n.Name == "":
		return fmt.Errorf("%w: %s: composite needs a name", ErrInvalid, path)
	case n.Effect != "" && (n.Mode != "" || n.Blend != ""):
		return fmt.Errorf("%w: %s: mode and blend apply to composites only", ErrInvalid, path)
	}
	switch strings.ToLower(n.Mode) {
	case "", "sequential", "parallel":
	default:
		return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalid, path, n.Mode)
	}
	for i := range n.Members {
		if err := n.Members[i].validate(fmt.Sprintf("%s.members[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}
