package postfx

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch is returned when a uniform is set to a value whose kind
	// differs from its declared kind.
	ErrTypeMismatch = errors.New("postfx: uniform type mismatch")

	// ErrInvalidUniform is returned for zero UniformValues and empty names.
	ErrInvalidUniform = errors.New("postfx: invalid uniform")

	// ErrUniformUnset is returned when a stage runs with a declared but
	// unset uniform.
	ErrUniformUnset = errors.New("postfx: uniform not set")

	// ErrViewportMismatch is returned by Resize while an Apply is in flight,
	// and by Apply when the input does not match a fixed viewport.
	ErrViewportMismatch = errors.New("postfx: viewport mismatch")

	// ErrInvalidViewport is returned for non-positive viewport sizes.
	ErrInvalidViewport = errors.New("postfx: invalid viewport size")

	// ErrDuplicateName is returned when two nodes of one pipeline share a name.
	ErrDuplicateName = errors.New("postfx: duplicate node name")

	// ErrEmptyName is returned for nodes without a name.
	ErrEmptyName = errors.New("postfx: empty node name")

	// ErrNodeInUse is returned when a node already belongs to another
	// pipeline or appears twice in one tree.
	ErrNodeInUse = errors.New("postfx: node already in use")

	// ErrNilNode is returned for nil roots and nil composite members.
	ErrNilNode = errors.New("postfx: nil node")

	// ErrTooManyMembers is returned when a blend composite has more members
	// than a blend pass can sample.
	ErrTooManyMembers = errors.New("postfx: too many blend members")

	// ErrPipelineDestroyed is returned when using a destroyed pipeline.
	ErrPipelineDestroyed = errors.New("postfx: pipeline destroyed")

	// ErrStageDestroyed is returned when a pipeline is built over a stage
	// that was already destroyed.
	ErrStageDestroyed = errors.New("postfx: stage destroyed")

	// ErrNilBackend is returned when NewPipeline is given no backend.
	ErrNilBackend = errors.New("postfx: nil backend")
)

// TypeMismatchError reports a uniform set to a value of the wrong kind.
type TypeMismatchError struct {
	Stage string
	Name  string
	Want  UniformKind
	Got   UniformKind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("postfx: stage %q uniform %q is %s, got %s", e.Stage, e.Name, e.Want, e.Got)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// StageExecutionError reports a stage whose pass could not run.
// The frame that hit it falls back to the unprocessed input.
type StageExecutionError struct {
	Stage string
	Err   error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("postfx: stage %q: %v", e.Stage, e.Err)
}

func (e *StageExecutionError) Unwrap() error {
	return e.Err
}
