package domain

import (
	"fmt"
	"strings"
)

// ReferenceError reports a step field naming an image symbol that is not
// bound, or an out name that collides with an existing binding.
type ReferenceError struct {
	Field  string
	Symbol string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("field %q references unbound image %q", e.Field, e.Symbol)
}

type UnknownOperationError struct {
	Op string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Op)
}

// EngineInvocationError reports a raster engine subprocess that exited
// non-zero or timed out. Stderr carries the engine's raw diagnostic text.
type EngineInvocationError struct {
	Args     []string
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *EngineInvocationError) Error() string {
	msg := "engine invocation failed"
	if e.TimedOut {
		msg = "engine invocation timed out"
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		return fmt.Sprintf("%s: %v: %s", msg, e.Err, stderr)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *EngineInvocationError) Unwrap() error { return e.Err }

type ImportError struct {
	Input string
	Err   error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %q: %v", e.Input, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

type ExportError struct {
	Destination string
	Err         error
}

func (e *ExportError) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("export: %v", e.Err)
	}
	return fmt.Sprintf("export to %s: %v", e.Destination, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// ProfileError reports a fetch, parse, or validation failure for an
// externally sourced pipeline document.
type ProfileError struct {
	Source string
	Err    error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("profile %s: %v", e.Source, e.Err)
}

func (e *ProfileError) Unwrap() error { return e.Err }
