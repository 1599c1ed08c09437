// Package bundle describes the boundary between the build orchestrator and the bundler that turns entry points into
// browser-ready outputs.  The orchestrator never looks past this contract; see the esbuild package for the
// implementation used by default.
package bundle

import (
	"context"
	"fmt"
)

// A Request asks a bundler to build the given entry points for the browser.  Output names are always content-hash based
// and code splitting is always enabled.
type Request struct {
	Entrypoints []string // absolute paths
	Dir         string   // working directory that relative diagnostics and sources are resolved against
	Minify      bool
	SourceMaps  bool
}

// A Result is what a bundler produced for a request.  A failed result may still carry outputs.
type Result struct {
	Success     bool
	Outputs     []Output
	Diagnostics []Diagnostic
}

// A Kind classifies an output.
type Kind string

const (
	Entry Kind = `entry`
	Chunk Kind = `chunk`
	Asset Kind = `asset`
)

// An Output is one file emitted by the bundler.
type Output struct {
	Path     string // absolute path the bundler would have written the output to
	Type     string
	Contents []byte
	Kind     Kind
	Sources  []string // absolute paths of the sources that contributed to this output, nil if unknown
}

// A Diagnostic is a structured message from the bundler.
type Diagnostic struct {
	Level    string    `json:"level"`
	Text     string    `json:"text"`
	Position *Position `json:"position,omitempty"`
}

// A Position locates a diagnostic in a source file.
type Position struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	LineText string `json:"lineText,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Position == nil {
		return d.Text
	}
	return fmt.Sprintf(`%s:%d:%d: %s`, d.Position.File, d.Position.Line, d.Position.Column, d.Text)
}

// A Bundler builds a request into a result.  An error is only returned when the bundler could not run at all; build
// failures are reported through Result.Success and Result.Diagnostics.
type Bundler interface {
	Bundle(ctx context.Context, req Request) (*Result, error)
}

// BundlerFunc adapts a function to the Bundler interface.
type BundlerFunc func(ctx context.Context, req Request) (*Result, error)

// Bundle implements Bundler.
func (fn BundlerFunc) Bundle(ctx context.Context, req Request) (*Result, error) { return fn(ctx, req) }
