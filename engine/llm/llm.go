// Package llm is the language-model capability the pipeline consumes:
// JSON-constrained completions, text embeddings, and the single helper that
// turns a completion into a validated Go value.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
)

// Request is one structured completion.
type Request struct {
	System string
	User   string
	// Schema constrains the response; nil asks only for JSON.
	Schema *Schema
}

// Completer returns the model's raw JSON text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder returns a vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// ExtractionError is a failed structured extraction. It matches
// domain.ErrExtraction with errors.Is.
type ExtractionError struct {
	Stage string // complete, decode or validate
	Raw   string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() []error { return []error{domain.ErrExtraction, e.Err} }

// Extract asks c for JSON, decodes it as T and validates it. Every failure
// is an *ExtractionError so callers can apply their fallback.
func Extract[T any](ctx context.Context, c Completer, req Request, validate func(T) error) fn.Result[T] {
	raw, err := c.Complete(ctx, req)
	if err != nil {
		return fn.Err[T](&ExtractionError{Stage: "complete", Err: err})
	}
	raw = stripFences(raw)
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fn.Err[T](&ExtractionError{Stage: "decode", Raw: raw, Err: err})
	}
	if validate != nil {
		if err := validate(v); err != nil {
			return fn.Err[T](&ExtractionError{Stage: "validate", Raw: raw, Err: err})
		}
	}
	return fn.Ok(v)
}

// IsExtraction reports whether err came from Extract.
func IsExtraction(err error) bool { return errors.Is(err, domain.ErrExtraction) }

// stripFences removes a ```json ... ``` wrapper some models add.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
