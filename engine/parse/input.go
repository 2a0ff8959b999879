// Package parse turns cached raw artifacts into per-source record streams.
package parse

import (
	"context"
	"io"
	"iter"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
)

// FetchRef identifies the fetch that produced an artifact.
type FetchRef struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
	FetchedAt string `json:"fetchedAt"`
}

// Input is exactly one of buffered Content or a Stream.
type Input struct {
	Content []byte
	Stream  io.Reader
	Fetch   FetchRef
	JobMeta map[string]any
}

// Text returns the buffered content or ErrNeedsContent.
func (in Input) Text() (string, error) {
	if in.Content == nil {
		return "", domain.ErrNeedsContent
	}
	return string(in.Content), nil
}

// Reader returns the stream or ErrNeedsStream.
func (in Input) Reader() (io.Reader, error) {
	if in.Stream == nil {
		return nil, domain.ErrNeedsStream
	}
	return in.Stream, nil
}

// Records is a lazy, finite, non-restartable sequence of source records.
type Records = iter.Seq2[any, error]

// Parser converts one artifact into records.
type Parser func(ctx context.Context, in Input) (Records, error)

// FromSlice exposes an in-memory list as Records.
func FromSlice[T any](items []T) Records {
	return func(yield func(any, error) bool) {
		for _, v := range items {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Fail is a Records that yields a single error.
func Fail(err error) Records {
	return func(yield func(any, error) bool) { yield(nil, err) }
}
