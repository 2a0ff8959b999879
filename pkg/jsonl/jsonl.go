// Package jsonl reads and writes newline-delimited JSON, the interchange
// format between pipeline stages.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
)

// maxLine bounds a single record; dictionary dump entries can be large.
const maxLine = 64 << 20

// Scan yields each non-blank line of r. The slice is only valid until the
// next iteration.
func Scan(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			if !yield(line, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Decode yields each line of r decoded as T. A malformed line yields an
// error and iteration continues.
func Decode[T any](r io.Reader) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		n := 0
		for line, err := range Scan(r) {
			n++
			var v T
			if err != nil {
				yield(v, err)
				return
			}
			if err := json.Unmarshal(line, &v); err != nil {
				if !yield(v, fmt.Errorf("jsonl: line %d: %w", n, err)) {
					return
				}
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Read opens path and yields its records.
func Read[T any](path string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		defer f.Close()
		for v, err := range Decode[T](f) {
			if !yield(v, err) {
				return
			}
		}
	}
}

// ReadAll loads every record of path, failing on the first bad line.
func ReadAll[T any](path string) ([]T, error) {
	var out []T
	for v, err := range Read[T](path) {
		if err != nil {
			return nil, fmt.Errorf("jsonl: read %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadRaw loads every line of path as raw JSON.
func ReadRaw(path string) ([]json.RawMessage, error) {
	return ReadAll[json.RawMessage](path)
}

// Writer writes one JSON document per line. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	n   int
	// flushEach flushes after every line (append-only manifests).
	flushEach bool
}

// Create truncates path (creating parent directories) and returns a Writer.
func Create(path string) (*Writer, error) {
	return open(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, false)
}

// Append opens path for appending; every line is flushed immediately.
func Append(path string) (*Writer, error) {
	return open(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, true)
}

func open(path string, flag int, flushEach bool) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	return &Writer{f: f, buf: bufio.NewWriterSize(f, 256*1024), flushEach: flushEach}, nil
}

// Write encodes v as one line.
func (w *Writer) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl: marshal: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(append(b, '\n')); err != nil {
		return err
	}
	w.n++
	if w.flushEach {
		return w.buf.Flush()
	}
	return nil
}

// Count returns the number of lines written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.buf.Flush(), w.f.Close())
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteAll truncates path and writes every item.
func WriteAll[T any](path string, items []T) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	for _, v := range items {
		if err := w.Write(v); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
