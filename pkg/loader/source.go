package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultFetchTimeout bounds URL fetches when the caller supplies no client.
const DefaultFetchTimeout = 30 * time.Second

// IOError is a failure to read a source. It aborts the load.
type IOError struct {
	Source string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Source is somewhere flow CSV text can be read from.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a local file.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return s.Path }

func (s FileSource) Open(context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flow file: %w", err)
	}
	return f, nil
}

// URLSource fetches CSV text over HTTP(S).
type URLSource struct {
	URL    string
	Client *http.Client
}

func (s URLSource) Name() string { return s.URL }

func (s URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// ReaderSource serves bytes that were already read, e.g. an HTTP upload.
type ReaderSource struct {
	Label string
	Data  []byte
}

func (s ReaderSource) Name() string {
	if s.Label == "" {
		return "upload"
	}
	return s.Label
}

func (s ReaderSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}
