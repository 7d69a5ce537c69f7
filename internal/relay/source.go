// Package relay streams an upstream body to a client while deciding the
// download headers from as little of the body as possible.
package relay

import (
	"errors"
	"fmt"
	"io"

	"cecilefy-proxy/internal/filetype"
)

const (
	// DefaultChunkSize is the read buffer used for the first chunk and the copy loop.
	DefaultChunkSize = 32 * 1024

	// minPeek is how many bytes PeekFirstChunk waits for before giving up on
	// more, so every signature in filetype.Sniff can be checked.
	minPeek = 8
)

// Source is an upstream body seen through the operations the relay needs.
type Source interface {
	// Materialized reports whether the body is small enough to be read whole.
	Materialized() bool
	// PeekFirstChunk reads the first chunk of the body and holds it for
	// StreamRemainder. An empty body yields a nil chunk and io.EOF.
	PeekFirstChunk() ([]byte, error)
	// StreamRemainder writes the held chunk, if any, and then the rest of
	// the body to w.
	StreamRemainder(w io.Writer) (int64, error)
	// ReadAll returns the whole body.
	ReadAll() ([]byte, error)
	Close() error
}

// SourceOptions tunes NewSource.
type SourceOptions struct {
	// ChunkSize is the read buffer size. Values below 8 select DefaultChunkSize.
	ChunkSize int
	// BufferMax is the largest known Content-Length read whole.
	// A negative value disables materialized reads.
	BufferMax int64
}

// NewSource wraps body. Bodies with a known length of at most
// opts.BufferMax are materialized; everything else is streamed.
func NewSource(body io.ReadCloser, contentLength int64, opts SourceOptions) Source {
	if opts.ChunkSize < minPeek {
		opts.ChunkSize = DefaultChunkSize
	}
	if contentLength >= 0 && opts.BufferMax >= 0 && contentLength <= opts.BufferMax {
		return &bufferedSource{body: body}
	}
	return &streamSource{body: body, chunkSize: opts.ChunkSize}
}

var (
	// ErrUpstreamRead marks failures reading the upstream body.
	ErrUpstreamRead = errors.New("upstream read failed")
	// ErrSinkWrite marks failures writing to the client.
	ErrSinkWrite = errors.New("client write failed")
)

type streamSource struct {
	body      io.ReadCloser
	chunkSize int
	peeked    bool
	chunk     []byte
}

func (s *streamSource) Materialized() bool { return false }

func (s *streamSource) PeekFirstChunk() ([]byte, error) {
	if s.peeked {
		return nil, errors.New("first chunk already consumed")
	}
	s.peeked = true

	buf := make([]byte, s.chunkSize)
	src := &readTracker{r: s.body}
	n, err := io.ReadAtLeast(src, buf, minPeek)
	switch {
	case src.err != nil:
		// The body itself failed, possibly with io.ErrUnexpectedEOF.
		return nil, fmt.Errorf("%w: %w", ErrUpstreamRead, src.err)
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		s.chunk = buf[:n]
		return s.chunk, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: %w", ErrUpstreamRead, err)
	}
}

func (s *streamSource) StreamRemainder(w io.Writer) (int64, error) {
	var written int64
	if len(s.chunk) > 0 {
		n, err := w.Write(s.chunk)
		written += int64(n)
		s.chunk = nil
		if err != nil {
			return written, fmt.Errorf("%w: %w", ErrSinkWrite, err)
		}
	}

	src := &readTracker{r: s.body}
	n, err := io.CopyBuffer(w, src, make([]byte, s.chunkSize))
	written += n
	if err != nil {
		if src.err != nil {
			return written, fmt.Errorf("%w: %w", ErrUpstreamRead, err)
		}
		return written, fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	return written, nil
}

func (s *streamSource) ReadAll() ([]byte, error) {
	rest, err := io.ReadAll(s.body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamRead, err)
	}
	data := append(s.chunk, rest...)
	s.chunk = nil
	return data, nil
}

func (s *streamSource) Close() error { return s.body.Close() }

type bufferedSource struct {
	body io.ReadCloser
	data []byte
	read bool
	sent bool
}

func (s *bufferedSource) Materialized() bool { return true }

func (s *bufferedSource) ReadAll() ([]byte, error) {
	if s.read {
		return s.data, nil
	}
	data, err := io.ReadAll(s.body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamRead, err)
	}
	s.data, s.read = data, true
	return s.data, nil
}

func (s *bufferedSource) PeekFirstChunk() ([]byte, error) {
	data, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, io.EOF
	}
	return data[:min(len(data), filetype.SniffWindow)], nil
}

func (s *bufferedSource) StreamRemainder(w io.Writer) (int64, error) {
	data, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	if s.sent {
		return 0, nil
	}
	s.sent = true
	n, err := w.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	return int64(n), nil
}

func (s *bufferedSource) Close() error { return s.body.Close() }

// readTracker remembers the last non-EOF read error so copy failures can be
// attributed to the upstream or the client.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}
