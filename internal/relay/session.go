package relay

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"cecilefy-proxy/internal/filetype"
	"cecilefy-proxy/internal/model"
)

// DefaultContentType is sent when the upstream declares none.
const DefaultContentType = "application/octet-stream"

// State is a step of a relay Session.
type State int

const (
	StateFetching State = iota
	StateAwaitingFirstChunk
	StateStreaming
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateAwaitingFirstChunk:
		return "awaiting_first_chunk"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Error is a relay failure. HeadersSent tells the caller whether a status
// line can still be written.
type Error struct {
	State       State
	HeadersSent bool
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var errHeadersCommitted = errors.New("response headers already sent")

// Plan is what is known about a download before any body byte is read.
type Plan struct {
	Hint          string // sanitized filename hint, may be empty
	Extension     string // header-derived extension, empty when the body must be sniffed
	Signal        filetype.Signal
	ContentType   string // upstream Content-Type, may be empty
	ContentLength int64  // upstream length, -1 when unknown
}

// Session relays one upstream body to one client. A Session starts in
// StateFetching, after the upstream response headers arrived, and is not
// safe for concurrent use.
type Session struct {
	src   Source
	sink  http.ResponseWriter
	namer *filetype.Namer
	plan  Plan

	state       State
	headersSent bool
	written     int64
	download    model.ResolvedDownload
}

// NewSession creates a Session in StateFetching.
func NewSession(src Source, sink http.ResponseWriter, namer *filetype.Namer, plan Plan) *Session {
	return &Session{
		src:   src,
		sink:  sink,
		namer: namer,
		plan:  plan,
		state: StateFetching,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// HeadersSent reports whether the response headers were written.
func (s *Session) HeadersSent() bool { return s.headersSent }

// Written returns the number of body bytes written to the sink.
func (s *Session) Written() int64 { return s.written }

// Download returns the finalized download metadata. It is the zero value
// until headers are sent.
func (s *Session) Download() model.ResolvedDownload { return s.download }

// Run steps the session until it reaches a terminal state.
func (s *Session) Run() error {
	for !s.state.Terminal() {
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step performs a single transition. Any failure moves the session to
// StateFailed and is returned as *Error.
func (s *Session) Step() error {
	var (
		next State
		err  error
	)
	switch s.state {
	case StateFetching:
		next, err = s.fromFetching()
	case StateAwaitingFirstChunk:
		next, err = s.fromAwaitingFirstChunk()
	case StateStreaming:
		next, err = s.fromStreaming()
	default:
		return fmt.Errorf("relay: no transition from %s", s.state)
	}

	if err != nil {
		from := s.state
		s.state = StateFailed
		return &Error{State: from, HeadersSent: s.headersSent, Err: err}
	}
	s.state = next
	return nil
}

func (s *Session) fromFetching() (State, error) {
	switch {
	case s.src.Materialized():
		// The whole body is read before headers so a short or failing body
		// can still be answered with an error status.
		data, err := s.src.ReadAll()
		if err != nil {
			return StateFailed, err
		}
		ext, sig := s.plan.Extension, s.plan.Signal
		if ext == "" {
			ext, sig = sniff(data[:min(len(data), filetype.SniffWindow)])
		}
		if err := s.commit(ext, sig); err != nil {
			return StateFailed, err
		}
		n, err := s.sink.Write(data)
		s.written += int64(n)
		if err != nil {
			return StateFailed, fmt.Errorf("%w: %w", ErrSinkWrite, err)
		}
		return StateDone, nil

	case s.plan.Extension != "":
		if err := s.commit(s.plan.Extension, s.plan.Signal); err != nil {
			return StateFailed, err
		}
		return StateStreaming, nil

	default:
		return StateAwaitingFirstChunk, nil
	}
}

func (s *Session) fromAwaitingFirstChunk() (State, error) {
	chunk, err := s.src.PeekFirstChunk()
	if errors.Is(err, io.EOF) {
		if err := s.commit("", filetype.SignalFallback); err != nil {
			return StateFailed, err
		}
		return StateDone, nil
	}
	if err != nil {
		return StateFailed, err
	}

	ext, sig := sniff(chunk)
	if err := s.commit(ext, sig); err != nil {
		return StateFailed, err
	}
	return StateStreaming, nil
}

func (s *Session) fromStreaming() (State, error) {
	n, err := s.src.StreamRemainder(flushWriter{w: s.sink, rc: http.NewResponseController(s.sink)})
	s.written += n
	if err != nil {
		return StateFailed, err
	}
	return StateDone, nil
}

// commit finalizes the download and writes the response headers.
func (s *Session) commit(ext string, sig filetype.Signal) error {
	if s.headersSent {
		return errHeadersCommitted
	}

	contentType := s.plan.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	s.download = model.ResolvedDownload{
		Extension:   ext,
		Signal:      string(sig),
		Filename:    s.namer.Filename(s.plan.Hint, ext),
		ContentType: contentType,
	}

	h := s.sink.Header()
	h.Set("Content-Type", s.download.ContentType)
	h.Set("Content-Disposition", filetype.Disposition(s.download.Filename))
	h.Set("Cache-Control", "no-cache")
	if s.plan.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(s.plan.ContentLength, 10))
	}
	s.sink.WriteHeader(http.StatusOK)
	s.headersSent = true
	return nil
}

func sniff(b []byte) (string, filetype.Signal) {
	if ext := filetype.Sniff(b); ext != "" {
		return ext, filetype.SignalSniff
	}
	return "", filetype.SignalFallback
}

// flushWriter pushes every chunk to the client as soon as it is written.
type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
