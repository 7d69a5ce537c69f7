package relay

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"cecilefy-proxy/internal/filetype"
)

var (
	pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	mp3Header = []byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00, 0x00, 0x00}
)

func testNamer() *filetype.Namer {
	return filetype.NewNamer("", func() int { return 424242 })
}

func streamOf(b []byte) Source {
	return NewSource(io.NopCloser(bytes.NewReader(b)), -1, SourceOptions{ChunkSize: 16, BufferMax: -1})
}

func mustStep(t *testing.T, s *Session, want State) {
	t.Helper()
	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if s.State() != want {
		t.Fatalf("State() = %s, want %s", s.State(), want)
	}
}

func mustRun(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func checkHeader(t *testing.T, rec *httptest.ResponseRecorder, key, want string) {
	t.Helper()
	if got := rec.Header().Get(key); got != want {
		t.Errorf("%s = %q, want %q", key, got, want)
	}
}

func TestSession_KnownExtensionStreamsImmediately(t *testing.T) {
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte("x"), 200)...)
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(body), rec, testNamer(), Plan{
		Extension:     "png",
		Signal:        filetype.SignalPath,
		ContentType:   "image/png",
		ContentLength: -1,
	})

	mustStep(t, s, StateStreaming)
	if !s.HeadersSent() {
		t.Fatal("HeadersSent() = false after commit")
	}
	mustStep(t, s, StateDone)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	checkHeader(t, rec, "Content-Type", "image/png")
	checkHeader(t, rec, "Content-Disposition", `attachment; filename="Cecilefy.xyz_424242.png"`)
	checkHeader(t, rec, "Cache-Control", "no-cache")
	if !bytes.Equal(rec.Body.Bytes(), body) {
		t.Error("relayed body differs from upstream body")
	}
	if s.Written() != int64(len(body)) {
		t.Errorf("Written() = %d, want %d", s.Written(), len(body))
	}
	if got := s.Download().Signal; got != "path" {
		t.Errorf("Signal = %q, want %q", got, "path")
	}
}

func TestSession_SniffsFirstChunk(t *testing.T) {
	body := append(append([]byte{}, mp3Header...), bytes.Repeat([]byte{0xAB}, 1000)...)
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(body), rec, testNamer(), Plan{
		ContentType:   "application/octet-stream",
		ContentLength: -1,
	})

	mustStep(t, s, StateAwaitingFirstChunk)
	if s.HeadersSent() {
		t.Fatal("HeadersSent() = true before the first chunk")
	}
	mustStep(t, s, StateStreaming)
	if !s.HeadersSent() {
		t.Fatal("HeadersSent() = false after sniffing")
	}
	mustStep(t, s, StateDone)

	dl := s.Download()
	if dl.Extension != "mp3" || dl.Signal != "sniff" {
		t.Errorf("Download() = %+v, want mp3 from sniff", dl)
	}
	if !bytes.Equal(rec.Body.Bytes(), body) {
		t.Error("relayed body differs from upstream body")
	}
	if n := bytes.Count(rec.Body.Bytes(), mp3Header); n != 1 {
		t.Errorf("first chunk emitted %d times, want 1", n)
	}
}

func TestSession_SniffPNGRegardlessOfContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(pngHeader), rec, testNamer(), Plan{ContentType: "text/plain", ContentLength: -1})

	mustRun(t, s)
	if got := s.Download().Extension; got != "png" {
		t.Errorf("Extension = %q, want %q", got, "png")
	}
	checkHeader(t, rec, "Content-Type", "text/plain")
}

func TestSession_SniffReplacesBinPlaceholder(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(pngHeader), rec, testNamer(), Plan{Hint: "picture.bin", ContentLength: -1})

	mustRun(t, s)
	checkHeader(t, rec, "Content-Disposition", `attachment; filename="picture.png"`)
}

func TestSession_HintWithoutDotGetsSniffedExtension(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(mp3Header), rec, testNamer(), Plan{Hint: "my track", ContentLength: -1})

	mustRun(t, s)
	if got := s.Download().Filename; got != "my track.mp3" {
		t.Errorf("Filename = %q, want %q", got, "my track.mp3")
	}
}

func TestSession_EmptyStream(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(nil), rec, testNamer(), Plan{ContentLength: -1})

	mustRun(t, s)
	if s.State() != StateDone {
		t.Errorf("State() = %s, want %s", s.State(), StateDone)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	checkHeader(t, rec, "Content-Type", DefaultContentType)
	checkHeader(t, rec, "Content-Disposition", `attachment; filename="Cecilefy.xyz_424242.bin"`)
	checkHeader(t, rec, "Cache-Control", "no-cache")
	if rec.Body.Len() != 0 {
		t.Errorf("body length = %d, want 0", rec.Body.Len())
	}
	if dl := s.Download(); dl.Extension != "" || dl.Signal != "fallback" {
		t.Errorf("Download() = %+v, want no extension from fallback", dl)
	}
}

func TestSession_UnknownBytesFallBackToBin(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSession(streamOf([]byte("just some text")), rec, testNamer(), Plan{ContentLength: -1})

	mustRun(t, s)
	if got := s.Download().Filename; got != "Cecilefy.xyz_424242.bin" {
		t.Errorf("Filename = %q, want %q", got, "Cecilefy.xyz_424242.bin")
	}
	if rec.Body.String() != "just some text" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "just some text")
	}
}

func TestSession_Materialized(t *testing.T) {
	body := append(append([]byte{}, pngHeader...), []byte("rest")...)
	src := NewSource(io.NopCloser(bytes.NewReader(body)), int64(len(body)), SourceOptions{BufferMax: 1024})
	rec := httptest.NewRecorder()
	s := NewSession(src, rec, testNamer(), Plan{ContentLength: int64(len(body))})

	mustStep(t, s, StateDone)
	if got := s.Download().Extension; got != "png" {
		t.Errorf("Extension = %q, want %q", got, "png")
	}
	if !bytes.Equal(rec.Body.Bytes(), body) {
		t.Error("relayed body differs from upstream body")
	}
	checkHeader(t, rec, "Content-Length", "12")
}

func TestSession_MaterializedKeepsHeaderExtension(t *testing.T) {
	src := NewSource(io.NopCloser(bytes.NewReader(mp3Header)), int64(len(mp3Header)), SourceOptions{BufferMax: 1024})
	rec := httptest.NewRecorder()
	s := NewSession(src, rec, testNamer(), Plan{
		Extension:     "png",
		Signal:        filetype.SignalPath,
		ContentLength: int64(len(mp3Header)),
	})

	mustStep(t, s, StateDone)
	if dl := s.Download(); dl.Extension != "png" || dl.Signal != "path" {
		t.Errorf("Download() = %+v, want png from path", dl)
	}
	if !bytes.Equal(rec.Body.Bytes(), mp3Header) {
		t.Error("relayed body differs from upstream body")
	}
}

func TestSession_MaterializedShortBodyFailsBeforeHeaders(t *testing.T) {
	body := io.MultiReader(bytes.NewReader(pngHeader), iotest.ErrReader(io.ErrUnexpectedEOF))
	src := NewSource(io.NopCloser(body), 100, SourceOptions{BufferMax: 64 * 1024})
	rec := httptest.NewRecorder()
	s := NewSession(src, rec, testNamer(), Plan{
		Extension:     "png",
		Signal:        filetype.SignalPath,
		ContentLength: 100,
	})

	err := s.Run()
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		t.Fatalf("Run() error = %v, want *Error", err)
	}
	if relayErr.State != StateFetching {
		t.Errorf("failed in %s, want %s", relayErr.State, StateFetching)
	}
	if relayErr.HeadersSent || s.HeadersSent() {
		t.Error("headers were sent for a body that failed to materialize")
	}
	if !errors.Is(err, ErrUpstreamRead) {
		t.Errorf("error = %v, want ErrUpstreamRead", err)
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Error("Content-Disposition set on a failed download")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body length = %d, want 0", rec.Body.Len())
	}
}

func TestSession_MaterializedEmpty(t *testing.T) {
	src := NewSource(io.NopCloser(strings.NewReader("")), 0, SourceOptions{BufferMax: 1024})
	rec := httptest.NewRecorder()
	s := NewSession(src, rec, testNamer(), Plan{ContentLength: 0})

	mustRun(t, s)
	if got := s.Download().Filename; got != "Cecilefy.xyz_424242.bin" {
		t.Errorf("Filename = %q, want %q", got, "Cecilefy.xyz_424242.bin")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body length = %d, want 0", rec.Body.Len())
	}
}

func TestSession_FailureBeforeHeaders(t *testing.T) {
	boom := errors.New("connection reset by peer")
	src := NewSource(io.NopCloser(iotest.ErrReader(boom)), -1, SourceOptions{BufferMax: -1})
	rec := httptest.NewRecorder()
	s := NewSession(src, rec, testNamer(), Plan{ContentLength: -1})

	err := s.Run()
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		t.Fatalf("Run() error = %v, want *Error", err)
	}
	if relayErr.State != StateAwaitingFirstChunk {
		t.Errorf("failed in %s, want %s", relayErr.State, StateAwaitingFirstChunk)
	}
	if relayErr.HeadersSent {
		t.Error("HeadersSent = true, want false")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %s, want %s", s.State(), StateFailed)
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Error("Content-Disposition set on a failed download")
	}
}

func TestSession_FailureAfterHeaders(t *testing.T) {
	boom := errors.New("unexpected EOF")
	body := io.MultiReader(bytes.NewReader(append(append([]byte{}, pngHeader...), bytes.Repeat([]byte("z"), 64)...)), iotest.ErrReader(boom))
	src := NewSource(io.NopCloser(body), -1, SourceOptions{ChunkSize: 16, BufferMax: -1})
	rec := httptest.NewRecorder()
	s := NewSession(src, rec, testNamer(), Plan{ContentLength: -1})

	err := s.Run()
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		t.Fatalf("Run() error = %v, want *Error", err)
	}
	if relayErr.State != StateStreaming {
		t.Errorf("failed in %s, want %s", relayErr.State, StateStreaming)
	}
	if !relayErr.HeadersSent {
		t.Error("HeadersSent = false, want true")
	}
	if !errors.Is(err, ErrUpstreamRead) {
		t.Errorf("error = %v, want ErrUpstreamRead", err)
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %s, want %s", s.State(), StateFailed)
	}
}

func TestSession_SinkFailure(t *testing.T) {
	sink := &failingSink{header: http.Header{}, err: errors.New("broken pipe")}
	s := NewSession(streamOf(pngHeader), sink, testNamer(), Plan{Extension: "png", ContentLength: -1})

	err := s.Run()
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		t.Fatalf("Run() error = %v, want *Error", err)
	}
	if !relayErr.HeadersSent {
		t.Error("HeadersSent = false, want true")
	}
	if !errors.Is(err, ErrSinkWrite) {
		t.Errorf("error = %v, want ErrSinkWrite", err)
	}
	if sink.statusWrites != 1 {
		t.Errorf("WriteHeader calls = %d, want 1", sink.statusWrites)
	}
}

func TestSession_NoStepFromTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(nil), rec, testNamer(), Plan{ContentLength: -1})
	mustRun(t, s)

	if err := s.Step(); err == nil {
		t.Error("Step() from a terminal state succeeded")
	}
	if s.State() != StateDone {
		t.Errorf("State() = %s, want %s", s.State(), StateDone)
	}
}

func TestSession_HeadersCommittedOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewSession(streamOf(pngHeader), rec, testNamer(), Plan{ContentLength: -1})
	mustRun(t, s)

	if err := s.commit("jpg", filetype.SignalSniff); !errors.Is(err, errHeadersCommitted) {
		t.Errorf("second commit error = %v, want %v", err, errHeadersCommitted)
	}
	if got := s.Download().Extension; got != "png" {
		t.Errorf("Extension = %q, want %q", got, "png")
	}
}

func TestState_String(t *testing.T) {
	if got := StateAwaitingFirstChunk.String(); got != "awaiting_first_chunk" {
		t.Errorf("String() = %q, want %q", got, "awaiting_first_chunk")
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("String() = %q, want %q", got, "state(42)")
	}
	if !StateFailed.Terminal() || StateStreaming.Terminal() {
		t.Error("Terminal() disagrees with the state machine")
	}
}

type failingSink struct {
	header       http.Header
	err          error
	statusWrites int
}

func (f *failingSink) Header() http.Header       { return f.header }
func (f *failingSink) Write([]byte) (int, error) { return 0, f.err }
func (f *failingSink) WriteHeader(int)           { f.statusWrites++ }
