// Package service opens upstream downloads and prepares them for relaying.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cecilefy-proxy/internal/client"
	"cecilefy-proxy/internal/config"
	"cecilefy-proxy/internal/filetype"
	"cecilefy-proxy/internal/model"
	"cecilefy-proxy/internal/relay"
)

// ErrInvalidURL is returned when the target is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid url")

// UpstreamStatusError reports a non-2xx upstream response.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("Upstream returned %d", e.StatusCode)
}

// Fetcher performs the upstream GET.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*model.ProxyResponse, error)
}

// Download is an opened upstream response ready to be relayed.
// The caller must Close it.
type Download struct {
	Plan   relay.Plan
	Source relay.Source
}

// Close releases the upstream connection.
func (d *Download) Close() error {
	return d.Source.Close()
}

// DownloadService resolves what it can about a download from the upstream
// headers and hands the body to a relay session.
type DownloadService struct {
	fetcher Fetcher
	namer   *filetype.Namer
	srcOpts relay.SourceOptions
	logger  *slog.Logger
}

// NewDownloadService creates a DownloadService backed by the upstream client.
func NewDownloadService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *DownloadService {
	return NewDownloadServiceWithFetcher(c, cfg, filetype.NewNamer(cfg.Download.NamePrefix, nil), logger)
}

// NewDownloadServiceWithFetcher creates a DownloadService with an explicit
// fetcher and namer.
func NewDownloadServiceWithFetcher(f Fetcher, cfg *config.Config, namer *filetype.Namer, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		fetcher: f,
		namer:   namer,
		srcOpts: relay.SourceOptions{
			ChunkSize: cfg.Download.ChunkSizeBytes,
			BufferMax: cfg.Download.BufferMaxBytes,
		},
		logger: logger.With("component", "download_service"),
	}
}

// Open validates the target, fetches it and resolves the extension from
// the response headers when possible. Non-2xx responses are closed and
// returned as *UpstreamStatusError.
func (s *DownloadService) Open(pr *model.ProxyRequest) (*Download, error) {
	target := filetype.NormalizeURL(pr.TargetURL)
	if !filetype.IsValidHTTPURL(target) {
		return nil, ErrInvalidURL
	}

	// Fetch errors already name the upstream call.
	resp, err := s.fetcher.Get(pr.Ctx, target)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		s.logger.Debug("upstream rejected request", "status", resp.StatusCode)
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	ext, sig := filetype.Resolve(filetype.Hints{
		URL:                target,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		ContentType:        resp.Header.Get("Content-Type"),
	})

	plan := relay.Plan{
		Hint:          filetype.HintFromQuery(pr.FilenameHint),
		Extension:     ext,
		Signal:        sig,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}

	s.logger.Debug("download opened",
		"extension", plan.Extension,
		"signal", string(plan.Signal),
		"content_length", plan.ContentLength,
	)

	return &Download{
		Plan:   plan,
		Source: relay.NewSource(resp.Body, resp.ContentLength, s.srcOpts),
	}, nil
}

// NewSession binds an opened download to the client response.
func (s *DownloadService) NewSession(d *Download, w http.ResponseWriter) *relay.Session {
	return relay.NewSession(d.Source, w, s.namer, d.Plan)
}
