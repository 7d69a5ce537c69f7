package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cecilefy-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	NamePrefix        string `json:"name_prefix"`
	ChunkSizeBytes    int    `json:"chunk_size_bytes"`
	BufferMaxBytes    int64  `json:"buffer_max_bytes"`
	HeaderTimeoutSecs int    `json:"upstream_timeout_seconds"`
	StallTimeoutSecs  int    `json:"upstream_stall_timeout_seconds"`
	MaxRedirects      int    `json:"upstream_max_redirects"`
	MetricsEnabled    bool   `json:"metrics_enabled"`
}

// Status returns the version and the effective download limits.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:            "ok",
		Version:           string(h.version),
		NamePrefix:        h.cfg.Download.NamePrefix,
		ChunkSizeBytes:    h.cfg.Download.ChunkSizeBytes,
		BufferMaxBytes:    h.cfg.Download.BufferMaxBytes,
		HeaderTimeoutSecs: h.cfg.Upstream.TimeoutSeconds,
		StallTimeoutSecs:  h.cfg.Upstream.StallTimeoutSeconds,
		MaxRedirects:      h.cfg.Upstream.MaxRedirects,
		MetricsEnabled:    h.cfg.Metrics.Enabled,
	})
}
