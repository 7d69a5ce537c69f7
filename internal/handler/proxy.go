package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"

	"cecilefy-proxy/internal/config"
	"cecilefy-proxy/internal/metrics"
	"cecilefy-proxy/internal/model"
	"cecilefy-proxy/internal/relay"
	"cecilefy-proxy/internal/service"
)

// credentialsPattern matches the password part of URL userinfo in error messages.
var credentialsPattern = regexp.MustCompile(`(://[^:/?#@\s]*:)[^@/?#\s]+@`)

// proxyQuery is the query string of GET /proxy.
type proxyQuery struct {
	URL      string `query:"url" validate:"required,httpurl"`
	Filename string `query:"filename"`
}

// ProxyHandler relays remote files to the caller as attachments.
type ProxyHandler struct {
	service     *service.DownloadService
	metrics     *metrics.Metrics
	logger      *slog.Logger
	hideDetails bool
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.DownloadService, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:     svc,
		metrics:     m,
		logger:      logger.With("component", "proxy_handler"),
		hideDetails: cfg.Download.HideErrorDetails,
	}
}

// Handle serves GET /proxy?url=...&filename=...
func (h *ProxyHandler) Handle(c echo.Context) error {
	var q proxyQuery
	if err := c.Bind(&q); err != nil {
		return h.invalidRequest(c, err)
	}
	if err := c.Validate(&q); err != nil {
		return h.invalidRequest(c, err)
	}

	req := c.Request()
	pr := &model.ProxyRequest{
		Ctx:          req.Context(),
		TargetURL:    q.URL,
		FilenameHint: q.Filename,
	}

	d, err := h.service.Open(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = d.Close() }()

	sess := h.service.NewSession(d, c.Response())
	if err := sess.Run(); err != nil {
		return h.relayFailed(c, sess, err)
	}

	dl := sess.Download()
	h.logger.Debug("download relayed",
		"filename", dl.Filename,
		"extension", dl.Extension,
		"signal", dl.Signal,
		"bytes", sess.Written(),
	)
	if h.metrics != nil {
		h.metrics.DownloadsTotal.WithLabelValues(metrics.NormalizeExtension(dl.Extension), dl.Signal).Inc()
		h.metrics.BytesRelayed.Add(float64(sess.Written()))
	}
	return nil
}

func (h *ProxyHandler) invalidRequest(c echo.Context, err error) error {
	h.logger.Debug("invalid request",
		"err", sanitizeError(err),
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)
	return c.String(http.StatusBadRequest, "Invalid url")
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrInvalidURL) {
		return h.invalidRequest(c, err)
	}

	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		h.logger.Warn("upstream status",
			"status", statusErr.StatusCode,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		return c.String(http.StatusBadGateway, statusErr.Error())
	}

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)
	return c.String(http.StatusInternalServerError, "Proxy error: "+h.errorDetail(err))
}

// relayFailed handles a failed relay session. Once headers are out the
// status cannot change, so the connection is aborted instead.
func (h *ProxyHandler) relayFailed(c echo.Context, sess *relay.Session, err error) error {
	state := sess.State().String()
	headersSent := sess.HeadersSent()
	var relayErr *relay.Error
	if errors.As(err, &relayErr) {
		state = relayErr.State.String()
		headersSent = relayErr.HeadersSent
	}

	if h.metrics != nil {
		h.metrics.RelayFailures.WithLabelValues(state, strconv.FormatBool(headersSent)).Inc()
		h.metrics.BytesRelayed.Add(float64(sess.Written()))
	}

	level := slog.LevelError
	if errors.Is(err, relay.ErrSinkWrite) || errors.Is(err, context.Canceled) {
		level = slog.LevelWarn
	}
	h.logger.Log(c.Request().Context(), level, "relay failed",
		"err", sanitizeError(err),
		"state", state,
		"headers_sent", headersSent,
		"bytes", sess.Written(),
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	if headersSent {
		panic(http.ErrAbortHandler)
	}
	return c.String(http.StatusInternalServerError, "Stream error")
}

func (h *ProxyHandler) errorDetail(err error) string {
	if h.hideDetails {
		return "internal error"
	}
	return sanitizeError(err)
}

// sanitizeError redacts URL passwords from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return credentialsPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
