package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"cecilefy-proxy/internal/metrics"
)

// MetricsMiddleware records request counts and latency per matched route.
// A download whose connection is aborted with http.ErrAbortHandler after the
// headers went out is still counted, with the status the client saw, and
// also lands in the aborted counter.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m.RequestsInFlight.Inc()
			start := time.Now()

			defer func() {
				m.RequestsInFlight.Dec()

				method := metrics.NormalizeMethod(c.Request().Method)
				route := metrics.RouteLabel(c.Path())

				r := recover()
				status := requestStatus(c, err)
				switch {
				case r == nil:
				case r == http.ErrAbortHandler:
					m.RequestsAborted.WithLabelValues(method, route).Inc()
				case !c.Response().Committed:
					// Recover turns other panics into a 500.
					status = http.StatusInternalServerError
				}

				code := strconv.Itoa(status)
				m.RequestsTotal.WithLabelValues(method, code, route).Inc()
				m.RequestDuration.WithLabelValues(method, code, route).Observe(time.Since(start).Seconds())

				if r != nil {
					panic(r)
				}
			}()

			return next(c)
		}
	}
}

// requestStatus resolves the status of a finished request. A returned error
// has not been written yet when the middleware sees it; Echo's error handler
// answers it later with the *echo.HTTPError code or 500.
func requestStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
