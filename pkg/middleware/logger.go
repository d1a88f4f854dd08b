package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Logger logs one line per request and records its latency. Health and metrics probes
// log at debug level. Run it after Context so request values are in place.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req := c.Request()
			res := c.Response()
			ctx := req.Context()
			route := c.Path()

			status := strconv.Itoa(res.Status)
			metrics.HTTPRequestDuration.WithLabelValues(req.Method, route, status[:1]+"xx").Observe(elapsed.Seconds())

			log := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"user_id":       context.GetUserID(ctx),
				"method":        req.Method,
				"uri":           req.RequestURI,
				"route":         route,
				"status":        res.Status,
				"remote_ip":     context.GetRemoteIP(ctx),
				"user_agent":    req.UserAgent(),
				"response_time": elapsed.String(),
				"response_size": res.Size,
				"trace_id":      tracing.GetTraceID(ctx),
				"span_id":       tracing.GetSpanID(ctx),
			})
			switch {
			case strings.HasPrefix(route, "/api/v1/health") || route == "/metrics":
				log.Debug("Request")
			case res.Status >= 500:
				log.Error("Request")
			case res.Status >= 400:
				log.Warn("Request")
			default:
				log.Info("Request")
			}
			return nil
		}
	}
}
