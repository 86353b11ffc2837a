package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestObserver counts every status request and logs it with the sink
// state at the time of the answer. Prometheus scrapes are logged at trace.
func RequestObserver(logger zerolog.Logger, health HealthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status == 404:
			event = logger.Warn()
		case route == "/metrics":
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		if health != nil {
			state, ok := health()
			event = event.Str("sink_state", state).Bool("sink_ready", ok)
		}
		event.
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("remote", c.ClientIP()).
			Msg("observability.StatusServer request")
	}
}
