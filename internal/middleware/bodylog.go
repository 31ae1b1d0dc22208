package middleware

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLogger logs request and response bodies at debug level, each cut to
// maxBytes. Internal routes are skipped, as is everything when debug is off,
// so the body is only buffered when it will actually be logged.
func BodyLogger(logger *slog.Logger, maxBytes int) echo.MiddlewareFunc {
	return echomw.BodyDumpWithConfig(echomw.BodyDumpConfig{
		Skipper: func(c echo.Context) bool {
			if strings.HasPrefix(c.Request().URL.Path, "/_proxy/") {
				return true
			}
			return !logger.Enabled(c.Request().Context(), slog.LevelDebug)
		},
		Handler: func(c echo.Context, reqBody, resBody []byte) {
			logger.Debug("body dump",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"request_body", truncateBody(reqBody, maxBytes),
				"response_body", truncateBody(resBody, maxBytes),
			)
		},
	})
}

func truncateBody(b []byte, maxBytes int) string {
	if len(b) == 0 {
		return "<empty>"
	}
	if maxBytes <= 0 || len(b) <= maxBytes {
		return string(b)
	}
	return fmt.Sprintf("%s...(%d bytes truncated)", b[:maxBytes], len(b)-maxBytes)
}
