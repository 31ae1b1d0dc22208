package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"bomcontrole-proxy/internal/client"
	"bomcontrole-proxy/internal/model"
	"bomcontrole-proxy/internal/service"
)

const proxyErrorMessage = "failed to reach upstream (proxy error)"

// ProxyHandler forwards every request to the upstream API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request upstream and streams the response back with the
// upstream's status code.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body := req.Body
	if req.ContentLength == 0 {
		body = http.NoBody
	}

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent, so a mid-stream failure can only be logged;
	// the client sees a truncated body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", h.sanitize(err),
			"path", req.URL.Path,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
	}

	return nil
}

// mapError turns a failed upstream exchange into a 502 with a JSON payload.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	code := client.ErrorCode(err)
	details := h.sanitize(err)

	h.logger.Error("proxy error",
		"err", details,
		"code", code,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	return c.JSON(http.StatusBadGateway, model.ErrorResponse{
		Status:  "error",
		Message: proxyErrorMessage,
		Details: details,
		Code:    code,
	})
}

func (h *ProxyHandler) sanitize(err error) string {
	if h.service == nil {
		return err.Error()
	}
	return h.service.Redact(err.Error())
}
