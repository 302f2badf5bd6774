package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-cache/offline-cache/internal/config"
	"github.com/offline-cache/offline-cache/internal/logging"
	"github.com/offline-cache/offline-cache/internal/server"
	"github.com/offline-cache/offline-cache/internal/upstream"
)

// Handler 把 Fiber 请求转换为 upstream.Request 交给 Interceptor，
// 再把结果快照写回客户端，并输出结构化日志。
type Handler struct {
	interceptor *Interceptor
	origin      *url.URL
	logger      *logrus.Logger
}

// NewHandler constructs the Fiber-facing handler; origin is the upstream base URL.
func NewHandler(interceptor *Interceptor, origin string, logger *logrus.Logger) (*Handler, error) {
	if interceptor == nil {
		return nil, errors.New("interceptor is required")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid origin: %s", origin)
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{
		interceptor: interceptor,
		origin:      parsed,
		logger:      logger,
	}, nil
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req := upstream.Request{
		Method: c.Method(),
		URL:    h.resolveURL(c),
		Header: fiberHeadersAsHTTP(c),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	result, err := h.interceptor.Handle(c.Context(), req)
	if err != nil {
		h.logResult(req, "", "", requestID, 0, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	snap := result.Snapshot
	copyResponseHeaders(c, snap.Header)
	c.Set("X-Offline-Cache", string(result.Source))
	c.Status(snap.Status)
	h.logResult(req, result.Store, result.Source, requestID, snap.Status, started, nil)

	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(snap.Body)
}

// resolveURL 将原始请求路径与查询串拼接到 Origin 上，作为缓存键与回源地址。
// 与预热清单共用 config.JoinOrigin，两边生成的键一致。
func (h *Handler) resolveURL(c fiber.Ctx) string {
	return config.JoinOrigin(h.origin.String(), c.OriginalURL())
}

func (h *Handler) logResult(
	req upstream.Request,
	storeName string,
	source Source,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(req.Method, req.URL, storeName, string(source))
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("intercept_failed")
		return
	}
	h.logger.WithFields(fields).Info("intercept_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 写回快照头；Content-Length 由 Fiber 根据正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if upstream.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
