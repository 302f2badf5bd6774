package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/offline-cache/offline-cache/internal/control"
	"github.com/offline-cache/offline-cache/internal/generation"
)

// Dispatcher 处理控制消息，由 control.Channel 实现。
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte) (interface{}, error)
}

// StatusReporter 提供 /-/status 所需的只读快照，由 generation.Manager 实现。
type StatusReporter interface {
	Status(ctx context.Context) (generation.Status, error)
}

// RegisterControlRoutes 暴露 POST /-/control，把消息体交给控制通道。
// 有应答时返回 200 + JSON，消息被忽略时返回 204。
func RegisterControlRoutes(app *fiber.App, dispatcher Dispatcher) {
	if app == nil || dispatcher == nil {
		return
	}

	app.Post("/-/control", func(c fiber.Ctx) error {
		reply, err := dispatcher.Dispatch(c.Context(), c.Body())
		if err != nil {
			return c.Status(controlErrorStatus(err)).JSON(fiber.Map{"error": controlErrorCode(err)})
		}
		if reply == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(reply)
	})
}

// RegisterStatusRoutes 暴露 GET /-/status 诊断接口。
func RegisterStatusRoutes(app *fiber.App, reporter StatusReporter) {
	if app == nil || reporter == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		status, err := reporter.Status(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status_unavailable"})
		}
		return c.JSON(status)
	})
}

func controlErrorStatus(err error) int {
	switch {
	case errors.Is(err, control.ErrMalformedMessage):
		return fiber.StatusBadRequest
	case errors.Is(err, generation.ErrNotInstalled):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func controlErrorCode(err error) string {
	switch {
	case errors.Is(err, control.ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, generation.ErrNotInstalled):
		return "not_installed"
	default:
		return "control_failed"
	}
}
