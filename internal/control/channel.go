package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/offline-cache/offline-cache/internal/logging"
)

// ErrMalformedMessage 表示消息体不是带 type 字段的 JSON 对象。
var ErrMalformedMessage = errors.New("malformed control message")

// Controller 是控制通道依赖的代际操作，由 generation.Manager 实现。
type Controller interface {
	Generation() string
	StoreName() string
	ForceActivate(ctx context.Context) error
	EntryCount(ctx context.Context) (int, error)
}

// Channel 解码控制消息并分派给 Controller。
type Channel struct {
	target Controller
	logger *logrus.Logger
}

// NewChannel constructs a control channel bound to a controller.
func NewChannel(target Controller, logger *logrus.Logger) *Channel {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Channel{target: target, logger: logger}
}

// Dispatch 解码 payload 并执行对应操作，返回需要回送的应答。
// 未识别的消息类型被记录后忽略，返回 (nil, nil)。
func (c *Channel) Dispatch(ctx context.Context, payload []byte) (interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	fields := logrus.Fields{
		"action":       "control",
		"message_type": env.Type,
		"generation":   c.target.Generation(),
	}

	switch env.Type {
	case TypeForceActivate:
		if err := c.target.ForceActivate(ctx); err != nil {
			c.logger.WithFields(fields).WithError(err).Warn("control_force_activate_failed")
			return nil, err
		}
		c.logger.WithFields(fields).Info("control_force_activate")
		return Ack{Type: TypeAck, Generation: c.target.Generation()}, nil

	case TypeQueryStatus:
		count, err := c.target.EntryCount(ctx)
		if err != nil {
			c.logger.WithFields(fields).WithError(err).Warn("control_query_status_failed")
			return nil, err
		}
		c.logger.WithFields(fields).Debug("control_query_status")
		return StatusResponse{
			Type:       TypeStatusResponse,
			StoreName:  c.target.StoreName(),
			EntryCount: count,
		}, nil

	default:
		c.logger.WithFields(fields).Info("control_message_ignored")
		return nil, nil
	}
}
