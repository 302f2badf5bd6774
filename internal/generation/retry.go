package generation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-cache/offline-cache/internal/cache"
)

// InstallWithRetry 整批重试 Install，每次失败后退避时间翻倍。
// 每次尝试仍然是全有或全无的，不会只重试失败的子集。
func InstallWithRetry(ctx context.Context, m *Manager, manifest []cache.RequestKey, retries int, backoff time.Duration) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = m.Install(ctx, manifest)
		if err == nil || errors.Is(err, ErrInstallInProgress) || attempt >= retries {
			return err
		}

		m.logger.WithFields(logrus.Fields{
			"action":     "install_retry",
			"generation": m.generation,
			"attempt":    attempt + 1,
			"backoff_ms": backoff.Milliseconds(),
		}).Warn(err.Error())

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
