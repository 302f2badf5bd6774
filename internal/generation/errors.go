package generation

import (
	"errors"
	"fmt"

	"github.com/offline-cache/offline-cache/internal/cache"
)

var (
	// ErrNotInstalled 表示当前代际尚未完成预热，不能激活。
	ErrNotInstalled = errors.New("generation not installed")
	// ErrInstallInProgress 表示已有一次 install 正在进行。
	ErrInstallInProgress = errors.New("generation install in progress")
)

// InstallError 表示预热清单中的某个资源未能拉取或写入，整次 install 失败。
type InstallError struct {
	Generation string
	Key        cache.RequestKey
	Status     int
	Err        error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("install %s: %s: %v", e.Generation, e.Key, e.Err)
	}
	return fmt.Sprintf("install %s: %s: unexpected status %d", e.Generation, e.Key, e.Status)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
