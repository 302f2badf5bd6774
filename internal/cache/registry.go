package cache

import "fmt"

// 与 config.StoreDriverFS / config.StoreDriverLevelDB 保持一致。
const (
	DriverFS      = "fs"
	DriverLevelDB = "leveldb"
)

// NewRegistry 按驱动名构建仓库注册表，整进程复用一份实例。
func NewRegistry(driver, basePath string) (Registry, error) {
	switch driver {
	case "", DriverFS:
		return NewFSRegistry(basePath)
	case DriverLevelDB:
		return NewLevelDBRegistry(basePath)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
