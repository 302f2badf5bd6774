package version

import "fmt"

// Version/Commit/Generation 可在构建时通过 -ldflags 注入，默认使用开发占位符。
// Generation 是缓存代际标识，每次部署都应变化，决定是否需要新建一份缓存仓库。
var (
	Version    = "0.1.0"
	Commit     = "dev"
	Generation = "v1"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("offline-cache %s (%s) generation=%s", Version, Commit, Generation)
}
