package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestDocument 兼容两种 YAML 写法：顶层列表，或 resources 字段下的列表。
type manifestDocument struct {
	Resources []string `yaml:"resources"`
}

// LoadManifestFile 读取 YAML 形式的预热清单，返回按文件顺序排列的资源路径。
func LoadManifestFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 ManifestFile 失败: %w", err)
	}

	var list []string
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return trimManifest(list), nil
	}

	var doc manifestDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("解析 ManifestFile 失败: %w", err)
	}
	return trimManifest(doc.Resources), nil
}

// JoinOrigin 把客户端看到的请求路径（含查询串）拼接到 Origin 上。
// 拦截请求与预热清单都经由它生成 URL，保证两边的缓存键一致；
// Origin 带路径前缀时，前缀会被保留。
func JoinOrigin(origin, requestURI string) string {
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return strings.TrimRight(origin, "/") + requestURI
}

// ResolveManifest 将清单中的相对路径按 JoinOrigin 规则解析为绝对 URL，并去除重复项。
// 绝对 URL 原样保留，顺序与配置一致。
func (c *Config) ResolveManifest() ([]string, error) {
	if _, err := url.Parse(c.Upstream.Origin); err != nil {
		return nil, fmt.Errorf("Origin 无法解析: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Generation.Manifest))
	result := make([]string, 0, len(c.Generation.Manifest))
	for idx, entry := range c.Generation.Manifest {
		ref, err := url.Parse(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", manifestField(idx), err)
		}
		resolved := ref.String()
		if !ref.IsAbs() {
			resolved = JoinOrigin(c.Upstream.Origin, ref.RequestURI())
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		result = append(result, resolved)
	}
	return result, nil
}

func trimManifest(list []string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
