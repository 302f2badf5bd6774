package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("LogLevel", err.Error())
		}
	}
	switch g.StoreDriver {
	case StoreDriverFS, StoreDriverLevelDB:
	default:
		return newFieldError("StoreDriver", "仅支持 fs/leveldb")
	}

	if err := validateUpstream(c.Upstream.Origin); err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	if c.Upstream.Proxy != "" {
		if err := validateUpstream(c.Upstream.Proxy); err != nil {
			return fmt.Errorf("Proxy: %w", err)
		}
	}
	if c.Upstream.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	gen := c.Generation
	if err := validateStoreToken(gen.Generation); err != nil {
		return newFieldError("Generation", err.Error())
	}
	if err := validateStoreToken(gen.StorePrefix); err != nil {
		return newFieldError("StorePrefix", err.Error())
	}
	switch gen.Activation {
	case ActivationImmediate, ActivationManual:
	default:
		return newFieldError("Activation", "仅支持 immediate/manual")
	}
	if gen.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if gen.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if gen.WarmupConcurrency <= 0 {
		return newFieldError("WarmupConcurrency", "必须大于 0")
	}
	if gen.WarmupRate < 0 {
		return newFieldError("WarmupRate", "不能为负数")
	}
	for idx, entry := range gen.Manifest {
		if strings.TrimSpace(entry) == "" {
			return newFieldError(manifestField(idx), "不能为空")
		}
		if _, err := url.Parse(entry); err != nil {
			return newFieldError(manifestField(idx), err.Error())
		}
	}

	return nil
}

// validateStoreToken 保证代际标识与前缀可安全用作仓库名（目录名 / 键前缀）。
func validateStoreToken(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("包含非法字符 %q", r)
		}
	}
	if raw == "." || raw == ".." {
		return errors.New("不允许使用相对路径")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
