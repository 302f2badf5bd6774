package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/offline-cache/offline-cache/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、合并 ManifestFile 并完成校验。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyUpstreamDefaults(&cfg.Upstream)
	applyGenerationDefaults(&cfg.Generation)

	if file := strings.TrimSpace(cfg.Generation.ManifestFile); file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		extra, err := LoadManifestFile(file)
		if err != nil {
			return nil, err
		}
		cfg.Generation.ManifestFile = file
		cfg.Generation.Manifest = append(cfg.Generation.Manifest, extra...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreDriver", StoreDriverFS)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Generation", version.Generation)
	v.SetDefault("StorePrefix", "offline-cache")
	v.SetDefault("Activation", ActivationImmediate)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("WarmupConcurrency", 4)
	v.SetDefault("WarmupRate", 0)
	v.SetDefault("StrictWarmup", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StoreDriver = strings.ToLower(strings.TrimSpace(g.StoreDriver))
	if g.StoreDriver == "" {
		g.StoreDriver = StoreDriverFS
	}
}

func applyUpstreamDefaults(u *UpstreamConfig) {
	u.Origin = strings.TrimRight(strings.TrimSpace(u.Origin), "/")
	if u.UpstreamTimeout.DurationValue() == 0 {
		u.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyGenerationDefaults(g *GenerationConfig) {
	g.Generation = strings.TrimSpace(g.Generation)
	if g.Generation == "" {
		g.Generation = version.Generation
	}
	if strings.TrimSpace(g.StorePrefix) == "" {
		g.StorePrefix = "offline-cache"
	}
	g.Activation = strings.ToLower(strings.TrimSpace(g.Activation))
	if g.Activation == "" {
		g.Activation = ActivationImmediate
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.WarmupConcurrency == 0 {
		g.WarmupConcurrency = 4
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
