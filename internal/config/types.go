package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存存储驱动。
const (
	StoreDriverFS      = "fs"
	StoreDriverLevelDB = "leveldb"
)

// 代际激活策略：immediate 在预热成功后立即切换；manual 等待控制通道的 ForceActivate。
const (
	ActivationImmediate = "immediate"
	ActivationManual    = "manual"
)

// GlobalConfig 描述进程级运行参数：监听端口、日志与缓存存储位置。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	StoreDriver   string `mapstructure:"StoreDriver"`
}

// UpstreamConfig 决定网络回源的目标与超时。
type UpstreamConfig struct {
	Origin          string   `mapstructure:"Origin"`
	Proxy           string   `mapstructure:"Proxy"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// GenerationConfig 控制缓存代际的命名、预热与激活行为。
type GenerationConfig struct {
	Generation        string   `mapstructure:"Generation"`
	StorePrefix       string   `mapstructure:"StorePrefix"`
	Activation        string   `mapstructure:"Activation"`
	MaxRetries        int      `mapstructure:"MaxRetries"`
	InitialBackoff    Duration `mapstructure:"InitialBackoff"`
	WarmupConcurrency int      `mapstructure:"WarmupConcurrency"`
	WarmupRate        float64  `mapstructure:"WarmupRate"`
	StrictWarmup      bool     `mapstructure:"StrictWarmup"`
	Manifest          []string `mapstructure:"Manifest"`
	ManifestFile      string   `mapstructure:"ManifestFile"`
}

// Config 是 TOML 文件映射的整体结构，所有字段均位于顶层。
type Config struct {
	Global     GlobalConfig     `mapstructure:",squash"`
	Upstream   UpstreamConfig   `mapstructure:",squash"`
	Generation GenerationConfig `mapstructure:",squash"`
}

// ImmediateActivation 表示预热成功后是否直接切换代际。
func (g GenerationConfig) ImmediateActivation() bool {
	return g.Activation != ActivationManual
}
