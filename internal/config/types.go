package config

import (
	"fmt"
	"path/filepath"
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

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
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

// GlobalConfig 描述服务级运行参数，缓存、日志、HTTP 监听共用一份。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	LogFormat     string `mapstructure:"LogFormat"`

	// CacheRoot 对应平台缓存根目录，CacheDirectory 为品牌级子目录名。
	CacheRoot      string `mapstructure:"CacheRoot"`
	CacheDirectory string `mapstructure:"CacheDirectory"`

	// RequiresFilePrefix 为 true 时，发布给调用方的本地路径会带上 FilePrefix。
	RequiresFilePrefix bool   `mapstructure:"RequiresFilePrefix"`
	FilePrefix         string `mapstructure:"FilePrefix"`

	CleanOnStartup    bool `mapstructure:"CleanOnStartup"`
	VerifyBeforeFetch bool `mapstructure:"VerifyBeforeFetch"`

	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// WarmupConfig 列出启动时需要预先拉取的图片地址。
type WarmupConfig struct {
	Sources     []string `mapstructure:"Sources"`
	Concurrency int      `mapstructure:"Concurrency"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Warmup WarmupConfig `mapstructure:"Warmup"`
}

// BaseDir 返回 <CacheRoot>/<CacheDirectory>，即全部缓存文件所在目录。
func (g GlobalConfig) BaseDir() string {
	return filepath.Join(g.CacheRoot, g.CacheDirectory)
}

// EffectiveFilePrefix 仅在平台需要时返回文件协议前缀，否则为空串。
func (g GlobalConfig) EffectiveFilePrefix() string {
	if !g.RequiresFilePrefix {
		return ""
	}
	return g.FilePrefix
}
