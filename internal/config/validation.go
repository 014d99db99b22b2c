package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.CacheRoot) == "" {
		return newFieldError("Global.CacheRoot", "不能为空")
	}
	if err := validateDirectoryName(g.CacheDirectory); err != nil {
		return newFieldError("Global.CacheDirectory", err.Error())
	}
	if g.RequiresFilePrefix && g.FilePrefix == "" {
		return newFieldError("Global.FilePrefix", "RequiresFilePrefix 开启时不能为空")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if c.Warmup.Concurrency < 0 {
		return newFieldError("Warmup.Concurrency", "不能为负数")
	}
	for i, src := range c.Warmup.Sources {
		if err := validateSource(src); err != nil {
			return fmt.Errorf("%s: %w", warmupField(i), err)
		}
	}

	return nil
}

// validateDirectoryName 要求子目录名为单层名称，避免 Purge 删除 CacheRoot 之外的内容。
func validateDirectoryName(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.New("不允许包含路径分隔符")
	}
	if name == "." || name == ".." {
		return errors.New("不允许为相对目录")
	}
	return nil
}

func validateSource(raw string) error {
	if raw == "" {
		return errors.New("缺少图片地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，图片: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("图片地址缺少 Host: %s", raw)
	}
	return nil
}
