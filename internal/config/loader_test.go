package config

import "testing"

func TestLoadFailsWithInvalidDirectory(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("非法目录名的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
CacheRoot = "./data"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadDropsBlankWarmupSources(t *testing.T) {
	cfg := `
CacheRoot = "./data"

[Warmup]
Sources = ["", "  ", "https://cdn.example.com/a.png"]
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if len(loaded.Warmup.Sources) != 1 {
		t.Fatalf("空白预热地址应被忽略，得到 %v", loaded.Warmup.Sources)
	}
}
