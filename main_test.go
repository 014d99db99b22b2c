package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/any-hub/image-cache/internal/imagecache"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("IMAGE_CACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}
	if opts.command != commandServe {
		t.Fatalf("默认命令应为 serve，得到 %s", opts.command)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefaultConfigPath(t *testing.T) {
	t.Setenv("IMAGE_CACHE_CONFIG", "")
	opts, err := parseCLIFlags([]string{"check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || opts.command != commandCheck {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseCLIFlagsSubcommands(t *testing.T) {
	useBufferWriters(t)

	opts, err := parseCLIFlags([]string{"resolve", "--config", "/tmp/a.toml", "https://cdn.example.com/a.png", "https://cdn.example.com/b.png"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.command != commandResolve || len(opts.sources) != 2 {
		t.Fatalf("unexpected resolve options: %+v", opts)
	}
	if opts.configPath != "/tmp/a.toml" {
		t.Fatalf("subcommand should accept --config, got %s", opts.configPath)
	}

	for _, args := range [][]string{{"resolve"}, {"bogus"}, {"clear", "extra"}} {
		if _, err := parseCLIFlags(args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}

	opts, err = parseCLIFlags([]string{"--help"})
	if err != nil {
		t.Fatalf("help 不应报错: %v", err)
	}
	if opts.command != commandHelp {
		t.Fatalf("expected help command, got %s", opts.command)
	}
	if code := run(opts); code != 0 {
		t.Fatalf("help 应返回 0，得到 %d", code)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), command: commandCheck})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errBuf := useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), command: commandCheck})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errBuf.String(), "CacheDirectory") {
		t.Fatalf("错误输出应指出字段，得到 %s", errBuf.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	outBuf, _ := useBufferWriters(t)
	code := run(cliOptions{command: commandVersion})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(outBuf.String(), "image-cache") {
		t.Fatalf("version 输出应包含 image-cache 标识")
	}
}

func TestRunResolveWritesCacheFile(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer upstream.Close()

	root := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "warn"
CacheRoot = "%s"
CacheDirectory = "images"
`, root))

	outBuf, errBuf := useBufferWriters(t)
	source := upstream.URL + "/badges/gold.png"
	code := run(cliOptions{configPath: configPath, command: commandResolve, sources: []string{source}})
	if code != 0 {
		t.Fatalf("resolve 应成功，得到 %d (stderr=%s)", code, errBuf.String())
	}

	expected := imagecache.DerivePath(filepath.Join(root, "images"), source)
	data, err := os.ReadFile(expected)
	if err != nil {
		t.Fatalf("缓存文件缺失: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Fatalf("unexpected cache content: %s", string(data))
	}
	if !strings.Contains(outBuf.String(), "fetched") || !strings.Contains(outBuf.String(), expected) {
		t.Fatalf("unexpected resolve output: %s", outBuf.String())
	}

	code = run(cliOptions{configPath: configPath, command: commandResolve, sources: []string{upstream.URL + "/missing.png"}})
	if code == 0 {
		t.Fatalf("上游 404 应返回非零退出码")
	}
	if !strings.Contains(errBuf.String(), "rejected") {
		t.Fatalf("stderr should report rejection: %s", errBuf.String())
	}
}

func TestRunClearRecreatesCacheDir(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "images")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	stale := filepath.Join(base, "stale.jpg")
	if err := os.WriteFile(stale, []byte("old"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "warn"
CacheRoot = "%s"
CacheDirectory = "images"
`, root))

	outBuf, _ := useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, command: commandClear}); code != 0 {
		t.Fatalf("clear 应成功，得到 %d", code)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file should be removed, err=%v", err)
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		t.Fatalf("cache dir should be recreated, err=%v", err)
	}
	if !strings.Contains(outBuf.String(), base) {
		t.Fatalf("unexpected clear output: %s", outBuf.String())
	}
}
