package imagecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/any-hub/image-cache/internal/cache"
)

// Fetcher 执行 "GET 并写入缓存文件" 这一 I/O 边界，测试可替换为桩实现。
type Fetcher interface {
	FetchToFile(ctx context.Context, source, name string) (FetchResult, error)
}

// FetchResult 对应一次完成的 HTTP 往返；OK 为 false 时不会写入任何文件。
type FetchResult struct {
	OK         bool
	StatusCode int
	Entry      *cache.Entry
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, source, name string) (FetchResult, error)

// FetchToFile makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) FetchToFile(ctx context.Context, source, name string) (FetchResult, error) {
	return f(ctx, source, name)
}

// HTTPFetcher 使用共享 http.Client 拉取图片，并通过 cache.Store 原子写盘。
type HTTPFetcher struct {
	client *http.Client
	store  cache.Store
}

// NewHTTPFetcher 构造默认 Fetcher；client 为空时退回 http.DefaultClient。
func NewHTTPFetcher(client *http.Client, store cache.Store) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, store: store}
}

// maxDrainBytes 限制非 2xx 响应体的丢弃读取量，便于复用连接。
const maxDrainBytes = 64 * 1024

func (f *HTTPFetcher) FetchToFile(ctx context.Context, source, name string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		return FetchResult{OK: false, StatusCode: resp.StatusCode}, nil
	}

	entry, err := f.store.Put(ctx, name, resp.Body, cache.PutOptions{ModTime: extractModTime(resp.Header)})
	if err != nil {
		return FetchResult{StatusCode: resp.StatusCode}, fmt.Errorf("write cache file: %w", err)
	}
	return FetchResult{OK: true, StatusCode: resp.StatusCode, Entry: entry}, nil
}

func extractModTime(header http.Header) time.Time {
	if raw := header.Get("Last-Modified"); raw != "" {
		if parsed, err := http.ParseTime(raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
