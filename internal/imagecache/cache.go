package imagecache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-cache/internal/cache"
	"github.com/any-hub/image-cache/internal/logging"
)

// Status 描述一次 Resolve 的结局。
type Status string

const (
	StatusLocal    Status = "local"
	StatusFetched  Status = "fetched"
	StatusCached   Status = "cached"
	StatusInFlight Status = "in_flight"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Result 是 Resolve 的可观测返回值。URI 为发布给调用方的值，可能带文件协议前缀。
type Result struct {
	Source     string `json:"source"`
	LocalPath  string `json:"local_path"`
	URI        string `json:"uri"`
	Status     Status `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
}

// Options 汇总 Cache 的依赖，Store 必填，其余均有默认值。
type Options struct {
	Store   cache.Store
	Fetcher Fetcher
	Logger  *logrus.Logger

	// OnResolved 接收 (source, localPathOrEmpty)；空串代表解析失败。
	OnResolved func(source, localPath string)
	// OnInvalidate 在 ClearAll 后调用，通知调用方丢弃全部映射。
	OnInvalidate func()

	RequiresFilePrefix bool
	FilePrefix         string
	VerifyBeforeFetch  bool
}

// Cache 持有缓存目录、拉取器与 in-flight 表，多个实例之间互不影响。
type Cache struct {
	store   cache.Store
	fetcher Fetcher
	logger  *logrus.Logger

	onResolved   func(source, localPath string)
	onInvalidate func()

	filePrefix        string
	verifyBeforeFetch bool

	mu       sync.Mutex
	inFlight map[string]uint64
	nextSeq  uint64
}

// New 根据 Options 构造 Cache。
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil, opts.Store)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	prefix := ""
	if opts.RequiresFilePrefix {
		prefix = opts.FilePrefix
	}
	return &Cache{
		store:             opts.Store,
		fetcher:           fetcher,
		logger:            logger,
		onResolved:        opts.OnResolved,
		onInvalidate:      opts.OnInvalidate,
		filePrefix:        prefix,
		verifyBeforeFetch: opts.VerifyBeforeFetch,
		inFlight:          make(map[string]uint64),
	}, nil
}

// BaseDir 返回缓存基础目录。
func (c *Cache) BaseDir() string {
	return c.store.Root()
}

// Path 返回 source 对应的本地缓存文件路径。
func (c *Cache) Path(source string) string {
	return DerivePath(c.store.Root(), source)
}

// LocalURI 按平台需要为本地路径加上文件协议前缀。
func (c *Cache) LocalURI(path string) string {
	return c.filePrefix + path
}

// Resolve 确保 source 存在可用的本地副本：本地地址直接透传，远程地址在未处于
// in-flight 时拉取并写盘。网络/文件系统错误会发布空串并返回 ErrFetchFailed；
// 上游非 2xx 不发布任何结果并返回 *UpstreamStatusError。
func (c *Cache) Resolve(ctx context.Context, source string) (Result, error) {
	if source == "" {
		return Result{}, ErrEmptySource
	}

	name := FileName(source)
	localPath := filepath.Join(c.store.Root(), name)

	if !IsRemote(source) {
		uri := c.LocalURI(source)
		c.publish(source, uri)
		return Result{Source: source, LocalPath: source, URI: uri, Status: StatusLocal}, nil
	}

	seq, ok := c.acquire(source)
	if !ok {
		c.logger.WithFields(logging.ImageFields(source, localPath, string(StatusInFlight))).
			Debug("image_fetch_deduplicated")
		return Result{Source: source, LocalPath: localPath, Status: StatusInFlight}, nil
	}

	if c.verifyBeforeFetch {
		if ok, err := c.store.Exists(ctx, name); err == nil && ok {
			uri := c.LocalURI(localPath)
			c.publish(source, uri)
			c.release(source, seq)
			return Result{Source: source, LocalPath: localPath, URI: uri, Status: StatusCached}, nil
		}
	}

	fetched, err := c.fetcher.FetchToFile(ctx, source, name)
	if err != nil {
		c.release(source, seq)
		c.discard(name)
		c.publish(source, "")
		c.logger.WithError(err).
			WithFields(logging.ImageFields(source, localPath, string(StatusFailed))).
			Debug("image_fetch_failed")
		return Result{Source: source, LocalPath: localPath, Status: StatusFailed},
			fmt.Errorf("%w: %s: %v", ErrFetchFailed, source, err)
	}

	if !fetched.OK {
		c.release(source, seq)
		c.logger.WithFields(logging.ImageFields(source, localPath, string(StatusRejected))).
			WithField("upstream_status", fetched.StatusCode).
			Warn("image_fetch_rejected")
		return Result{Source: source, LocalPath: localPath, Status: StatusRejected, StatusCode: fetched.StatusCode},
			&UpstreamStatusError{Source: source, StatusCode: fetched.StatusCode}
	}

	uri := c.LocalURI(localPath)
	c.publish(source, uri)
	c.release(source, seq)
	c.logger.WithFields(logging.ImageFields(source, localPath, string(StatusFetched))).
		WithField("upstream_status", fetched.StatusCode).
		Debug("image_fetched")
	return Result{Source: source, LocalPath: localPath, URI: uri, Status: StatusFetched, StatusCode: fetched.StatusCode}, nil
}

// ClearAll 删除并重建缓存目录，清空 in-flight 表并通知调用方全部失效。
// 目录操作的错误会返回给调用方记录，但表重置与失效通知无论如何都会执行。
func (c *Cache) ClearAll(ctx context.Context) error {
	err := c.store.Purge(ctx)

	c.mu.Lock()
	c.inFlight = make(map[string]uint64)
	c.mu.Unlock()

	if c.onInvalidate != nil {
		c.onInvalidate()
	}

	fields := logrus.Fields{"action": "cache_clear", "base_dir": c.store.Root()}
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("image_cache_clear_failed")
		return err
	}
	c.logger.WithFields(fields).Info("image_cache_cleared")
	return nil
}

// InFlight 报告 source 当前是否有未完成的拉取。
func (c *Cache) InFlight(source string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[source]
	return ok
}

// InFlightCount 返回未完成拉取的数量。
func (c *Cache) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Open 打开 source 对应的缓存文件，不存在时返回 cache.ErrNotFound。
func (c *Cache) Open(ctx context.Context, source string) (*cache.ReadResult, error) {
	if source == "" {
		return nil, ErrEmptySource
	}
	return c.store.Open(ctx, FileName(source))
}

// RebuildLocalPath 将此前发布的路径重新锚定到当前缓存目录下。平台缓存根目录
// 迁移后，旧路径中 "/<目录名>/" 之后的文件名依然有效。
func (c *Cache) RebuildLocalPath(stored string) (string, bool) {
	root := c.store.Root()
	marker := string(filepath.Separator) + filepath.Base(root) + string(filepath.Separator)
	if idx := strings.LastIndex(stored, marker); idx >= 0 {
		rest := stored[idx+len(marker):]
		if rest != "" && !strings.ContainsAny(rest, `/\`) {
			return c.LocalURI(filepath.Join(root, rest)), true
		}
	}
	if c.filePrefix != "" && strings.HasPrefix(stored, c.filePrefix) {
		return stored, true
	}
	return stored, false
}

// acquire 登记 source 为 in-flight 并返回本次登记的序号；已存在时返回 false。
func (c *Cache) acquire(source string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.inFlight[source]; exists {
		return 0, false
	}
	c.nextSeq++
	c.inFlight[source] = c.nextSeq
	return c.nextSeq, true
}

// release 只移除自己登记的条目，ClearAll 之后重新登记的同名拉取不受影响。
func (c *Cache) release(source string, seq uint64) {
	c.mu.Lock()
	if c.inFlight[source] == seq {
		delete(c.inFlight, source)
	}
	c.mu.Unlock()
}

// discard 尽力删除残留文件，基础目录不存在时直接跳过。
func (c *Cache) discard(name string) {
	if !c.store.BaseExists() {
		return
	}
	_ = c.store.Remove(context.Background(), name)
}

func (c *Cache) publish(source, uri string) {
	if c.onResolved != nil {
		c.onResolved(source, uri)
	}
}
