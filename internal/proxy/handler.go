package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-cache/internal/cache"
	"github.com/any-hub/image-cache/internal/imagecache"
	"github.com/any-hub/image-cache/internal/logging"
	"github.com/any-hub/image-cache/internal/registry"
	"github.com/any-hub/image-cache/internal/server"
)

var (
	// errSharedFetchFailed 表示等待的 in-flight 拉取以空串收尾，可重试。
	errSharedFetchFailed = errors.New("shared fetch failed")
	// errSharedFetchRejected 表示等待的 in-flight 拉取被上游拒绝（未发布任何结果）。
	errSharedFetchRejected = errors.New("shared fetch rejected by upstream")
	// errWaitTimeout 表示等待 in-flight 拉取超时。
	errWaitTimeout = errors.New("wait for in-flight fetch timed out")
)

// HandlerOptions 汇总 Handler 的依赖与重试参数。
type HandlerOptions struct {
	Cache    *imagecache.Cache
	Registry *registry.Registry
	Logger   *logrus.Logger

	MaxRetries     int
	InitialBackoff time.Duration
	WaitTimeout    time.Duration
	// PollInterval 控制等待期间检查 in-flight 状态的频率，默认 100ms。
	PollInterval time.Duration
}

// Handler 负责 orchestrate “登记表命中 → 解析/去重等待 → 读取缓存文件” 的全流程，
// 对外暴露 Fiber handler，内部复用 imagecache.Cache 与 registry。
type Handler struct {
	cache    *imagecache.Cache
	registry *registry.Registry
	logger   *logrus.Logger

	maxRetries     int
	initialBackoff time.Duration
	waitTimeout    time.Duration
	pollInterval   time.Duration
}

// NewHandler constructs an image handler from the shared cache and registry.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Cache == nil {
		return nil, errors.New("image cache is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = 30 * time.Second
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Handler{
		cache:          opts.Cache,
		registry:       opts.Registry,
		logger:         logger,
		maxRetries:     maxRetries,
		initialBackoff: initial,
		waitTimeout:    wait,
		pollInterval:   poll,
	}, nil
}

// Handle 服务 GET/HEAD /images?src=<url>。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	source := strings.TrimSpace(c.Query("src"))

	if source == "" {
		h.logResult(source, requestID, fiber.StatusBadRequest, false, started, nil)
		return h.writeError(c, fiber.StatusBadRequest, "source_required")
	}
	if !imagecache.IsRemote(source) {
		h.logResult(source, requestID, fiber.StatusBadRequest, false, started, nil)
		return h.writeError(c, fiber.StatusBadRequest, "local_source")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if path, ok := h.registry.Get(source); ok && path != "" {
		if h.reanchor(source, path) {
			result, err := h.cache.Open(ctx, source)
			if err == nil {
				return h.serveCache(c, source, result, requestID, started, true)
			}
		}
		// 登记的路径不再指向缓存文件时丢弃登记并重新解析。
		h.registry.Remove(source)
	}

	if err := h.ensure(ctx, source); err != nil {
		status, code := classifyError(err)
		h.logResult(source, requestID, status, false, started, err)
		return h.writeError(c, status, code)
	}

	result, err := h.cache.Open(ctx, source)
	if err != nil {
		h.logResult(source, requestID, fiber.StatusNotFound, false, started, err)
		return h.writeError(c, fiber.StatusNotFound, "image_unavailable")
	}
	return h.serveCache(c, source, result, requestID, started, false)
}

// ensure 以指数退避最多执行 maxRetries+1 次解析尝试。上游非 2xx 属于确定结果，
// 不再重试。
func (h *Handler) ensure(ctx context.Context, source string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.initialBackoff
	policy.MaxElapsedTime = 0

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(h.maxRetries)), ctx)
	return backoff.Retry(func() error {
		return h.attempt(ctx, source)
	}, retry)
}

// attempt 先订阅再解析，确保其它请求持有的 in-flight 拉取完成时不会错过通知。
func (h *Handler) attempt(ctx context.Context, source string) error {
	updates, cancel := h.registry.Subscribe(source)
	defer cancel()

	result, err := h.cache.Resolve(ctx, source)
	if err != nil {
		if errors.Is(err, imagecache.ErrUpstreamStatus) || errors.Is(err, imagecache.ErrEmptySource) {
			return backoff.Permanent(err)
		}
		return err
	}
	if result.Status != imagecache.StatusInFlight {
		return nil
	}

	timer := time.NewTimer(h.waitTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case path := <-updates:
			return sharedOutcome(path)
		case <-ticker.C:
			if h.cache.InFlight(source) {
				continue
			}
			// 成功或失败都会先发布再释放，此时通道里没有结果说明上游拒绝了该地址。
			select {
			case path := <-updates:
				return sharedOutcome(path)
			default:
				return backoff.Permanent(errSharedFetchRejected)
			}
		case <-timer.C:
			return backoff.Permanent(errWaitTimeout)
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
	}
}

func sharedOutcome(path string) error {
	if path == "" {
		return errSharedFetchFailed
	}
	return nil
}

// reanchor 将登记表中的旧路径重新锚定到当前缓存目录，路径发生变化时回写登记表。
// 返回 false 表示该路径不是缓存路径。
func (h *Handler) reanchor(source, stored string) bool {
	rebuilt, ok := h.cache.RebuildLocalPath(stored)
	if !ok {
		return false
	}
	if rebuilt != stored {
		h.registry.Set(source, rebuilt)
		h.logger.WithFields(logging.ImageFields(source, rebuilt, "reanchored")).
			WithField("previous_path", stored).
			Debug("image_path_reanchored")
	}
	return true
}

func (h *Handler) serveCache(
	c fiber.Ctx,
	source string,
	result *cache.ReadResult,
	requestID string,
	started time.Time,
	cacheHit bool,
) error {
	defer result.Reader.Close()

	c.Type(strings.TrimPrefix(strings.ToLower(imagecache.Extension(source)), "."))
	if result.Entry.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
	}
	c.Set("X-Image-Cache-Hit", fmt.Sprintf("%t", cacheHit))
	c.Set("X-Image-Cache-Digest", imagecache.Digest(source))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	status := fiber.StatusOK
	c.Status(status)

	if c.Method() == http.MethodHead {
		h.logResult(source, requestID, status, cacheHit, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(source, requestID, status, cacheHit, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, errWaitTimeout):
		return fiber.StatusGatewayTimeout, "image_wait_timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "image_wait_timeout"
	default:
		return fiber.StatusNotFound, "image_unavailable"
	}
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	source string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(source, status, cacheHit)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("image_request_failed")
		return
	}
	h.logger.WithFields(fields).Info("image_request_complete")
}
