package imagecache

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySource 表示调用方传入了空的图片地址。
	ErrEmptySource = errors.New("image source required")
	// ErrFetchFailed 表示网络或文件系统错误导致拉取失败，此时已发布空串哨兵。
	ErrFetchFailed = errors.New("image fetch failed")
	// ErrUpstreamStatus 表示上游返回非 2xx，此时不会发布任何结果。
	ErrUpstreamStatus = errors.New("image upstream returned non-ok status")
)

// UpstreamStatusError 携带上游状态码，errors.Is 可匹配 ErrUpstreamStatus。
type UpstreamStatusError struct {
	Source     string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", ErrUpstreamStatus.Error(), e.Source, e.StatusCode)
}

func (e *UpstreamStatusError) Unwrap() error {
	return ErrUpstreamStatus
}
