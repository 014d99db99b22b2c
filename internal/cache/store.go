package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理图片缓存目录的读写。磁盘布局遵循：
//
//	<CacheRoot>/<CacheDirectory>/<sha1(url)><ext>
//
// 每个条目仅由一个扁平文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Root 返回缓存基础目录的绝对路径。
	Root() string

	// BaseExists 报告基础目录当前是否存在。
	BaseExists() bool

	// Exists 判断 name 对应的缓存文件是否存在。
	Exists(ctx context.Context, name string) (bool, error)

	// Open 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Open(ctx context.Context, name string) (*ReadResult, error)

	// Put 将响应正文写入缓存，实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。
	Put(ctx context.Context, name string, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个缓存文件，文件不存在时不视为错误。
	Remove(ctx context.Context, name string) error

	// Purge 递归删除基础目录并重新创建为空目录。
	Purge(ctx context.Context) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Entry 描述一个已落盘的缓存文件。
type Entry struct {
	Name      string    `json:"name"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于 HTTP 层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示文件名包含路径成分，无法映射到基础目录内。
	ErrInvalidName = errors.New("invalid cache file name")
)
