package imagecache

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// DefaultExtension 用于无法从 URL 推断扩展名的情况。
const DefaultExtension = ".jpg"

// Digest 返回 source 的小写十六进制 SHA-1，仅用于生成确定性文件名。
func Digest(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Extension 取最后一个 "/" 之后的片段，去掉 "?" 起的查询串，再截取最后一个 "." 起的后缀。
func Extension(source string) string {
	segment := source
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	if idx := strings.Index(segment, "?"); idx >= 0 {
		segment = segment[:idx]
	}
	idx := strings.LastIndex(segment, ".")
	if idx < 0 {
		return DefaultExtension
	}
	return segment[idx:]
}

// FileName 返回 source 在缓存目录中的文件名。
func FileName(source string) string {
	return Digest(source) + Extension(source)
}

// DerivePath 返回 <baseDir>/<digest><ext>，同一 source 永远得到同一路径。
func DerivePath(baseDir, source string) string {
	return filepath.Join(baseDir, FileName(source))
}

// IsRemote 判断 source 是否需要走网络拉取；不含 "http" 的一律视为本地文件。
func IsRemote(source string) bool {
	return strings.Contains(source, "http")
}
