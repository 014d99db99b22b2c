// Package registry keeps the source → local path mapping that consumers read
// when rendering images. The image cache publishes into it; HTTP handlers and
// other consumers read from it or subscribe to it while a fetch is in flight.
package registry

import (
	"sort"
	"sync"
)

// Entry 是一条已发布的映射；Path 为空串表示该图片当前不可用。
type Entry struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// Registry 为并发安全的图片路径表，Set/Clean 会唤醒等待中的消费者。
type Registry struct {
	mu      sync.RWMutex
	paths   map[string]string
	waiters map[string][]chan string
}

// New 返回空的 Registry。
func New() *Registry {
	return &Registry{
		paths:   make(map[string]string),
		waiters: make(map[string][]chan string),
	}
}

// Set 记录 source 的本地路径并唤醒所有等待者，可直接作为 imagecache.Options.OnResolved。
func (r *Registry) Set(source, path string) {
	if source == "" {
		return
	}
	r.mu.Lock()
	r.paths[source] = path
	waiters := r.waiters[source]
	delete(r.waiters, source)
	r.mu.Unlock()

	notify(waiters, path)
}

// Get 返回 source 的已发布路径。
func (r *Registry) Get(source string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.paths[source]
	return path, ok
}

// Remove 删除单条映射，不会唤醒等待者。
func (r *Registry) Remove(source string) {
	r.mu.Lock()
	delete(r.paths, source)
	r.mu.Unlock()
}

// Clean 清空全部映射，等待者收到空串；可直接作为 imagecache.Options.OnInvalidate。
func (r *Registry) Clean() {
	r.mu.Lock()
	r.paths = make(map[string]string)
	waiters := r.waiters
	r.waiters = make(map[string][]chan string)
	r.mu.Unlock()

	for _, list := range waiters {
		notify(list, "")
	}
}

// Len 返回映射数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paths)
}

// Snapshot 返回按 source 排序的映射副本，用于诊断输出。
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.paths) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.paths))
	for k := range r.paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]Entry, 0, len(keys))
	for _, k := range keys {
		result = append(result, Entry{Source: k, Path: r.paths[k]})
	}
	return result
}

// Subscribe 注册一个在 source 下一次 Set 或 Clean 时收到路径的通道。
// 调用方应在触发解析之前订阅，避免错过通知；cancel 可重复调用。
func (r *Registry) Subscribe(source string) (<-chan string, func()) {
	ch := make(chan string, 1)

	r.mu.Lock()
	r.waiters[source] = append(r.waiters[source], ch)
	r.mu.Unlock()

	return ch, func() { r.dropWaiter(source, ch) }
}

func (r *Registry) dropWaiter(source string, ch chan string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waiters[source]
	for i, candidate := range list {
		if candidate == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.waiters, source)
		return
	}
	r.waiters[source] = list
}

func notify(waiters []chan string, path string) {
	for _, ch := range waiters {
		ch <- path
	}
}
