package imagecache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WarmResult 记录批量预热中单个地址的结果。
type WarmResult struct {
	Result
	Err error `json:"-"`
}

// Warm 以至多 concurrency 个并发解析 sources，单个失败不影响其它地址。
// 结果顺序与 sources 一致；concurrency <= 0 表示不限并发。
func (c *Cache) Warm(ctx context.Context, sources []string, concurrency int) []WarmResult {
	results := make([]WarmResult, len(sources))
	if len(sources) == 0 {
		return results
	}

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, source := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = WarmResult{Result: Result{Source: source}, Err: err}
				return nil
			}
			res, err := c.Resolve(ctx, source)
			results[i] = WarmResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
