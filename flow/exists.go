package flow

import (
	"context"
	"fmt"
	"sync"
)

// existsCache memoizes existence checks for the lifetime of a run.
//
// A path's existence is assumed not to change during a single resolution
// pass, and the same expected-output path may be probed once while deciding
// and again while synthesizing a reused output, so every path hits the
// underlying checker at most once.
type existsCache struct {
	checker ExistenceChecker
	metrics *Metrics

	mu      sync.Mutex
	results map[string]bool
}

func newExistsCache(checker ExistenceChecker, metrics *Metrics) *existsCache {
	return &existsCache{
		checker: checker,
		metrics: metrics,
		results: make(map[string]bool),
	}
}

// Exists returns the cached result for path, probing the underlying checker
// on first query. Checker errors are not cached and surface as fatal
// EXISTS_CHECK_FAILED errors to the caller.
func (c *existsCache) Exists(ctx context.Context, path string) (bool, error) {
	c.mu.Lock()
	if found, ok := c.results[path]; ok {
		c.mu.Unlock()
		c.metrics.observeExistsCacheHit()
		return found, nil
	}
	c.mu.Unlock()

	found, err := c.checker.Exists(ctx, path)
	if err != nil {
		return false, &WorkflowError{
			Message: fmt.Sprintf("existence check failed for %s: %v", path, err),
			Code:    CodeExistsCheck,
		}
	}
	c.metrics.observeExistsCheck(found)

	c.mu.Lock()
	c.results[path] = found
	c.mu.Unlock()
	return found, nil
}
