// Package listing enumerates store keys for directory listings under a cap.
package listing

import (
	"context"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fusekv/fusekv/pkg/utils"
)

// Unlimited disables the listing cap.
const Unlimited int64 = -1

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 256

// Executor runs a function against the store. *store.Manager implements it.
type Executor interface {
	Execute(ctx context.Context, op string, fn func(ctx context.Context, c redis.Cmdable) error) error
}

// Observer is told when a listing stopped at its cap.
type Observer interface {
	ListingTruncated()
}

// Limiter drives SCAN enumerations. Cursor state is local to each call.
type Limiter struct {
	store    Executor
	logger   *utils.StructuredLogger
	observer Observer
}

// NewLimiter creates a Limiter. logger and observer may be nil.
func NewLimiter(store Executor, logger *utils.StructuredLogger, observer Observer) *Limiter {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Limiter{
		store:    store,
		logger:   logger.WithComponent("listing"),
		observer: observer,
	}
}

// EffectiveCap picks the listing cap: a per-request override wins over the
// matching permission rule, which wins over the global setting.
func EffectiveCap(override, pattern *int64, global int64) int64 {
	if override != nil {
		return *override
	}
	if pattern != nil {
		return *pattern
	}
	return global
}

// List returns up to limit distinct key names, sorted. A limit of 0 returns
// an empty listing without touching the store; Unlimited enumerates the
// whole key space. Names that cannot be directory entries are skipped.
func (l *Limiter) List(ctx context.Context, limit int64) ([]string, error) {
	if limit == 0 {
		return []string{}, nil
	}

	var (
		names     []string
		truncated bool
	)
	err := l.store.Execute(ctx, "scan", func(ctx context.Context, c redis.Cmdable) error {
		// A retried attempt starts over with a fresh cursor.
		names = names[:0]
		truncated = false
		seen := make(map[string]struct{})

		var cursor uint64
		for {
			keys, next, err := c.Scan(ctx, cursor, "", scanBatch).Result()
			if err != nil {
				return err
			}
			for _, key := range keys {
				if !ValidName(key) {
					continue
				}
				if _, dup := seen[key]; dup {
					continue
				}
				if limit != Unlimited && int64(len(names)) >= limit {
					truncated = true
					return nil
				}
				seen[key] = struct{}{}
				names = append(names, key)
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
			if limit != Unlimited && int64(len(names)) >= limit {
				truncated = true
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if truncated {
		l.logger.Debug("Listing truncated", map[string]interface{}{
			"limit": limit,
		})
		if l.observer != nil {
			l.observer.ListingTruncated()
		}
	}

	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// ValidName reports whether a key can be presented as a directory entry.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsRune(name, '/') && !strings.ContainsRune(name, 0)
}
