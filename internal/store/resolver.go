package store

import (
	"context"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
)

// MasterResolver returns the address of the current master.
type MasterResolver interface {
	ResolveMaster(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to MasterResolver.
type ResolverFunc func(ctx context.Context) (string, error)

// ResolveMaster implements MasterResolver.
func (f ResolverFunc) ResolveMaster(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticResolver always resolves to the same address (single-server mode).
type StaticResolver string

// ResolveMaster implements MasterResolver.
func (s StaticResolver) ResolveMaster(context.Context) (string, error) {
	return string(s), nil
}

// sentinelQuerier is the subset of *redis.SentinelClient used for discovery.
type sentinelQuerier interface {
	GetMasterAddrByName(ctx context.Context, name string) *redis.StringSliceCmd
	Close() error
}

// SentinelResolver asks each sentinel in order for the master of a named
// group and returns the first answer.
type SentinelResolver struct {
	masterName string
	sentinels  []*redis.Options
	dial       func(opts *redis.Options) sentinelQuerier
}

// NewSentinelResolver creates a resolver over the given sentinel endpoints.
func NewSentinelResolver(masterName string, sentinels []*redis.Options) *SentinelResolver {
	return &SentinelResolver{
		masterName: masterName,
		sentinels:  sentinels,
		dial: func(opts *redis.Options) sentinelQuerier {
			return redis.NewSentinelClient(opts)
		},
	}
}

// ResolveMaster implements MasterResolver.
func (r *SentinelResolver) ResolveMaster(ctx context.Context) (string, error) {
	if len(r.sentinels) == 0 {
		return "", fmt.Errorf("no sentinels configured")
	}

	var lastErr error
	for _, opts := range r.sentinels {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		client := r.dial(opts)
		addr, err := client.GetMasterAddrByName(ctx, r.masterName).Result()
		_ = client.Close()

		if err != nil {
			lastErr = fmt.Errorf("sentinel %s: %w", opts.Addr, err)
			continue
		}
		if len(addr) != 2 {
			lastErr = fmt.Errorf("sentinel %s: malformed master address %v", opts.Addr, addr)
			continue
		}
		return net.JoinHostPort(addr[0], addr[1]), nil
	}
	return "", fmt.Errorf("all sentinels failed for master %q: %w", r.masterName, lastErr)
}
