package store

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSentinel struct {
	addr   []string
	err    error
	closed bool
	asked  string
}

func (f *fakeSentinel) GetMasterAddrByName(_ context.Context, name string) *redis.StringSliceCmd {
	f.asked = name
	return redis.NewStringSliceResult(f.addr, f.err)
}

func (f *fakeSentinel) Close() error {
	f.closed = true
	return nil
}

func newFakeResolver(sentinels map[string]*fakeSentinel, order ...string) *SentinelResolver {
	opts := make([]*redis.Options, 0, len(order))
	for _, addr := range order {
		opts = append(opts, &redis.Options{Addr: addr})
	}
	r := NewSentinelResolver("mymaster", opts)
	r.dial = func(o *redis.Options) sentinelQuerier {
		return sentinels[o.Addr]
	}
	return r
}

func TestSentinelResolver_FirstAnswerWins(t *testing.T) {
	down := &fakeSentinel{err: errors.New("connection refused")}
	first := &fakeSentinel{addr: []string{"10.0.0.5", "6379"}}
	second := &fakeSentinel{addr: []string{"10.0.0.6", "6379"}}
	r := newFakeResolver(map[string]*fakeSentinel{
		"s1:26379": down,
		"s2:26379": first,
		"s3:26379": second,
	}, "s1:26379", "s2:26379", "s3:26379")

	addr, err := r.ResolveMaster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", addr)
	assert.Equal(t, "mymaster", first.asked)
	assert.True(t, down.closed)
	assert.True(t, first.closed)
	assert.Empty(t, second.asked, "later sentinels are not consulted")
}

func TestSentinelResolver_AllFail(t *testing.T) {
	r := newFakeResolver(map[string]*fakeSentinel{
		"s1:26379": {err: errors.New("timeout")},
		"s2:26379": {addr: []string{"only-host"}},
	}, "s1:26379", "s2:26379")

	_, err := r.ResolveMaster(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed master address")
}

func TestSentinelResolver_NoSentinels(t *testing.T) {
	_, err := NewSentinelResolver("mymaster", nil).ResolveMaster(context.Background())
	assert.Error(t, err)
}

func TestSentinelResolver_CanceledContext(t *testing.T) {
	r := newFakeResolver(map[string]*fakeSentinel{
		"s1:26379": {addr: []string{"10.0.0.5", "6379"}},
	}, "s1:26379")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ResolveMaster(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
