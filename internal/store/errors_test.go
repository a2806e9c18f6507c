package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	kverrors "github.com/fusekv/fusekv/pkg/errors"
)

// replyError mimics an error reply decoded by go-redis.
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestIsFailoverError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"redis nil", redis.Nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"closed client", redis.ErrClosed, true},
		{"refused", syscall.ECONNREFUSED, true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"readonly replica", replyError("READONLY You can't write against a read only replica."), true},
		{"masterdown", replyError("MASTERDOWN Link with MASTER is down"), true},
		{"loading", replyError("LOADING Redis is loading the dataset in memory"), true},
		{"wrongtype", replyError("WRONGTYPE Operation against a key holding the wrong kind of value"), false},
		{"unknown command", replyError("ERR unknown command 'FOO'"), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFailoverError(tt.err))
		})
	}
}

func TestIsStoreRejection(t *testing.T) {
	assert.True(t, IsStoreRejection(replyError("ERR unknown command 'FOO'")))
	assert.False(t, IsStoreRejection(replyError("READONLY replica")))
	assert.False(t, IsStoreRejection(redis.Nil))
	assert.False(t, IsStoreRejection(io.EOF))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("get", nil))
	assert.ErrorIs(t, classify("get", redis.Nil), redis.Nil)

	nf := kverrors.NotFound("/kv/x")
	assert.Same(t, nf, classify("get", nf))

	err := classify("set", io.EOF)
	assert.True(t, kverrors.HasCode(err, kverrors.ErrCodeStoreUnavailable))

	err = classify("lpush", replyError("WRONGTYPE"))
	assert.True(t, kverrors.HasCode(err, kverrors.ErrCodeStoreError))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "failover_in_progress", StateFailoverInProgress.String())
	assert.Equal(t, "unknown", State(42).String())
}
