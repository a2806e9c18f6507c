package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	kverrors "github.com/fusekv/fusekv/pkg/errors"
)

// failoverPrefixes are server replies that mean the node cannot currently
// serve as master.
var failoverPrefixes = []string{"READONLY", "MASTERDOWN", "LOADING"}

// IsFailoverError reports whether err means the current master connection
// is unusable, as opposed to the store rejecting the command itself.
func IsFailoverError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		for _, prefix := range failoverPrefixes {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
	}
	return false
}

// IsStoreRejection reports whether err is an error reply from the store,
// such as WRONGTYPE or an unknown command.
func IsStoreRejection(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || IsFailoverError(err) {
		return false
	}
	var redisErr redis.Error
	return errors.As(err, &redisErr)
}

// classify maps an error returned by an operation body onto the fusekv
// taxonomy. Errors that already carry a code, redis.Nil and context errors
// pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var kvErr *kverrors.KVError
	if errors.As(err, &kvErr) {
		return err
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsFailoverError(err) {
		return kverrors.StoreUnavailable("store connection failed", err).
			WithComponent("store").
			WithOperation(op)
	}
	return kverrors.StoreError("store rejected command", err).
		WithComponent("store").
		WithOperation(op)
}
