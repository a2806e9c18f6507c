package raw

import (
	"context"
	"errors"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fusekv/fusekv/internal/store"
)

// Executor runs a function against the store. *store.Manager implements it.
type Executor interface {
	Execute(ctx context.Context, op string, fn func(ctx context.Context, c redis.Cmdable) error) error
}

// MaxSize is the largest command or reply a buffer holds, the default
// proto-max-bulk-len of the server.
const MaxSize int64 = 512 << 20

// Observer is told the outcome of each submitted command: "ok",
// "error_reply", "invalid" or "failed".
type Observer interface {
	RawCommand(result string)
}

// doer is implemented by *redis.Client and redis.Pipeliner.
type doer interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
}

// Buffer accumulates one raw command and, once submitted, holds its
// formatted reply. All methods are safe for concurrent use.
type Buffer struct {
	name string

	mu      sync.Mutex
	data    []byte
	replied bool
}

// Name returns the handle id.
func (b *Buffer) Name() string {
	return b.name
}

// Append writes p at off. Writing to a buffer that holds a reply discards
// the reply and starts a new command. Content beyond MaxSize is rejected
// with EFBIG.
func (b *Buffer) Append(off int64, p []byte) (int, error) {
	if off < 0 {
		return 0, syscall.EINVAL
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.replied {
		off = 0
	}
	end := off + int64(len(p))
	if off > MaxSize || end > MaxSize {
		return 0, syscall.EFBIG
	}
	if b.replied {
		b.data = nil
		b.replied = false
	}

	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:], p)
	return len(p), nil
}

// Truncate resizes the buffer. Truncating to zero resets it to empty.
// Sizes beyond MaxSize are rejected with EFBIG.
func (b *Buffer) Truncate(size int64) error {
	if size > MaxSize {
		return syscall.EFBIG
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if size <= 0 {
		b.data = nil
		b.replied = false
		return nil
	}
	if size <= int64(len(b.data)) {
		b.data = b.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Pending reports whether the buffer holds an unsubmitted command.
func (b *Buffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.replied && len(b.data) > 0
}

// Size returns the current content length.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}

// ReadAt returns up to n bytes of content starting at off. Reads past the
// end return an empty slice.
func (b *Buffer) ReadAt(off int64, n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slice(b.data, off, n)
}

// Submit runs the pending command, if any, and replaces the content with
// the formatted reply. It fires at most once per written command. Error
// replies from the store become the reply text; transport failures are
// returned and leave the command pending.
func (b *Buffer) Submit(ctx context.Context, exec Executor, observer Observer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.replied || len(b.data) == 0 {
		return nil
	}

	args, err := SplitArgs(string(b.data))
	if err != nil {
		b.setReply("-ERR " + err.Error() + "\n")
		notify(observer, "invalid")
		return nil
	}
	if len(args) == 0 {
		b.data = nil
		return nil
	}

	cmdArgs := make([]interface{}, len(args))
	for i, a := range args {
		cmdArgs[i] = a
	}

	var (
		val      interface{}
		replyErr error
	)
	err = exec.Execute(ctx, "raw", func(ctx context.Context, c redis.Cmdable) error {
		d, ok := c.(doer)
		if !ok {
			return errors.New("store client does not support raw commands")
		}
		v, err := d.Do(ctx, cmdArgs...).Result()
		if err != nil && (errors.Is(err, redis.Nil) || store.IsStoreRejection(err)) {
			val, replyErr = nil, err
			return nil
		}
		val, replyErr = v, nil
		return err
	})
	if err != nil {
		notify(observer, "failed")
		return err
	}

	b.setReply(FormatReply(val, replyErr))
	if replyErr != nil && !errors.Is(replyErr, redis.Nil) {
		notify(observer, "error_reply")
	} else {
		notify(observer, "ok")
	}
	return nil
}

func (b *Buffer) setReply(reply string) {
	b.data = []byte(reply)
	b.replied = true
}

func notify(observer Observer, result string) {
	if observer != nil {
		observer.RawCommand(result)
	}
}

func slice(data []byte, off int64, n int) []byte {
	if off < 0 || off >= int64(len(data)) || n <= 0 {
		return []byte{}
	}
	end := off + int64(n)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	out := make([]byte, end-off)
	copy(out, data[off:end])
	return out
}
