package raw

import (
	"context"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekv/fusekv/internal/store"
	kverrors "github.com/fusekv/fusekv/pkg/errors"
)

type resultRecorder struct {
	mu      sync.Mutex
	results []string
}

func (r *resultRecorder) RawCommand(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

type countingExecutor struct {
	inner Executor
	calls int
}

func (e *countingExecutor) Execute(ctx context.Context, op string, fn func(context.Context, redis.Cmdable) error) error {
	e.calls++
	return e.inner.Execute(ctx, op, fn)
}

func newStore(t *testing.T) (*miniredis.Miniredis, *countingExecutor) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := store.New(store.Options{
		Client:   &redis.Options{MaxRetries: -1},
		Resolver: store.StaticResolver(mr.Addr()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, &countingExecutor{inner: m}
}

func readAll(b *Buffer) string {
	return string(b.ReadAt(0, int(b.Size())+1))
}

func TestBuffer_PingRoundTrip(t *testing.T) {
	_, exec := newStore(t)
	rec := &resultRecorder{}
	b := &Buffer{name: "x"}

	b.Append(0, []byte("PING\n"))
	assert.True(t, b.Pending())

	require.NoError(t, b.Submit(context.Background(), exec, rec))
	assert.False(t, b.Pending())
	assert.Equal(t, "+PONG\n", readAll(b))

	// A second submit or read before any further write reuses the reply.
	require.NoError(t, b.Submit(context.Background(), exec, rec))
	assert.Equal(t, "+PONG\n", readAll(b))
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, []string{"ok"}, rec.results)
}

func TestBuffer_WriteAfterReplyStartsNewCommand(t *testing.T) {
	mr, exec := newStore(t)
	b := &Buffer{name: "x"}

	b.Append(0, []byte("SET greeting hello"))
	require.NoError(t, b.Submit(context.Background(), exec, nil))
	assert.Equal(t, "+OK\n", readAll(b))
	mr.CheckGet(t, "greeting", "hello")

	b.Append(6, []byte("GET greeting"))
	assert.True(t, b.Pending())
	assert.Equal(t, "GET greeting", readAll(b), "offset resets for a new command")

	require.NoError(t, b.Submit(context.Background(), exec, nil))
	assert.Equal(t, "+hello\n", readAll(b))
	assert.Equal(t, 2, exec.calls)
}

func TestBuffer_Replies(t *testing.T) {
	mr, exec := newStore(t)
	require.NoError(t, mr.Set("str", "v"))
	mr.Lpush("list", "b")
	mr.Lpush("list", "a")

	tests := []struct {
		cmd    string
		want   string
		result string
	}{
		{"GET missing", "$-1\n", "ok"},
		{"INCR counter", ":1\n", "ok"},
		{"LRANGE list 0 -1", "*2\n+a\n+b\n", "ok"},
		{"LPUSH str x", "-WRONGTYPE Operation against a key holding the wrong kind of value\n", "error_reply"},
		{"NOSUCHCOMMAND", "-ERR unknown command", "error_reply"},
		{`SET "unterminated`, "-ERR invalid argument(s): unbalanced quotes\n", "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			rec := &resultRecorder{}
			b := &Buffer{name: "x"}
			b.Append(0, []byte(tt.cmd))
			require.NoError(t, b.Submit(context.Background(), exec, rec))
			got := readAll(b)
			assert.True(t, strings.HasPrefix(got, tt.want), "reply %q", got)
			assert.True(t, strings.HasSuffix(got, "\n"))
			assert.Equal(t, []string{tt.result}, rec.results)
		})
	}
}

func TestBuffer_EmptyCommand(t *testing.T) {
	_, exec := newStore(t)
	b := &Buffer{name: "x"}

	require.NoError(t, b.Submit(context.Background(), exec, nil))
	b.Append(0, []byte("  \n"))
	require.NoError(t, b.Submit(context.Background(), exec, nil))

	assert.Equal(t, int64(0), b.Size())
	assert.Equal(t, 0, exec.calls)
}

func TestBuffer_TransportFailureKeepsCommandPending(t *testing.T) {
	mr, exec := newStore(t)
	rec := &resultRecorder{}
	b := &Buffer{name: "x"}
	b.Append(0, []byte("PING"))

	mr.Close()
	err := b.Submit(context.Background(), exec, rec)
	require.Error(t, err)
	assert.True(t, kverrors.HasCode(err, kverrors.ErrCodeStoreUnavailable), "got %v", err)
	assert.True(t, b.Pending())
	assert.Equal(t, []string{"failed"}, rec.results)

	require.NoError(t, mr.Restart())
	require.NoError(t, b.Submit(context.Background(), exec, rec))
	assert.Equal(t, "+PONG\n", readAll(b))
}

func TestBuffer_AppendAndTruncate(t *testing.T) {
	b := &Buffer{name: "x"}

	n, err := b.Append(0, []byte("GET"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	b.Append(3, []byte(" k"))
	assert.Equal(t, "GET k", readAll(b))

	b.Append(7, []byte("z"))
	assert.Equal(t, "GET k\x00\x00z", readAll(b))

	b.Truncate(3)
	assert.Equal(t, "GET", readAll(b))

	b.Truncate(5)
	assert.Equal(t, int64(5), b.Size())

	b.Truncate(0)
	assert.Equal(t, int64(0), b.Size())
	assert.False(t, b.Pending())
}

func TestBuffer_SizeLimit(t *testing.T) {
	b := &Buffer{name: "x"}
	_, err := b.Append(0, []byte("GET k"))
	require.NoError(t, err)

	_, err = b.Append(1<<50, []byte("PING"))
	assert.Equal(t, syscall.EFBIG, err)
	_, err = b.Append(MaxSize-1, []byte("ab"))
	assert.Equal(t, syscall.EFBIG, err)
	_, err = b.Append(-1, []byte("a"))
	assert.Equal(t, syscall.EINVAL, err)

	assert.Equal(t, syscall.EFBIG, b.Truncate(1<<50))
	assert.Equal(t, syscall.EFBIG, b.Truncate(MaxSize+1))
	assert.Equal(t, "GET k", readAll(b), "rejected calls leave content untouched")
}

func TestBuffer_SizeLimitKeepsReply(t *testing.T) {
	_, exec := newStore(t)
	b := &Buffer{name: "x"}
	_, err := b.Append(0, []byte("PING"))
	require.NoError(t, err)
	require.NoError(t, b.Submit(context.Background(), exec, nil))

	// A new command always starts at offset 0, so only its length counts.
	n, err := b.Append(1<<50, []byte("ECHO hi"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "ECHO hi", readAll(b))
}

func TestBuffer_ReadAt(t *testing.T) {
	b := &Buffer{name: "x"}
	b.Append(0, []byte("hello"))

	assert.Equal(t, []byte("ell"), b.ReadAt(1, 3))
	assert.Equal(t, []byte("lo"), b.ReadAt(3, 100))
	assert.Equal(t, []byte{}, b.ReadAt(5, 10))
	assert.Equal(t, []byte{}, b.ReadAt(50, 10))
	assert.Equal(t, []byte{}, b.ReadAt(-1, 10))
}

func TestArena(t *testing.T) {
	a := NewArena()

	b, created := a.Create("cmd")
	require.True(t, created)
	assert.Equal(t, "cmd", b.Name())

	again, created := a.Create("cmd")
	assert.False(t, created)
	assert.Same(t, b, again)

	a.Create("another")
	assert.Equal(t, []string{"another", "cmd"}, a.Names())
	assert.Equal(t, 2, a.Len())

	got, ok := a.Get("cmd")
	require.True(t, ok)
	assert.Same(t, b, got)

	assert.True(t, a.Remove("cmd"))
	assert.False(t, a.Remove("cmd"))
	_, ok = a.Get("cmd")
	assert.False(t, ok)
}

func TestArena_Concurrent(t *testing.T) {
	a := NewArena()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, _ := a.Create("shared")
			b.Append(0, []byte("PING"))
			_ = a.Names()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, a.Len())
}
