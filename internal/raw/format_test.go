package raw

import (
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestFormatReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		val  interface{}
		err  error
		want string
	}{
		{"status", "PONG", nil, "+PONG\n"},
		{"integer", int64(42), nil, ":42\n"},
		{"negative integer", int64(-2), nil, ":-2\n"},
		{"double", 3.5, nil, ",3.5\n"},
		{"true", true, nil, "#t\n"},
		{"false", false, nil, "#f\n"},
		{"nil value", nil, nil, "$-1\n"},
		{"nil reply", nil, redis.Nil, "$-1\n"},
		{"error reply", nil, errors.New("ERR unknown command 'FOO'"), "-ERR unknown command 'FOO'\n"},
		{"multi-line error", nil, errors.New("ERR a\nb"), "-ERR a b\n"},
		{"empty array", []interface{}{}, nil, "*0\n"},
		{
			name: "array",
			val:  []interface{}{"a", int64(1), nil},
			want: "*3\n+a\n:1\n$-1\n",
		},
		{
			name: "nested array",
			val:  []interface{}{"0", []interface{}{"k1", "k2"}},
			want: "*2\n+0\n*2\n+k1\n+k2\n",
		},
		{
			name: "map",
			val:  map[interface{}]interface{}{"b": int64(2), "a": "x"},
			want: "%2\n+a\n+x\n+b\n:2\n",
		},
		{
			name: "array with error element",
			val:  []interface{}{"OK", errors.New("WRONGTYPE bad")},
			want: "*2\n+OK\n-WRONGTYPE bad\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatReply(tt.val, tt.err))
		})
	}
}
