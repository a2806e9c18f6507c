package dispatch

import (
	"context"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// keySize returns the byte length of a string key, or 0 for keys of other
// types. An absent key yields redis.Nil.
func (d *Dispatcher) keySize(ctx context.Context, key string) (int64, error) {
	var size int64
	err := d.store.Execute(ctx, "stat", func(ctx context.Context, c redis.Cmdable) error {
		var (
			typ    *redis.StatusCmd
			strlen *redis.IntCmd
		)
		// STRLEN fails with WRONGTYPE on non-string keys; each reply is
		// inspected on its own.
		_, _ = c.Pipelined(ctx, func(p redis.Pipeliner) error {
			typ = p.Type(ctx, key)
			strlen = p.StrLen(ctx, key)
			return nil
		})
		if err := typ.Err(); err != nil {
			return err
		}
		switch typ.Val() {
		case "none":
			return redis.Nil
		case "string":
			size = strlen.Val()
			return strlen.Err()
		default:
			size = 0
			return nil
		}
	})
	return size, err
}

func (d *Dispatcher) keyExists(ctx context.Context, key string) error {
	return d.store.Execute(ctx, "exists", func(ctx context.Context, c redis.Cmdable) error {
		n, err := c.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return redis.Nil
		}
		return nil
	})
}

// readKey returns the byte range [off, off+size) of a value. The existence
// check rides in the same round trip so an empty range can be told apart
// from a missing key.
func (d *Dispatcher) readKey(ctx context.Context, key string, off int64, size int) ([]byte, error) {
	if off < 0 || size <= 0 {
		return []byte{}, d.keyExists(ctx, key)
	}

	var data []byte
	err := d.store.Execute(ctx, "getrange", func(ctx context.Context, c redis.Cmdable) error {
		var (
			get    *redis.StringCmd
			exists *redis.IntCmd
		)
		_, _ = c.Pipelined(ctx, func(p redis.Pipeliner) error {
			exists = p.Exists(ctx, key)
			get = p.GetRange(ctx, key, off, off+int64(size)-1)
			return nil
		})
		if err := exists.Err(); err != nil {
			return err
		}
		if exists.Val() == 0 {
			return redis.Nil
		}
		val, err := get.Result()
		if err != nil {
			return err
		}
		data = []byte(val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// writeKey replaces the value when writing from the start and lets the
// server merge partial writes otherwise.
func (d *Dispatcher) writeKey(ctx context.Context, key string, off int64, data []byte) error {
	if off == 0 {
		return d.store.Execute(ctx, "set", func(ctx context.Context, c redis.Cmdable) error {
			return c.Set(ctx, key, data, 0).Err()
		})
	}
	return d.store.Execute(ctx, "setrange", func(ctx context.Context, c redis.Cmdable) error {
		return c.SetRange(ctx, key, off, string(data)).Err()
	})
}

// createKey sets an empty value unless the key already exists.
func (d *Dispatcher) createKey(ctx context.Context, key string) error {
	return d.store.Execute(ctx, "setnx", func(ctx context.Context, c redis.Cmdable) error {
		return c.SetNX(ctx, key, "", 0).Err()
	})
}

// resizeScript shrinks or zero-pads an existing string value in place and
// returns 0 when the key does not exist. Growth happens on the server, so
// the daemon never holds the padded value.
var resizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local size = tonumber(ARGV[1])
local len = redis.call('STRLEN', KEYS[1])
if size == 0 then
	redis.call('SET', KEYS[1], '')
elseif size < len then
	redis.call('SET', KEYS[1], redis.call('GETRANGE', KEYS[1], 0, size - 1))
elseif size > len then
	redis.call('SETRANGE', KEYS[1], size - 1, '\0')
end
return 1
`)

// truncateKey resizes an existing value, padding with zero bytes. It never
// creates a key.
func (d *Dispatcher) truncateKey(ctx context.Context, key string, size int64) error {
	return d.store.Execute(ctx, "truncate", func(ctx context.Context, c redis.Cmdable) error {
		n, err := resizeScript.Run(ctx, c, []string{key}, size).Int64()
		if err != nil {
			return err
		}
		if n == 0 {
			return redis.Nil
		}
		return nil
	})
}

func (d *Dispatcher) deleteKey(ctx context.Context, key string) error {
	return d.store.Execute(ctx, "del", func(ctx context.Context, c redis.Cmdable) error {
		n, err := c.Del(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return redis.Nil
		}
		return nil
	})
}

// listKeys enumerates keys under limit and drops names that disappeared
// between the scan and the type lookup.
func (d *Dispatcher) listKeys(ctx context.Context, limit int64) ([]DirEntry, error) {
	names, err := d.listing.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []DirEntry{}, nil
	}

	types := make([]*redis.StatusCmd, len(names))
	err = d.store.Execute(ctx, "type", func(ctx context.Context, c redis.Cmdable) error {
		_, err := c.Pipelined(ctx, func(p redis.Pipeliner) error {
			for i, name := range names {
				types[i] = p.Type(ctx, name)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	entries := make([]DirEntry, 0, len(names))
	for i, name := range names {
		if types[i].Val() == "none" {
			continue
		}
		entries = append(entries, DirEntry{
			Name: name,
			Ino:  keyInode(name),
			Mode: syscall.S_IFREG,
		})
	}
	return entries, nil
}
