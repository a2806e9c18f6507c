package dispatch

import (
	"context"
	"syscall"

	"github.com/fusekv/fusekv/internal/route"
	kverrors "github.com/fusekv/fusekv/pkg/errors"
)

// readRaw submits a pending command before serving the reply, so the first
// read after a write sees the store's answer.
func (d *Dispatcher) readRaw(ctx context.Context, r route.Route, off int64, size int) ([]byte, error) {
	buf, ok := d.arena.Get(r.Handle)
	if !ok {
		return nil, kverrors.NotFound(r.Path())
	}
	if buf.Pending() {
		if err := buf.Submit(ctx, d.store, d.rawObserver); err != nil {
			return nil, err
		}
	}
	return buf.ReadAt(off, size), nil
}

func (d *Dispatcher) writeRaw(r route.Route, off int64, data []byte) (int, error) {
	buf, ok := d.arena.Get(r.Handle)
	if !ok {
		return 0, kverrors.NotFound(r.Path())
	}
	return buf.Append(off, data)
}

func (d *Dispatcher) listRaw() []DirEntry {
	names := d.arena.Names()
	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, DirEntry{
			Name: name,
			Ino:  rawInode(name),
			Mode: syscall.S_IFREG,
		})
	}
	return entries
}
