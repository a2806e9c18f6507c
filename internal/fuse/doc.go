/*
Package fuse exposes the fusekv dispatcher to the kernel through
github.com/hanwen/go-fuse/v2.

The package is thin transport glue. Each node remembers the mount-relative
path it was looked up under and forwards every kernel request to
dispatch.Dispatcher together with the calling uid and gid. Results come
back as dispatch.Attr and dispatch.DirEntry values, and errors are turned
into errno values with errors.Errno; nothing else crosses the boundary.

# Node Tree

	/                 DirectoryNode
	├── kv            DirectoryNode   key listing
	│   └── <key>     FileNode        one string value
	├── kv:limit=N    DirectoryNode   listing with an explicit cap
	├── kv:help       FileNode
	├── raw           DirectoryNode   raw command files
	│   └── <name>    FileNode
	└── raw:help      FileNode

Inode numbers are chosen by the dispatcher, so the same key reached through
/kv and /kv:limit=N resolves to one inode.

# File Handles

Every open returns a FileHandle with FOPEN_DIRECT_IO. Values can change
behind the mount, and raw command files change size when their reply
arrives, so page caching is never used. Flush and Release both ask the
dispatcher to submit a pending raw command; the dispatcher makes the second
call a no-op.

# Mounting

MountManager wraps fs.Mount:

	fsys := fuse.NewFileSystem(dispatcher, logger)
	mm := fuse.NewMountManager(fsys, fuse.NewMountConfig(cfg, mountpoint), logger)
	if err := mm.Mount(ctx); err != nil {
		return err
	}
	defer mm.Unmount()
	mm.Wait()

Read-only configurations also mount with the "ro" option, so the kernel
rejects writes before they reach the dispatcher. allow_other is passed
through and makes the dispatcher authorize the real caller instead of the
configured owner.
*/
package fuse
