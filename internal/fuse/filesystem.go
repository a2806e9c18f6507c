package fuse

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fusekv/fusekv/internal/dispatch"
	"github.com/fusekv/fusekv/internal/perm"
	kverrors "github.com/fusekv/fusekv/pkg/errors"
	"github.com/fusekv/fusekv/pkg/utils"
)

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// Operations is the part of the dispatcher the node tree uses.
// *dispatch.Dispatcher implements it.
type Operations interface {
	Getattr(ctx context.Context, who perm.Principal, path string) (dispatch.Attr, error)
	Lookup(ctx context.Context, who perm.Principal, parent, name string) (dispatch.Attr, error)
	Readdir(ctx context.Context, who perm.Principal, path string) ([]dispatch.DirEntry, error)
	Open(ctx context.Context, who perm.Principal, path string, flags uint32) error
	Read(ctx context.Context, who perm.Principal, path string, off int64, size int) ([]byte, error)
	Write(ctx context.Context, who perm.Principal, path string, off int64, data []byte) (int, error)
	Create(ctx context.Context, who perm.Principal, path string) (dispatch.Attr, error)
	Truncate(ctx context.Context, who perm.Principal, path string, size int64) error
	Unlink(ctx context.Context, who perm.Principal, path string) error
	Flush(ctx context.Context, path string) error
}

// FileSystem is the root of the go-fuse node tree.
type FileSystem struct {
	ops    Operations
	logger *utils.StructuredLogger

	// Kernel cache lifetimes reported with every entry and attribute.
	attrTimeout  time.Duration
	entryTimeout time.Duration
}

// NewFileSystem creates a filesystem that forwards every request to ops.
func NewFileSystem(ops Operations, logger *utils.StructuredLogger) *FileSystem {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &FileSystem{
		ops:          ops,
		logger:       logger.WithComponent("fuse"),
		attrTimeout:  time.Second,
		entryTimeout: time.Second,
	}
}

// SetTimeouts sets the kernel cache lifetimes.
func (fsys *FileSystem) SetTimeouts(attr, entry time.Duration) {
	fsys.attrTimeout = attr
	fsys.entryTimeout = entry
}

// Root returns the root inode
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{
		fsys: fsys,
		path: "/",
	}
}

// caller returns the identity of the process behind a request. Requests
// without one, such as release, are attributed to this process.
func caller(ctx context.Context) perm.Principal {
	if c, ok := fuse.FromContext(ctx); ok && c != nil {
		return perm.Principal{UID: c.Uid, GID: c.Gid}
	}
	return perm.Principal{
		UID: safeIntToUint32(os.Getuid()),
		GID: safeIntToUint32(os.Getgid()),
	}
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func errno(err error) syscall.Errno {
	return kverrors.Errno(err)
}

// fillAttr copies dispatcher metadata into a kernel attribute block.
func fillAttr(out *fuse.Attr, a dispatch.Attr) {
	out.Ino = a.Ino
	out.Mode = a.Mode
	out.Size = a.Size
	out.Blocks = (a.Size + 511) / 512
	out.Blksize = 4096
	out.Nlink = a.Nlink
	out.Uid = a.UID
	out.Gid = a.GID
	t := a.Time
	out.SetTimes(&t, &t, &t)
}

func (fsys *FileSystem) getattr(ctx context.Context, path string, out *fuse.AttrOut) syscall.Errno {
	attr, err := fsys.ops.Getattr(ctx, caller(ctx), path)
	if err != nil {
		return errno(err)
	}
	fillAttr(&out.Attr, attr)
	out.SetTimeout(fsys.attrTimeout)
	return 0
}

// newChild builds the node for an entry described by attr.
func (fsys *FileSystem) newChild(ctx context.Context, parent *fs.Inode, path string, attr dispatch.Attr) *fs.Inode {
	if attr.IsDir() {
		return parent.NewInode(ctx, &DirectoryNode{fsys: fsys, path: path}, fs.StableAttr{
			Mode: fuse.S_IFDIR,
			Ino:  attr.Ino,
		})
	}
	return parent.NewInode(ctx, &FileNode{fsys: fsys, path: path}, fs.StableAttr{
		Mode: fuse.S_IFREG,
		Ino:  attr.Ino,
	})
}

// DirectoryNode represents a directory in the filesystem
type DirectoryNode struct {
	fs.Inode
	fsys *FileSystem
	path string
}

var (
	_ fs.NodeGetattrer = (*DirectoryNode)(nil)
	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeUnlinker  = (*DirectoryNode)(nil)
	_ fs.NodeStatfser  = (*DirectoryNode)(nil)
)

// Getattr gets directory attributes
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return n.fsys.getattr(ctx, n.path, out)
}

// Lookup looks up a child node by name
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, err := n.fsys.ops.Lookup(ctx, caller(ctx), n.path, name)
	if err != nil {
		return nil, errno(err)
	}

	fillAttr(&out.Attr, attr)
	out.SetEntryTimeout(n.fsys.entryTimeout)
	out.SetAttrTimeout(n.fsys.attrTimeout)
	return n.fsys.newChild(ctx, n.EmbeddedInode(), joinPath(n.path, name), attr), 0
}

// Readdir reads directory contents
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	listed, err := n.fsys.ops.Readdir(ctx, caller(ctx), n.path)
	if err != nil {
		return nil, errno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(listed))
	for _, e := range listed {
		entries = append(entries, fuse.DirEntry{
			Name: e.Name,
			Mode: e.Mode,
			Ino:  e.Ino,
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Create creates a new file
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	path := joinPath(n.path, name)
	who := caller(ctx)

	attr, err := n.fsys.ops.Create(ctx, who, path)
	if err != nil {
		return nil, nil, 0, kverrors.Errno(err)
	}
	if flags&syscall.O_TRUNC != 0 && attr.Size > 0 {
		if err := n.fsys.ops.Truncate(ctx, who, path, 0); err != nil {
			return nil, nil, 0, kverrors.Errno(err)
		}
		attr.Size = 0
	}

	fillAttr(&out.Attr, attr)
	out.SetEntryTimeout(n.fsys.entryTimeout)
	out.SetAttrTimeout(n.fsys.attrTimeout)

	node = n.fsys.newChild(ctx, n.EmbeddedInode(), path, attr)
	return node, &FileHandle{fsys: n.fsys, path: path}, fuse.FOPEN_DIRECT_IO, 0
}

// Unlink removes a file
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(n.fsys.ops.Unlink(ctx, caller(ctx), joinPath(n.path, name)))
}

// Statfs reports an empty filesystem; the store has no notion of capacity.
func (n *DirectoryNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = 4096
	out.Frsize = 4096
	out.NameLen = 255
	return 0
}

// FileNode represents a file in the filesystem
type FileNode struct {
	fs.Inode
	fsys *FileSystem
	path string
}

var (
	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeSetattrer = (*FileNode)(nil)
	_ fs.NodeOpener    = (*FileNode)(nil)
)

// Getattr gets file attributes
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return f.fsys.getattr(ctx, f.path, out)
}

// Setattr applies size changes. Ownership, mode and time changes are
// derived from configuration and silently ignored.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := f.fsys.ops.Truncate(ctx, caller(ctx), f.path, int64(size)); err != nil {
			return errno(err)
		}
	}
	return f.fsys.getattr(ctx, f.path, out)
}

// Open opens a file
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if err := f.fsys.ops.Open(ctx, caller(ctx), f.path, flags); err != nil {
		return nil, 0, kverrors.Errno(err)
	}
	return &FileHandle{fsys: f.fsys, path: f.path}, fuse.FOPEN_DIRECT_IO, 0
}

// FileHandle represents an open file handle
type FileHandle struct {
	fsys *FileSystem
	path string
}

var (
	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileWriter   = (*FileHandle)(nil)
	_ fs.FileFlusher  = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
)

// Read reads data from the file
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := fh.fsys.ops.Read(ctx, caller(ctx), fh.path, off, len(dest))
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(data), 0
}

// Write writes data to the file
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	n, err := fh.fsys.ops.Write(ctx, caller(ctx), fh.path, off, data)
	if err != nil {
		return 0, kverrors.Errno(err)
	}
	return safeIntToUint32(n), 0
}

// Flush submits any pending raw command
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return errno(fh.fsys.ops.Flush(ctx, fh.path))
}

// Release releases the file handle
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	if err := fh.fsys.ops.Flush(ctx, fh.path); err != nil {
		fh.fsys.logger.Warn("Release could not submit pending command", map[string]interface{}{
			"path":  fh.path,
			"error": err,
		})
	}
	return 0
}
