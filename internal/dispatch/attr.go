package dispatch

import (
	"strconv"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fusekv/fusekv/internal/perm"
	"github.com/fusekv/fusekv/internal/route"
)

// Inode ranges. Fixed entries sit below rawInodeBase; raw handles and keys
// are hashed into disjoint ranges so a raw name never collides with a key.
const (
	InodeRoot    uint64 = 1
	InodeRawDir  uint64 = 2
	InodeRawHelp uint64 = 3
	InodeKvDir   uint64 = 4096
	InodeKvHelp  uint64 = 4097

	rawInodeBase uint64 = 8192
	rawInodeEnd  uint64 = 400_000_000_000_000
	kvInodeBase  uint64 = rawInodeEnd
	kvInodeEnd   uint64 = 500_000_000_000_000
)

// Attr is the synthesized metadata of one path.
type Attr struct {
	Ino   uint64
	Mode  uint32
	Size  uint64
	Nlink uint32
	UID   uint32
	GID   uint32
	Time  time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// DirEntry is one readdir result.
type DirEntry struct {
	Name string
	Ino  uint64
	Mode uint32
}

// Inode returns the stable inode number of a route. Listings opened with a
// limit override get their own directory inode so they are not merged with
// the plain /kv directory.
func Inode(r route.Route) uint64 {
	switch r.Kind {
	case route.KindRoot:
		return InodeRoot
	case route.KindRawDirectory:
		return InodeRawDir
	case route.KindKvDirectory:
		if r.Options.Limit != nil {
			return fold("/kv:limit="+strconv.FormatInt(*r.Options.Limit, 10), kvInodeBase, kvInodeEnd)
		}
		return InodeKvDir
	case route.KindHelp:
		if r.Namespace == route.NamespaceRaw {
			return InodeRawHelp
		}
		return InodeKvHelp
	case route.KindRawEntry:
		return rawInode(r.Handle)
	case route.KindKvEntry:
		return keyInode(r.Key)
	default:
		return 0
	}
}

func keyInode(key string) uint64 {
	return fold("/kv/"+key, kvInodeBase, kvInodeEnd)
}

func rawInode(handle string) uint64 {
	return fold("/raw/"+handle, rawInodeBase, rawInodeEnd)
}

func fold(path string, lo, hi uint64) uint64 {
	return lo + xxhash.Sum64String(path)%(hi-lo)
}

func (d *Dispatcher) dirAttr(r route.Route, dec perm.Decision) Attr {
	return Attr{
		Ino:   Inode(r),
		Mode:  syscall.S_IFDIR | dec.Mode,
		Nlink: 2,
		UID:   dec.UID,
		GID:   dec.GID,
		Time:  d.mountTime,
	}
}

func (d *Dispatcher) fileAttr(r route.Route, dec perm.Decision, size int64) Attr {
	if size < 0 {
		size = 0
	}
	return Attr{
		Ino:   Inode(r),
		Mode:  syscall.S_IFREG | dec.Mode,
		Size:  uint64(size),
		Nlink: 1,
		UID:   dec.UID,
		GID:   dec.GID,
		Time:  d.mountTime,
	}
}
