// Package dispatch translates filesystem operations on fusekv paths into
// store requests.
//
// Every call passes through the same pipeline: the path is classified, the
// namespace and read-only policy are applied, the caller is authorized
// against the permission rules, and only then is the operation translated.
// The dispatcher knows nothing about FUSE; the transport passes plain
// paths and caller identities and maps returned errors with errors.Errno.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fusekv/fusekv/internal/config"
	"github.com/fusekv/fusekv/internal/listing"
	"github.com/fusekv/fusekv/internal/perm"
	"github.com/fusekv/fusekv/internal/raw"
	"github.com/fusekv/fusekv/internal/route"
	kverrors "github.com/fusekv/fusekv/pkg/errors"
	"github.com/fusekv/fusekv/pkg/utils"
)

// Store runs operations against the current master. *store.Manager
// implements it.
type Store interface {
	Execute(ctx context.Context, op string, fn func(ctx context.Context, c redis.Cmdable) error) error
}

// Observer receives per-operation outcomes.
type Observer interface {
	OperationCompleted(op string, err error, elapsed time.Duration)
	BytesTransferred(direction string, n int)
}

// Options holds the optional collaborators of a Dispatcher.
type Options struct {
	Logger          *utils.StructuredLogger
	Observer        Observer
	ListingObserver listing.Observer
	RawObserver     raw.Observer

	// MountTime is reported as every timestamp. Defaults to now.
	MountTime time.Time
}

// MaxFileSize is the largest size a file can be written or truncated to.
// It matches the largest string value the store accepts.
const MaxFileSize = raw.MaxSize

// Dispatcher is safe for concurrent use. It holds no lock on the request
// path; raw buffers serialize themselves.
type Dispatcher struct {
	cfg         *config.Config
	store       Store
	perms       *perm.Resolver
	listing     *listing.Limiter
	arena       *raw.Arena
	logger      *utils.StructuredLogger
	observer    Observer
	rawObserver raw.Observer
	mountTime   time.Time
}

// New creates a Dispatcher over a loaded configuration.
func New(cfg *config.Config, store Store, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.MountTime.IsZero() {
		opts.MountTime = time.Now()
	}

	return &Dispatcher{
		cfg:         cfg,
		store:       store,
		perms:       perm.NewResolver(cfg),
		listing:     listing.NewLimiter(store, opts.Logger, opts.ListingObserver),
		arena:       raw.NewArena(),
		logger:      opts.Logger.WithComponent("dispatch"),
		observer:    opts.Observer,
		rawObserver: opts.RawObserver,
		mountTime:   opts.MountTime,
	}
}

// MountTime returns the timestamp reported for every entry.
func (d *Dispatcher) MountTime() time.Time {
	return d.mountTime
}

// request describes what an operation needs from the policy gate.
type request struct {
	op       string
	access   perm.Access
	mutation bool
}

// admit applies namespace policy, the read-only gate and the permission
// check to a classified route. Read-only violations win over permission
// denials.
func (d *Dispatcher) admit(who perm.Principal, r route.Route, req request) (perm.Decision, error) {
	if r.Kind == route.KindInvalid {
		return perm.Decision{}, kverrors.NotFound(r.Path())
	}
	if r.IsRaw() && d.cfg.DisableRaw {
		return perm.Decision{}, kverrors.NotFound(r.Path())
	}
	if req.mutation && d.cfg.ReadOnly {
		return perm.Decision{}, kverrors.ReadOnly(r.Path())
	}

	dec := d.decision(r)
	if !perm.Allowed(dec, d.principal(who), req.access) {
		return perm.Decision{}, kverrors.PermissionDenied(r.Path())
	}
	return dec, nil
}

// decision resolves the permission rule for a route. Help files are never
// writable.
func (d *Dispatcher) decision(r route.Route) perm.Decision {
	dec := d.perms.Resolve(r.Path())
	if r.Kind == route.KindHelp {
		dec.Mode &^= 0o222
	}
	return dec
}

// principal returns the identity to authorize. Without allow_other only
// the mounting user can reach the filesystem, so the configured owner
// stands in for the caller.
func (d *Dispatcher) principal(who perm.Principal) perm.Principal {
	if d.cfg.AllowOther {
		return who
	}
	return perm.Principal{UID: d.cfg.UID, GID: d.cfg.GID}
}

// detach lets store calls finish after the caller abandons the request.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// finish records the outcome of an operation and normalizes its error.
func (d *Dispatcher) finish(op string, r route.Route, path string, start time.Time, err error) error {
	err = d.normalize(op, r, path, err)
	if d.observer != nil {
		d.observer.OperationCompleted(op, err, time.Since(start))
	}
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{
		"operation": op,
		"path":      path,
		"error":     err,
	}
	switch kverrors.CodeOf(err) {
	case kverrors.ErrCodeNotFound, kverrors.ErrCodeInvalidPath:
		d.logger.Trace("Operation failed", fields)
	case kverrors.ErrCodePermissionDenied, kverrors.ErrCodeReadOnly:
		d.logger.Debug("Operation rejected", fields)
	default:
		d.logger.Warn("Operation failed", fields)
	}
	return err
}

// normalize turns store-level sentinels into coded errors carrying the
// dispatch operation.
func (d *Dispatcher) normalize(op string, r route.Route, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return kverrors.NotFound(r.Path()).WithComponent("dispatch").WithOperation(op)
	}
	var kvErr *kverrors.KVError
	if errors.As(err, &kvErr) {
		if kvErr.Component == "" {
			kvErr.WithComponent("dispatch").WithOperation(op)
		}
		if kvErr.Path == "" {
			kvErr.WithPath(path)
		}
		return kvErr
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return err
	}
	return kverrors.NewError(kverrors.ErrCodeInternalError, "operation failed").
		WithComponent("dispatch").
		WithOperation(op).
		WithPath(path).
		WithCause(err)
}

func (d *Dispatcher) transferred(direction string, n int) {
	if d.observer != nil && n > 0 {
		d.observer.BytesTransferred(direction, n)
	}
}

// Getattr returns the attributes of path.
func (d *Dispatcher) Getattr(ctx context.Context, who perm.Principal, path string) (attr Attr, err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("getattr", r, path, start, err) }()

	dec, err := d.admit(who, r, request{op: "getattr"})
	if err != nil {
		return Attr{}, err
	}
	return d.stat(detach(ctx), r, dec)
}

// Lookup returns the attributes of the entry name inside the directory at
// parent.
func (d *Dispatcher) Lookup(ctx context.Context, who perm.Principal, parent, name string) (attr Attr, err error) {
	start := time.Now()
	r := route.Child(parent, name)
	path := strings.TrimSuffix(parent, "/") + "/" + name
	defer func() { err = d.finish("lookup", r, path, start, err) }()

	dec, err := d.admit(who, r, request{op: "lookup"})
	if err != nil {
		return Attr{}, err
	}
	return d.stat(detach(ctx), r, dec)
}

func (d *Dispatcher) stat(ctx context.Context, r route.Route, dec perm.Decision) (Attr, error) {
	switch r.Kind {
	case route.KindRoot, route.KindKvDirectory, route.KindRawDirectory:
		return d.dirAttr(r, dec), nil
	case route.KindHelp:
		return d.fileAttr(r, dec, int64(len(helpText(r.Namespace)))), nil
	case route.KindKvEntry:
		size, err := d.keySize(ctx, r.Key)
		if err != nil {
			return Attr{}, err
		}
		return d.fileAttr(r, dec, size), nil
	case route.KindRawEntry:
		buf, ok := d.arena.Get(r.Handle)
		if !ok {
			return Attr{}, kverrors.NotFound(r.Path())
		}
		return d.fileAttr(r, dec, buf.Size()), nil
	default:
		return Attr{}, kverrors.NotFound(r.Path())
	}
}

// Readdir lists the directory at path.
func (d *Dispatcher) Readdir(ctx context.Context, who perm.Principal, path string) (entries []DirEntry, err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("readdir", r, path, start, err) }()

	dec, err := d.admit(who, r, request{op: "readdir", access: perm.AccessRead})
	if err != nil {
		return nil, err
	}

	switch r.Kind {
	case route.KindRoot:
		return d.rootEntries(), nil
	case route.KindKvDirectory:
		limit := listing.EffectiveCap(r.Options.Limit, dec.MaxResults, d.cfg.MaxResults)
		return d.listKeys(detach(ctx), limit)
	case route.KindRawDirectory:
		return d.listRaw(), nil
	default:
		return nil, syscall.ENOTDIR
	}
}

func (d *Dispatcher) rootEntries() []DirEntry {
	entries := []DirEntry{
		{Name: "kv", Ino: InodeKvDir, Mode: syscall.S_IFDIR},
		{Name: "kv:help", Ino: InodeKvHelp, Mode: syscall.S_IFREG},
	}
	if !d.cfg.DisableRaw {
		entries = append(entries,
			DirEntry{Name: "raw", Ino: InodeRawDir, Mode: syscall.S_IFDIR},
			DirEntry{Name: "raw:help", Ino: InodeRawHelp, Mode: syscall.S_IFREG},
		)
	}
	return entries
}

// Open checks that path can be opened with flags. O_TRUNC empties the
// file.
func (d *Dispatcher) Open(ctx context.Context, who perm.Principal, path string, flags uint32) (err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("open", r, path, start, err) }()

	req := request{op: "open", access: openAccess(flags)}
	truncate := flags&syscall.O_TRUNC != 0 && req.access&perm.AccessWrite != 0
	req.mutation = req.access&perm.AccessWrite != 0

	if _, err := d.admit(who, r, req); err != nil {
		return err
	}

	ctx = detach(ctx)
	switch r.Kind {
	case route.KindHelp:
		if req.mutation {
			return kverrors.PermissionDenied(r.Path())
		}
		return nil
	case route.KindKvEntry:
		if truncate {
			return d.truncateKey(ctx, r.Key, 0)
		}
		return d.keyExists(ctx, r.Key)
	case route.KindRawEntry:
		buf, ok := d.arena.Get(r.Handle)
		if !ok {
			return kverrors.NotFound(r.Path())
		}
		if truncate {
			return buf.Truncate(0)
		}
		return nil
	default:
		return syscall.EISDIR
	}
}

func openAccess(flags uint32) perm.Access {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		return perm.AccessWrite
	case syscall.O_RDWR:
		return perm.AccessRead | perm.AccessWrite
	default:
		return perm.AccessRead
	}
}

// Read returns up to size bytes of path starting at off. Reads past the end
// return an empty slice.
func (d *Dispatcher) Read(ctx context.Context, who perm.Principal, path string, off int64, size int) (data []byte, err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("read", r, path, start, err) }()

	if _, err := d.admit(who, r, request{op: "read", access: perm.AccessRead}); err != nil {
		return nil, err
	}

	switch r.Kind {
	case route.KindHelp:
		data = sliceString(helpText(r.Namespace), off, size)
	case route.KindKvEntry:
		data, err = d.readKey(detach(ctx), r.Key, off, size)
	case route.KindRawEntry:
		data, err = d.readRaw(detach(ctx), r, off, size)
	default:
		return nil, syscall.EISDIR
	}
	if err != nil {
		return nil, err
	}
	d.transferred("read", len(data))
	return data, nil
}

// Write stores data at off and returns the number of bytes written.
func (d *Dispatcher) Write(ctx context.Context, who perm.Principal, path string, off int64, data []byte) (n int, err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("write", r, path, start, err) }()

	if _, err := d.admit(who, r, request{op: "write", access: perm.AccessWrite, mutation: true}); err != nil {
		return 0, err
	}

	if off < 0 {
		return 0, syscall.EINVAL
	}
	if off > MaxFileSize || off+int64(len(data)) > MaxFileSize {
		return 0, syscall.EFBIG
	}

	switch r.Kind {
	case route.KindKvEntry:
		err = d.writeKey(detach(ctx), r.Key, off, data)
		n = len(data)
	case route.KindRawEntry:
		n, err = d.writeRaw(r, off, data)
	case route.KindHelp:
		return 0, kverrors.PermissionDenied(r.Path())
	default:
		return 0, syscall.EISDIR
	}
	if err != nil {
		return 0, err
	}
	d.transferred("write", n)
	return n, nil
}

// Create makes an empty file at path unless it already exists and returns
// its attributes.
func (d *Dispatcher) Create(ctx context.Context, who perm.Principal, path string) (attr Attr, err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("create", r, path, start, err) }()

	dec, err := d.admit(who, r, request{op: "create", access: perm.AccessWrite, mutation: true})
	if err != nil {
		return Attr{}, err
	}

	ctx = detach(ctx)
	switch r.Kind {
	case route.KindKvEntry:
		if err := d.createKey(ctx, r.Key); err != nil {
			return Attr{}, err
		}
	case route.KindRawEntry:
		d.arena.Create(r.Handle)
	default:
		return Attr{}, kverrors.PermissionDenied(r.Path())
	}
	return d.stat(ctx, r, dec)
}

// Truncate resizes the file at path, padding with zero bytes when it
// grows.
func (d *Dispatcher) Truncate(ctx context.Context, who perm.Principal, path string, size int64) (err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("truncate", r, path, start, err) }()

	if _, err := d.admit(who, r, request{op: "truncate", access: perm.AccessWrite, mutation: true}); err != nil {
		return err
	}
	if size < 0 {
		return syscall.EINVAL
	}
	if size > MaxFileSize {
		return syscall.EFBIG
	}

	switch r.Kind {
	case route.KindKvEntry:
		return d.truncateKey(detach(ctx), r.Key, size)
	case route.KindRawEntry:
		buf, ok := d.arena.Get(r.Handle)
		if !ok {
			return kverrors.NotFound(r.Path())
		}
		return buf.Truncate(size)
	case route.KindHelp:
		return kverrors.PermissionDenied(r.Path())
	default:
		return syscall.EISDIR
	}
}

// Unlink removes the file at path.
func (d *Dispatcher) Unlink(ctx context.Context, who perm.Principal, path string) (err error) {
	start := time.Now()
	r := route.Classify(path)
	defer func() { err = d.finish("unlink", r, path, start, err) }()

	if _, err := d.admit(who, r, request{op: "unlink", access: perm.AccessWrite, mutation: true}); err != nil {
		return err
	}

	switch r.Kind {
	case route.KindKvEntry:
		return d.deleteKey(detach(ctx), r.Key)
	case route.KindRawEntry:
		if !d.arena.Remove(r.Handle) {
			return kverrors.NotFound(r.Path())
		}
		return nil
	default:
		return kverrors.PermissionDenied(r.Path())
	}
}

// Flush submits a pending raw command. It is a no-op for every other path.
func (d *Dispatcher) Flush(ctx context.Context, path string) (err error) {
	start := time.Now()
	r := route.Classify(path)
	if r.Kind != route.KindRawEntry || d.cfg.DisableRaw {
		return nil
	}
	defer func() { err = d.finish("flush", r, path, start, err) }()

	buf, ok := d.arena.Get(r.Handle)
	if !ok {
		return nil
	}
	return buf.Submit(detach(ctx), d.store, d.rawObserver)
}

func sliceString(s string, off int64, n int) []byte {
	if off < 0 || off >= int64(len(s)) || n <= 0 {
		return []byte{}
	}
	end := off + int64(n)
	if end > int64(len(s)) {
		end = int64(len(s))
	}
	return []byte(s[off:end])
}
