package fuse

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fusekv/fusekv/internal/config"
	"github.com/fusekv/fusekv/pkg/utils"
)

// MountManager manages FUSE mount operations
type MountManager struct {
	filesystem *FileSystem
	config     *MountConfig
	logger     *utils.StructuredLogger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
	done    chan struct{}
}

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint string

	ReadOnly   bool
	AllowOther bool
	Debug      bool

	FSName  string
	Subtype string

	AttrTimeout  time.Duration
	EntryTimeout time.Duration
	MaxWrite     int
}

// NewMountConfig derives mount settings from the loaded configuration.
func NewMountConfig(cfg *config.Config, mountPoint string) *MountConfig {
	return &MountConfig{
		MountPoint:   mountPoint,
		ReadOnly:     cfg.ReadOnly,
		AllowOther:   cfg.AllowOther,
		FSName:       "fusekv",
		Subtype:      "fusekv",
		AttrTimeout:  cfg.Mount.AttrTimeout,
		EntryTimeout: cfg.Mount.EntryTimeout,
		MaxWrite:     128 * 1024,
	}
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem, config *MountConfig, logger *utils.StructuredLogger) *MountManager {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	filesystem.SetTimeouts(config.AttrTimeout, config.EntryTimeout)

	return &MountManager{
		filesystem: filesystem,
		config:     config,
		logger:     logger.WithComponent("mount"),
	}
}

// Mount mounts the filesystem at the configured mount point and serves it
// in the background.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}
	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	server, err := fs.Mount(m.config.MountPoint, m.filesystem.Root(), m.buildFUSEOptions())
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true
	m.done = make(chan struct{})

	m.logger.Info("Filesystem mounted", map[string]interface{}{
		"mount_point": m.config.MountPoint,
		"read_only":   m.config.ReadOnly,
		"allow_other": m.config.AllowOther,
	})

	go func(server *fuse.Server, done chan struct{}) {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info("FUSE server stopped", map[string]interface{}{
			"mount_point": m.config.MountPoint,
		})
		close(done)
	}(server, m.done)

	return nil
}

// Unmount unmounts the filesystem, falling back to a lazy unmount when the
// mount point is busy.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	server := m.server
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted || server == nil {
		return fmt.Errorf("filesystem is not mounted")
	}

	m.logger.Info("Unmounting filesystem", map[string]interface{}{
		"mount_point": m.config.MountPoint,
	})

	if err := server.Unmount(); err != nil {
		m.logger.Warn("Normal unmount failed, trying force unmount", map[string]interface{}{
			"error": err,
		})
		if forceErr := m.forceUnmount(); forceErr != nil {
			return fmt.Errorf("unmount failed: %w (force unmount also failed: %v)", err, forceErr)
		}
	}
	return nil
}

// IsMounted reports whether the server is still serving.
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// GetMountPoint returns the current mount point
func (m *MountManager) GetMountPoint() string {
	return m.config.MountPoint
}

// Wait blocks until the filesystem is unmounted.
func (m *MountManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *MountManager) validateMountPoint() error {
	if m.config.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	info, err := os.Stat(m.config.MountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.config.MountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.config.MountPoint)
	}

	entries, err := os.ReadDir(m.config.MountPoint)
	if err != nil {
		return fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		m.logger.Warn("Mount point is not empty", map[string]interface{}{
			"mount_point": m.config.MountPoint,
		})
	}

	mounted, err := isMountPoint("/proc/mounts", m.config.MountPoint)
	if err == nil && mounted {
		return fmt.Errorf("mount point %s is already mounted", m.config.MountPoint)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	attrTimeout := m.config.AttrTimeout
	entryTimeout := m.config.EntryTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.config.FSName,
			FsName:     m.config.FSName,
			Debug:      m.config.Debug,
			AllowOther: m.config.AllowOther,
			MaxWrite:   m.config.MaxWrite,
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		// Permission bits are enforced by the dispatcher, not the kernel.
		NullPermissions: true,
	}

	if m.config.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	if m.config.Subtype != "" {
		opts.Options = append(opts.Options, fmt.Sprintf("subtype=%s", m.config.Subtype))
	}
	return opts
}

func (m *MountManager) forceUnmount() error {
	// Try lazy unmount first
	err := syscall.Unmount(m.config.MountPoint, syscall.MNT_DETACH)
	if err == nil {
		return nil
	}
	return syscall.Unmount(m.config.MountPoint, syscall.MNT_FORCE)
}

// isMountPoint reports whether dir appears as a mount target in a
// /proc/mounts style table.
func isMountPoint(table, dir string) (bool, error) {
	f, err := os.Open(table)
	if err != nil {
		return false, err
	}
	defer f.Close()

	target := filepath.Clean(dir)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && filepath.Clean(fields[1]) == target {
			return true, nil
		}
	}
	return false, scanner.Err()
}
