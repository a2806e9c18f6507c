package fuse

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekv/fusekv/internal/config"
)

func TestNewMountConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.ReadOnly = true
	cfg.AllowOther = true
	cfg.Mount.AttrTimeout = 2 * time.Second

	mc := NewMountConfig(cfg, "/mnt/kv")
	assert.Equal(t, "/mnt/kv", mc.MountPoint)
	assert.True(t, mc.ReadOnly)
	assert.True(t, mc.AllowOther)
	assert.Equal(t, 2*time.Second, mc.AttrTimeout)
	assert.Equal(t, time.Second, mc.EntryTimeout)
	assert.Equal(t, "fusekv", mc.FSName)
}

func TestBuildFUSEOptions(t *testing.T) {
	cfg := config.NewDefault()
	cfg.ReadOnly = true
	cfg.AllowOther = true
	mm := NewMountManager(NewFileSystem(&fakeOps{}, nil), NewMountConfig(cfg, t.TempDir()), nil)

	opts := mm.buildFUSEOptions()
	assert.True(t, opts.AllowOther)
	assert.True(t, opts.NullPermissions)
	assert.Equal(t, "fusekv", opts.FsName)
	assert.Contains(t, opts.Options, "ro")
	assert.Contains(t, opts.Options, "subtype=fusekv")
	require.NotNil(t, opts.AttrTimeout)
	assert.Equal(t, time.Second, *opts.AttrTimeout)

	cfg.ReadOnly = false
	mm = NewMountManager(NewFileSystem(&fakeOps{}, nil), NewMountConfig(cfg, t.TempDir()), nil)
	assert.NotContains(t, mm.buildFUSEOptions().Options, "ro")
}

func TestValidateMountPoint(t *testing.T) {
	cfg := config.NewDefault()
	newManager := func(path string) *MountManager {
		return NewMountManager(NewFileSystem(&fakeOps{}, nil), NewMountConfig(cfg, path), nil)
	}

	assert.NoError(t, newManager(t.TempDir()).validateMountPoint())
	assert.Error(t, newManager("").validateMountPoint())
	assert.Error(t, newManager(filepath.Join(t.TempDir(), "missing")).validateMountPoint())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Error(t, newManager(file).validateMountPoint())
}

func TestIsMountPoint(t *testing.T) {
	table := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(table, []byte(
		"proc /proc proc rw,nosuid 0 0\n"+
			"fusekv /mnt/kv fuse.fusekv rw,nosuid 0 0\n",
	), 0o644))

	mounted, err := isMountPoint(table, "/mnt/kv/")
	require.NoError(t, err)
	assert.True(t, mounted)

	mounted, err = isMountPoint(table, "/mnt/k")
	require.NoError(t, err)
	assert.False(t, mounted, "prefixes do not match")

	_, err = isMountPoint(filepath.Join(t.TempDir(), "none"), "/mnt/kv")
	assert.Error(t, err)
}

func TestUnmountWhenNotMounted(t *testing.T) {
	mm := NewMountManager(NewFileSystem(&fakeOps{}, nil), NewMountConfig(config.NewDefault(), t.TempDir()), nil)
	assert.False(t, mm.IsMounted())
	assert.Error(t, mm.Unmount())
	mm.Wait()
}
