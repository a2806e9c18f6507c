package config

import (
	"fmt"
	"os/user"
	"regexp"
	"strconv"
)

// ParseMode parses an octal permission string such as "755" or "0640".
func ParseMode(s string) (uint32, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	if mode > 0o7777 {
		return 0, fmt.Errorf("mode %q out of range", s)
	}
	return uint32(mode), nil
}

// Resolve fills the derived fields: numeric owner ids, the default mode and
// compiled permission patterns.
func Resolve(cfg *Config) error {
	uid, primaryGID, err := lookupUser(cfg.User)
	if err != nil {
		return err
	}
	cfg.UID = uid

	if cfg.Group == "" {
		cfg.GID = primaryGID
	} else if cfg.GID, err = lookupGroup(cfg.Group); err != nil {
		return err
	}

	if cfg.Mode, err = ParseMode(cfg.Chmod); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	for i := range cfg.Permissions {
		if err := resolvePermission(&cfg.Permissions[i]); err != nil {
			return fmt.Errorf("permission[%d]: %w", i, err)
		}
	}
	return nil
}

func resolvePermission(p *PermissionConfig) error {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", p.Pattern, err)
	}
	p.Regexp = re

	if p.User != "" {
		uid, _, err := lookupUser(p.User)
		if err != nil {
			return err
		}
		p.UID = &uid
	}
	if p.Group != "" {
		gid, err := lookupGroup(p.Group)
		if err != nil {
			return err
		}
		p.GID = &gid
	}
	if p.Chmod != "" {
		mode, err := ParseMode(p.Chmod)
		if err != nil {
			return err
		}
		p.Mode = &mode
	}
	return nil
}

// lookupUser resolves a user name or numeric uid. An empty name is the
// invoking user. The second result is the user's primary gid, or the
// invoking user's primary gid when name is a bare number with no passwd
// entry.
func lookupUser(name string) (uint32, uint32, error) {
	var (
		u   *user.User
		err error
	)
	switch {
	case name == "":
		u, err = user.Current()
	case isNumeric(name):
		u, err = user.LookupId(name)
		if err != nil {
			uid, _ := strconv.ParseUint(name, 10, 32)
			return uint32(uid), currentGID(), nil
		}
	default:
		u, err = user.Lookup(name)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("user %q not found: %w", name, err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("user %q has non-numeric uid %q", name, u.Uid)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("user %q has non-numeric gid %q", name, u.Gid)
	}
	return uint32(uid), uint32(gid), nil
}

// lookupGroup resolves a group name or numeric gid.
func lookupGroup(name string) (uint32, error) {
	if isNumeric(name) {
		gid, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid gid %q", name)
		}
		return uint32(gid), nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("group %q not found: %w", name, err)
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("group %q has non-numeric gid %q", name, g.Gid)
	}
	return uint32(gid), nil
}

func currentGID() uint32 {
	if u, err := user.Current(); err == nil {
		if gid, err := strconv.ParseUint(u.Gid, 10, 32); err == nil {
			return uint32(gid)
		}
	}
	return 0
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
