// Package perm resolves ownership and permission bits for fusekv paths
// from an ordered list of pattern rules.
package perm

import (
	"github.com/fusekv/fusekv/internal/config"
)

// Access is a set of requested permission bits, in the low three bits of a
// Unix mode.
type Access uint32

const (
	AccessExec  Access = 1
	AccessWrite Access = 2
	AccessRead  Access = 4
)

// Decision is the effective ownership and mode for one path.
type Decision struct {
	UID  uint32
	GID  uint32
	Mode uint32

	// MaxResults is the listing cap of the matching rule, nil when the
	// rule does not set one.
	MaxResults *int64
}

// Principal identifies the caller of a filesystem operation.
type Principal struct {
	UID uint32
	GID uint32
}

// Resolver evaluates permission rules. It is immutable and safe for
// concurrent use.
type Resolver struct {
	rules    []config.PermissionConfig
	defaults Decision
}

// NewResolver creates a resolver from a loaded configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		rules: cfg.Permissions,
		defaults: Decision{
			UID:  cfg.UID,
			GID:  cfg.GID,
			Mode: cfg.Mode,
		},
	}
}

// Defaults returns the decision used when no rule matches.
func (r *Resolver) Defaults() Decision {
	return r.defaults
}

// Resolve returns the decision for a canonical path. Rules are tried in
// order and the first match wins; its unset fields fall back to the
// defaults.
func (r *Resolver) Resolve(path string) Decision {
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Regexp == nil || !rule.Regexp.MatchString(path) {
			continue
		}

		d := r.defaults
		if rule.UID != nil {
			d.UID = *rule.UID
		}
		if rule.GID != nil {
			d.GID = *rule.GID
		}
		if rule.Mode != nil {
			d.Mode = *rule.Mode
		}
		d.MaxResults = rule.MaxResults
		return d
	}
	return r.defaults
}

// Allowed reports whether p may perform access on an object with decision
// d. The owner class applies when the uid matches, then the group class,
// then other. Root bypasses read and write checks but still needs an
// execute bit somewhere for exec access.
func Allowed(d Decision, p Principal, access Access) bool {
	if access == 0 {
		return true
	}
	if p.UID == 0 {
		if access&AccessExec == 0 {
			return true
		}
		return d.Mode&0o111 != 0
	}

	var bits uint32
	switch {
	case p.UID == d.UID:
		bits = (d.Mode >> 6) & 0o7
	case p.GID == d.GID:
		bits = (d.Mode >> 3) & 0o7
	default:
		bits = d.Mode & 0o7
	}
	return Access(bits)&access == access
}
