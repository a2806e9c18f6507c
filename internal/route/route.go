// Package route classifies filesystem paths into fusekv namespaces.
//
// The mount exposes:
//
//	/              root
//	/kv            key listing, optionally /kv:limit=N
//	/kv/<key>      one key
//	/kv:help       help text
//	/raw           raw command files
//	/raw/<name>    one raw command file
//	/raw:help      help text
//
// Classification is total and pure: every input yields a Route, possibly
// KindInvalid.
package route

import (
	"strconv"
	"strings"
)

// Kind identifies the class of a Route.
type Kind int

const (
	KindInvalid Kind = iota
	KindRoot
	KindKvDirectory
	KindKvEntry
	KindRawDirectory
	KindRawEntry
	KindHelp
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindKvDirectory:
		return "kv_directory"
	case KindKvEntry:
		return "kv_entry"
	case KindRawDirectory:
		return "raw_directory"
	case KindRawEntry:
		return "raw_entry"
	case KindHelp:
		return "help"
	default:
		return "invalid"
	}
}

// Namespace is the first path segment without options.
type Namespace string

const (
	NamespaceKV  Namespace = "kv"
	NamespaceRaw Namespace = "raw"
)

// Options holds the per-listing overrides parsed from a namespace suffix.
type Options struct {
	// Limit overrides the listing cap; -1 means unlimited.
	Limit *int64
}

// Route is the classification of one path.
type Route struct {
	Kind      Kind
	Namespace Namespace

	// Key is set for KindKvEntry.
	Key string
	// Handle is set for KindRawEntry.
	Handle string

	Options Options
}

// IsDir reports whether the route is a directory.
func (r Route) IsDir() bool {
	switch r.Kind {
	case KindRoot, KindKvDirectory, KindRawDirectory:
		return true
	default:
		return false
	}
}

// IsRaw reports whether the route lives in the raw namespace, including
// its help file.
func (r Route) IsRaw() bool {
	return r.Namespace == NamespaceRaw
}

// Path renders the canonical path used for permission matching and inode
// numbering. Options are not part of the canonical path.
func (r Route) Path() string {
	switch r.Kind {
	case KindRoot:
		return "/"
	case KindKvDirectory:
		return "/kv"
	case KindKvEntry:
		return "/kv/" + r.Key
	case KindRawDirectory:
		return "/raw"
	case KindRawEntry:
		return "/raw/" + r.Handle
	case KindHelp:
		return "/" + string(r.Namespace) + ":help"
	default:
		return ""
	}
}

// Name returns the last element of the canonical path.
func (r Route) Name() string {
	p := r.Path()
	if p == "/" || p == "" {
		return p
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

var invalid = Route{Kind: KindInvalid}

// Classify maps a mount-relative path onto a Route.
func Classify(path string) Route {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return Route{Kind: KindRoot}
	}

	segments := strings.Split(path, "/")
	if len(segments) > 2 {
		return invalid
	}
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			return invalid
		}
	}

	ns, suffix, hasSuffix := strings.Cut(segments[0], ":")
	switch Namespace(ns) {
	case NamespaceKV:
		return classifyKV(segments, suffix, hasSuffix)
	case NamespaceRaw:
		return classifyRaw(segments, suffix, hasSuffix)
	default:
		return invalid
	}
}

// Child classifies name as an entry of the directory at parent.
func Child(parent, name string) Route {
	if strings.Contains(name, "/") {
		return invalid
	}
	return Classify(strings.TrimSuffix(parent, "/") + "/" + name)
}

func classifyKV(segments []string, suffix string, hasSuffix bool) Route {
	if hasSuffix && suffix == "help" {
		if len(segments) != 1 {
			return invalid
		}
		return Route{Kind: KindHelp, Namespace: NamespaceKV}
	}

	var opts Options
	if hasSuffix {
		var ok bool
		if opts, ok = parseOptions(suffix); !ok {
			return invalid
		}
	}

	if len(segments) == 1 {
		return Route{Kind: KindKvDirectory, Namespace: NamespaceKV, Options: opts}
	}
	return Route{Kind: KindKvEntry, Namespace: NamespaceKV, Key: segments[1], Options: opts}
}

func classifyRaw(segments []string, suffix string, hasSuffix bool) Route {
	if hasSuffix {
		if suffix != "help" || len(segments) != 1 {
			return invalid
		}
		return Route{Kind: KindHelp, Namespace: NamespaceRaw}
	}
	if len(segments) == 1 {
		return Route{Kind: KindRawDirectory, Namespace: NamespaceRaw}
	}
	return Route{Kind: KindRawEntry, Namespace: NamespaceRaw, Handle: segments[1]}
}

// parseOptions parses "limit=N[:...]". Unknown, repeated or malformed
// options fail.
func parseOptions(suffix string) (Options, bool) {
	var opts Options
	for _, pair := range strings.Split(suffix, ":") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || value == "" {
			return Options{}, false
		}
		switch key {
		case "limit":
			if opts.Limit != nil {
				return Options{}, false
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < -1 {
				return Options{}, false
			}
			opts.Limit = &n
		default:
			return Options{}, false
		}
	}
	return opts, true
}
