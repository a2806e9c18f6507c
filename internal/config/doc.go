/*
Package config loads, resolves and validates the fusekv configuration.

Sources are layered with the following precedence, highest first:

	CLI flags         (--read-only, --server, ...)
	Environment       (FUSEKV_*)
	Configuration     (TOML or YAML file)
	Defaults          (NewDefault)

The file format follows the extension of the configuration file. A minimal
TOML file looks like:

	read_only = false
	max_results = 500
	chmod = "750"

	[[server]]
	url = "redis://10.0.0.1:26379"

	[[server]]
	url = "redis://10.0.0.2:26379"

	[[permission]]
	pattern = "^/kv/secret"
	chmod = "700"

More than one [[server]] entry switches the store into sentinel mode; each
URL then names a sentinel, not a data node.

Permission patterns are regular expressions matched against canonical
paths (/kv, /kv/<key>, /raw, /raw/<name>). They are evaluated in order and
the first match wins. User and group names are resolved to numeric ids once,
during Load, and the resulting Config is never mutated afterwards.
*/
package config
