package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("fusekv", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() { printUsage(fs) }

	fs.StringP("config", "c", "", "configuration file (default $XDG_CONFIG_HOME/fusekv/config.yaml)")
	fs.StringSliceP("server", "s", nil, "server URL, repeat for sentinels (default redis://127.0.0.1:6379)")
	fs.String("sentinel-master", "", "master name to resolve through sentinels (default mymaster)")

	fs.Bool("read-only", false, "reject every mutation with EROFS")
	fs.Bool("disable-raw", false, "hide the /raw command directory")
	fs.Bool("allow-other", false, "let other users access the mount and check permissions against the caller")

	fs.StringP("user", "u", "", "default file owner, name or uid (default current user)")
	fs.StringP("group", "g", "", "default file group, name or gid (default the owner's primary group)")
	fs.String("chmod", "", "default permission bits in octal (default 755)")
	fs.Int64P("max-results", "m", 0, "maximum entries in a key listing, -1 for no cap (default 1000)")

	fs.String("log-level", "", "log level: TRACE, DEBUG, INFO, WARN, ERROR (default INFO)")
	fs.String("log-format", "", "log format: text or json (default text)")
	fs.String("log-output", "", "log destination: stderr, stdout or a file path (default stderr)")
	fs.String("metrics-address", "", "serve /metrics and /health on this address")

	fs.Bool("print-config", false, "print the effective configuration and exit")
	fs.Bool("debug", false, "log FUSE traffic and enable debug logging")
	return fs
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Usage: fusekv [flags] <mountpoint>

Mount a Redis key space as a filesystem.

  /kv/<key>          value of a string key
  /kv:limit=N/       key listing capped at N entries
  /raw/<name>        write a command, read back the reply

Flags:
`)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
}
