// fusekv mounts a Redis key space as a filesystem.
//
// Every string key appears as a file under /kv; reading and writing the file
// reads and writes the value. Files created under /raw take a command line
// and read back the server's reply, like a tiny redis-cli.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/fusekv/fusekv/internal/config"
	"github.com/fusekv/fusekv/internal/dispatch"
	"github.com/fusekv/fusekv/internal/fuse"
	"github.com/fusekv/fusekv/internal/metrics"
	"github.com/fusekv/fusekv/internal/store"
	"github.com/fusekv/fusekv/pkg/utils"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fusekv: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flagSet := newFlagSet()
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	configPath, _ := flagSet.GetString("config")
	cfg, err := config.Load(configPath, flagSet)
	if err != nil {
		return err
	}

	if printConfig, _ := flagSet.GetBool("print-config"); printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(stdout, out)
		return err
	}

	if flagSet.NArg() != 1 {
		printUsage(flagSet)
		return fmt.Errorf("expected exactly one mount point, got %d arguments", flagSet.NArg())
	}
	mountPoint := flagSet.Arg(0)
	debug, _ := flagSet.GetBool("debug")

	logger, err := newLogger(cfg.Logging, debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	return serve(cfg, mountPoint, debug, logger)
}

func serve(cfg *config.Config, mountPoint string, debug bool, logger *utils.StructuredLogger) error {
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Address: cfg.Metrics.Address,
	}, nil, logger)
	if err != nil {
		return err
	}

	manager, err := store.NewFromConfig(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()
	collector.SetHealthSource(manager)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The first connection is lazy; ping it so a bad address shows up in
	// the log at startup rather than on first access.
	if err := manager.Ping(ctx); err != nil {
		logger.Warn("Store not reachable yet", map[string]interface{}{
			"servers": cfg.ServerURLs(),
			"error":   err,
		})
	}

	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = collector.Stop(shutdownCtx)
	}()

	dispatcher := dispatch.New(cfg, manager, dispatch.Options{
		Logger:          logger,
		Observer:        collector,
		ListingObserver: collector,
		RawObserver:     collector,
	})

	mountConfig := fuse.NewMountConfig(cfg, mountPoint)
	mountConfig.Debug = debug
	mm := fuse.NewMountManager(fuse.NewFileSystem(dispatcher, logger), mountConfig, logger)
	if err := mm.Mount(ctx); err != nil {
		return err
	}

	unmounted := make(chan struct{})
	go func() {
		mm.Wait()
		close(unmounted)
	}()

	select {
	case <-unmounted:
		logger.Info("Filesystem unmounted externally", map[string]interface{}{
			"mount_point": mountPoint,
		})
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal", nil)
	}

	if err := mm.Unmount(); err != nil {
		return err
	}
	<-unmounted
	return nil
}

// newLogger builds the process logger from configuration. --debug forces
// DEBUG level unless a more verbose level is configured.
func newLogger(cfg config.LoggingConfig, debug bool) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if debug && level > utils.DEBUG {
		level = utils.DEBUG
	}
	format, err := utils.ParseLogFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	output, err := utils.OpenLogOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:         level,
		Output:        output,
		Format:        format,
		IncludeCaller: debug,
	})
}
