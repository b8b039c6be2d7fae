// sshfs mounts one or more SFTP endpoints as directories of a single
// virtual drive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/config"
	"github.com/sshfs/sshfs/internal/drive"
	"github.com/sshfs/sshfs/internal/fuse"
	"github.com/sshfs/sshfs/internal/logging"
	"github.com/sshfs/sshfs/internal/metrics"
	"github.com/sshfs/sshfs/pkg/types"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sshfs: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "YAML configuration file")
	letter := flag.String("letter", "", "Drive letter (Windows)")
	mountPoint := flag.String("mount", "", "Mount point directory")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN or ERROR")
	debug := flag.Bool("debug", false, "Enable host debug output and debug logging")
	writeConfig := flag.String("write-config", "", "Write the effective configuration to this file and exit")
	mountTimeout := flag.Duration("mount-timeout", time.Minute, "How long to wait for the drive to appear")
	flag.Parse()

	cfg := config.NewDefault()
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if *letter != "" {
		cfg.Drive.Letter = *letter
	}
	if *mountPoint != "" {
		cfg.Drive.MountPoint = *mountPoint
	}
	if *logLevel != "" {
		cfg.Global.LogLevel = strings.ToUpper(*logLevel)
	}
	if *debug {
		cfg.Global.LogLevel = "DEBUG"
	}

	if *writeConfig != "" {
		return cfg.SaveToFile(*writeConfig)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Global.LogLevel,
		Format:     cfg.Global.LogFormat,
		OutputPath: cfg.Global.LogFile,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Sync() }()
	logger := logging.Named("sshfs")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector types.MetricsCollector = types.NopCollector{}
	if cfg.Metrics.Enabled {
		mc, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Port:      cfg.Metrics.Port,
			Path:      cfg.Metrics.Path,
			Namespace: cfg.Metrics.Namespace,
		}, logging.Named("metrics"))
		if err != nil {
			return err
		}
		if err := mc.Start(ctx); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mc.Stop(sctx)
		}()
		collector = mc
	}

	logger.Info("connecting volumes", zap.Int("count", len(cfg.Volumes)))
	vols, err := connectAll(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}

	d := drive.New(drive.Config{
		Name:         cfg.Drive.Name,
		Letter:       cfg.Drive.Letter,
		MountPoint:   cfg.Drive.MountPoint,
		VolumeName:   cfg.Drive.VolumeName,
		Threads:      cfg.Drive.Threads,
		NetworkDrive: cfg.Drive.NetworkDrive,
		Debug:        *debug,
	}, fuse.NewHost(logging.Named("fuse")),
		drive.WithLogger(logging.Named("drive")),
		drive.WithMetrics(collector))

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.Close(sctx); err != nil {
			logger.Warn("drive close", zap.Error(err))
		}
		for _, v := range vols {
			v.close(sctx, logger)
		}
		logger.Info("stopped")
	}()

	for _, v := range vols {
		if err := d.AddSubFS(v.name, v.bridge); err != nil {
			return err
		}
	}

	gone := make(chan struct{})
	var goneOnce sync.Once
	d.OnStatusChanged(func(_ *drive.Drive, s drive.Status) {
		if s == drive.StatusUnmounted {
			goneOnce.Do(func() { close(gone) })
		}
	})

	mctx, cancel := context.WithTimeout(ctx, *mountTimeout)
	err = d.Mount(mctx)
	cancel()
	if err != nil {
		return err
	}
	logger.Info("drive mounted", zap.String("target", d.Target()), zap.Strings("volumes", d.Volumes()))

	select {
	case <-ctx.Done():
		logger.Info("received signal, unmounting")
	case <-gone:
		logger.Info("drive was unmounted externally")
	}
	return nil
}
