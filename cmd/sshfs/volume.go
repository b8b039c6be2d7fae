package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sshfs/sshfs/internal/bridge"
	"github.com/sshfs/sshfs/internal/cache"
	"github.com/sshfs/sshfs/internal/circuit"
	"github.com/sshfs/sshfs/internal/config"
	"github.com/sshfs/sshfs/internal/permission"
	"github.com/sshfs/sshfs/internal/remote"
	"github.com/sshfs/sshfs/internal/writelock"
	"github.com/sshfs/sshfs/pkg/retry"
	"github.com/sshfs/sshfs/pkg/types"
)

// volume is one connected remote endpoint and the bridge serving it.
type volume struct {
	name   string
	client *remote.SFTPClient
	bridge *bridge.Bridge
}

func (v *volume) close(ctx context.Context, logger *zap.Logger) {
	if err := v.bridge.Close(ctx); err != nil {
		logger.Warn("bridge close", zap.String("volume", v.name), zap.Error(err))
	}
	if err := v.client.Close(); err != nil {
		logger.Debug("sftp close", zap.String("volume", v.name), zap.Error(err))
	}
}

// connectAll dials every volume in parallel. On failure the volumes that
// did connect are closed again.
func connectAll(ctx context.Context, cfg *config.Configuration, logger *zap.Logger, metrics types.MetricsCollector) ([]*volume, error) {
	vols := make([]*volume, len(cfg.Volumes))
	breakers := circuit.NewManager(breakerConfig(cfg.Lock))
	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.Volumes {
		i, vc := i, cfg.Volumes[i]
		g.Go(func() error {
			v, err := connect(gctx, vc, cfg.Lock, breakers, logger, metrics)
			if err != nil {
				return fmt.Errorf("volume %s: %w", vc.Name, err)
			}
			vols[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, v := range vols {
			if v != nil {
				v.close(context.Background(), logger)
			}
		}
		return nil, err
	}
	return vols, nil
}

func connect(ctx context.Context, vc config.VolumeConfig, lc config.LockConfig, breakers *circuit.Manager, logger *zap.Logger, metrics types.MetricsCollector) (*volume, error) {
	log := logger.With(zap.String("volume", vc.Name), zap.String("host", vc.Host))

	client, err := remote.Dial(ctx, remote.ConnectConfig{
		Host:                  vc.Host,
		Port:                  vc.Port,
		Username:              vc.Username,
		Password:              vc.Password,
		PrivateKey:            vc.PrivateKey,
		Passphrase:            vc.Passphrase,
		KnownHosts:            vc.KnownHosts,
		InsecureIgnoreHostKey: vc.InsecureIgnoreHostKey,
		Timeout:               vc.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	id, err := remote.Probe(ctx, client, remote.ProbeOptions{
		Username: vc.Username,
		Host:     vc.Host,
		Root:     vc.RootPath,
		Label:    vc.Label,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info("connected",
		zap.Int("uid", id.UID),
		zap.String("root", id.Root),
		zap.Bool("android", id.Android))

	locks := writelock.New(lockConfig(lc, vc.Host),
		writelock.WithLogger(log.Named("writelock")),
		writelock.WithMetrics(metrics),
		writelock.WithBreakers(breakers),
		writelock.OnFailure(func(file, op string, err error) {
			log.Warn("lock request gave up", zap.String("file", file), zap.String("op", op), zap.Error(err))
		}))

	b := bridge.New(client, bridge.Config{
		Label:               id.Label,
		Root:                id.Root,
		AttrTTL:             vc.AttributeCacheTimeout,
		DirTTL:              vc.DirectoryCacheTimeout,
		UseOfflineAttribute: vc.UseOfflineAttribute,
		DebugMode:           vc.DebugMode,
		DFCommand:           id.DFCommand,
	},
		bridge.WithCache(cache.New(cache.DefaultConfig(), metrics)),
		bridge.WithPermissions(permission.New(id.UID, id.Groups)),
		bridge.WithLocks(locks),
		bridge.WithLogger(log.Named("bridge")),
		bridge.WithMetrics(metrics),
	)

	return &volume{name: vc.Name, client: client, bridge: b}, nil
}

func lockConfig(lc config.LockConfig, host string) writelock.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = lc.Retry.MaxAttempts
	rc.InitialDelay = lc.Retry.InitialDelay
	rc.MaxDelay = lc.Retry.MaxDelay
	rc.Multiplier = lc.Retry.Multiplier
	rc.Jitter = lc.Retry.Jitter

	return writelock.Config{
		Enabled:            lc.Enabled,
		Scheme:             lc.Scheme,
		Host:               host,
		Port:               lc.Port,
		RequestTimeout:     lc.RequestTimeout,
		InsecureSkipVerify: lc.InsecureSkipVerify,
		Concurrency:        lc.Concurrency,
		Retry:              rc,
		Breaker:            breakerConfig(lc),
	}
}

func breakerConfig(lc config.LockConfig) circuit.Config {
	bc := circuit.DefaultConfig()
	bc.FailureThreshold = lc.CircuitBreaker.FailureThreshold
	bc.Probes = lc.CircuitBreaker.Probes
	bc.CoolDown = lc.CircuitBreaker.CoolDown
	return bc
}
