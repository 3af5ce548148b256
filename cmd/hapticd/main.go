// Package main is the entry point for the haptic servo daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/config"
	"github.com/Faultbox/hapticore/internal/device"
	"github.com/Faultbox/hapticore/internal/device/bus"
	"github.com/Faultbox/hapticore/internal/logger"
	"github.com/Faultbox/hapticore/internal/observe"
	"github.com/Faultbox/hapticore/internal/servo"
)

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var fileCfg logger.FileConfig
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
		fileCfg.JSON = cfg.Logging.JSON
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, true); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== hapticd ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("servo error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("servo stopped normally")
}

func run(ctx context.Context, cfg *config.Config) error {
	scene, err := buildScene(cfg.Scene)
	if err != nil {
		return fmt.Errorf("building scene: %w", err)
	}
	logger.Info("scene ready",
		zap.String("shape", cfg.Scene.Shape),
		zap.Int("triangles", scene.TriangleCount()))

	dev, err := openDevice(ctx, cfg)
	if err != nil {
		return err
	}

	var opts []servo.Option
	if cfg.Observe.Enabled {
		hub := observe.NewHub(logger.Log)
		go hub.Run(ctx)
		srv := &http.Server{
			Addr:              cfg.Observe.Listen,
			Handler:           hub.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("observation server listening", zap.String("addr", cfg.Observe.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("observation server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		opts = append(opts, servo.WithObserver(func(s servo.Sample) { hub.Publish(s) }))
	}

	h, err := servo.Start(ctx, dev, scene, cfg.ServoConfig(), opts...)
	if err != nil {
		return err
	}
	logger.Info("servo running", zap.String("id", h.ID().String()))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-h.Done():
	}
	err = h.Stop()

	s := h.Stats()
	logger.Info("servo stats",
		zap.Uint64("cycles", s.Cycles),
		zap.Uint64("deadline_misses", s.DeadlineMisses),
		zap.Uint64("read_failures", s.ReadFailures),
		zap.Uint64("degenerate", s.Degenerate),
		zap.Uint64("clamped", s.Clamped),
		zap.Duration("max_compute", s.MaxCompute))

	var fe *servo.FailureError
	if errors.As(err, &fe) {
		logger.Error("device state at failure",
			zap.Stringer("status", fe.LastState.Status),
			zap.Any("position", fe.LastState.Pose.Position),
			zap.Any("force", fe.LastState.Force))
	}
	return err
}

// openDevice builds the configured device. Hardware kinds connect to their
// bridge first.
func openDevice(ctx context.Context, cfg *config.Config) (device.Device, error) {
	dc, err := cfg.DeviceConfig()
	if err != nil {
		return nil, err
	}
	dc.Logger = logger.Log

	if dc.Kind == device.KindSimulator {
		dc.Trajectory = demoTrajectory(cfg.Scene)
		return device.New(dc, nil)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Device.DialTimeout)
	defer cancel()
	b, err := bus.Dial(dialCtx, cfg.Device.Address, cfg.Device.IOTimeout)
	if err != nil {
		return nil, err
	}
	dev, err := device.New(dc, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	return dev, nil
}
