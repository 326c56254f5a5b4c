package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/webitel/skywork/config"
	"github.com/webitel/skywork/internal/adminhttp"
	"github.com/webitel/skywork/internal/kernel"
	"github.com/webitel/skywork/internal/modules/ping"
)

// NewApp wires the kernel, the admin HTTP surface and the bootstrap
// LAUNCH into an fx.App, following the teacher's fx.Provide/fx.Invoke
// composition shape.
func NewApp(cfg *config.Config) *fx.App {
	ping.Register()

	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideKernel,
			ProvideAdminServer,
		),
		fx.Invoke(
			RegisterKernelLifecycle,
			RegisterAdminLifecycle,
			RunBootstrap,
		),
	)
}

// ProvideLogger builds the slog logger the rest of the runtime logs
// through, rotating to a file via lumberjack when cfg.LogPath is set
// (matching the rotation policy the teacher's logging stack assumes)
// and otherwise writing to stderr.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := (&level).UnmarshalText([]byte(cfg.Logger)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogPath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("service", cfg.LogService)
}

// ProvideKernel constructs the Kernel from cfg's boot keys.
func ProvideKernel(logger *slog.Logger, cfg *config.Config) *kernel.Kernel {
	return kernel.New(logger, kernel.Config{
		Threads: cfg.Thread,
		Harbor:  cfg.Harbor,
		Profile: cfg.Profile,
	})
}

// ProvideAdminServer builds the chi-routed admin HTTP surface.
func ProvideAdminServer(logger *slog.Logger, k *kernel.Kernel) *adminhttp.Server {
	return adminhttp.New(logger, k)
}

// RegisterKernelLifecycle hooks the Kernel's Start/Stop into fx's
// lifecycle, the same OnStart/OnStop shape the teacher's other fx
// modules use.
func RegisterKernelLifecycle(lc fx.Lifecycle, k *kernel.Kernel) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return k.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return k.Stop(ctx) },
	})
}

// RegisterAdminLifecycle starts the admin HTTP listener alongside the
// kernel and shuts it down gracefully on OnStop.
func RegisterAdminLifecycle(lc fx.Lifecycle, logger *slog.Logger, cfg *config.Config, srv *adminhttp.Server) {
	httpSrv := &http.Server{Addr: cfg.AdminAddr, Handler: srv.Handler()}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.AdminAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("admin http server exited", "error", err)
				}
			}()
			logger.Info("admin http listening", "addr", cfg.AdminAddr)
			return nil
		},
		OnStop: func(ctx context.Context) error { return httpSrv.Shutdown(ctx) },
	})
}

// RunBootstrap issues cfg.Bootstrap as a LAUNCH the moment the kernel
// is up, the Go realization of spec §6's "bootstrap" environment key.
func RunBootstrap(lc fx.Lifecycle, logger *slog.Logger, cfg *config.Config, k *kernel.Kernel) {
	if cfg.Bootstrap == "" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			modname, args, _ := strings.Cut(cfg.Bootstrap, " ")
			h, err := k.Launch(modname, strings.TrimSpace(args))
			if err != nil {
				return err
			}
			logger.Info("bootstrap launched", "module", modname, "handle", h.String())
			return nil
		},
	})
}
