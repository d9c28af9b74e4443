package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/heibot/safety/config"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "safetyd",
		Usage: "trust and safety moderation daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the TOML config file",
				EnvVars: []string{"SAFETY_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCmd,
			checkConfigCmd,
		},
	}
	return app.Run(args)
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API",
	Action: func(cctx *cli.Context) error {
		cfg, path, err := config.Load(cctx.String("config"))
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()
		logger.Info("config loaded", zap.String("path", path))

		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		errCh := make(chan error, 1)
		go func() { errCh <- app.server.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return app.server.Shutdown(sctx)
	},
}

var checkConfigCmd = &cli.Command{
	Name:  "check-config",
	Usage: "validate the config file and print a summary",
	Action: func(cctx *cli.Context) error {
		cfg, path, err := config.Load(cctx.String("config"))
		if err != nil {
			return err
		}
		cl := cfg.Classifiers
		fmt.Fprintf(cctx.App.Writer, "config:      %s (version %d)\n", path, cfg.Version)
		fmt.Fprintf(cctx.App.Writer, "listen:      %s\n", cfg.Server.Addr)
		fmt.Fprintf(cctx.App.Writer, "store:       %s\n", cfg.Store.Driver)
		fmt.Fprintf(cctx.App.Writer, "rate limit:  %d per %s (%s)\n", cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.Backend)
		fmt.Fprintf(cctx.App.Writer, "redis:       %t\n", cfg.Redis.Enabled())
		fmt.Fprintf(cctx.App.Writer, "classifiers: aliyun=%t tencent=%t huawei=%t remote=%t\n",
			cl.Aliyun.Enabled, cl.Tencent.Enabled, cl.Huawei.Enabled, cl.Remote.Enabled)
		return nil
	},
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}
