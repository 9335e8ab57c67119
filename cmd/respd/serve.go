package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ananthvk/respd/internal/command"
	"github.com/ananthvk/respd/internal/config"
	"github.com/ananthvk/respd/internal/logger"
	"github.com/ananthvk/respd/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a YAML config file",
			EnvVars: []string{"RESPD_CONFIG"},
		},
		&cli.StringFlag{Name: "host", Usage: "bind address"},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "port to listen on"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "number of connections served at once"},
		&cli.IntFlag{Name: "queue-size", Usage: "number of accepted connections that may wait for a worker"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "metrics-address", Usage: "serve prometheus metrics on this address"},
		&cli.DurationFlag{Name: "shutdown-timeout", Value: 10 * time.Second, Usage: "time given to connections to finish on shutdown"},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the server",
		Flags:  serveFlags(),
		Action: serveAction,
	}
}

// loadConfig reads the config file and applies the flags that were set on top of it
func loadConfig(c *cli.Context, fs afero.Fs) (*config.Config, error) {
	cfg, err := config.Load(fs, c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("workers") {
		cfg.Server.Workers = c.Int("workers")
	}
	if c.IsSet("queue-size") {
		cfg.Server.QueueSize = c.Int("queue-size")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("metrics-address") {
		cfg.Metrics.Address = c.String("metrics-address")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c, afero.NewOsFs())
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := server.New(cfg.ServerConfig(), command.Default(log), log, server.NewMetrics(reg))
	if err != nil {
		return err
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := server.ServeMetrics(ctx, cfg.Metrics.Address, reg, log); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	serveErr := srv.ListenAndServe(ctx)
	if serveErr != nil {
		log.Error("server failed", zap.Error(serveErr))
	} else {
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("connections closed forcibly", zap.Error(shutdownErr))
	}
	if errors.Is(shutdownErr, context.DeadlineExceeded) {
		shutdownErr = nil
	}
	return errors.Join(serveErr, shutdownErr)
}
