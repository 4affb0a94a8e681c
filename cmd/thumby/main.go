package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumby/internal/config"
	"github.com/aliskhannn/thumby/internal/engine"
	"github.com/aliskhannn/thumby/internal/infra/listener"
	"github.com/aliskhannn/thumby/internal/model"
	"github.com/aliskhannn/thumby/internal/storage/file"
	"github.com/aliskhannn/thumby/internal/storage/s3"
	"github.com/aliskhannn/thumby/internal/worker"
)

func main() {
	zlog.Init()

	if err := newRootCommand(viper.New()).ExecuteContext(context.Background()); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("thumby failed")
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "thumby [images-directory] [port]",
		Short:         "Serve resized images from a directory over HTTP",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyArgs(v, args); err != nil {
				return err
			}

			cfg, err := config.Load(v, v.GetString("config"))
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("host", "0.0.0.0", "address to listen on")
	flags.Int("workers", worker.DefaultCount, "number of worker loops")
	flags.Int("backlog", listener.DefaultBacklog, "listen backlog")
	flags.Duration("grace-delay", worker.DefaultGraceDelay, "time to keep serving after a termination signal")
	flags.String("storage", config.BackendDisk, "image source backend: disk or s3")

	mustBindFlag(v, "config", flags.Lookup("config"))
	mustBindFlag(v, "server.host", flags.Lookup("host"))
	mustBindFlag(v, "server.workers", flags.Lookup("workers"))
	mustBindFlag(v, "server.backlog", flags.Lookup("backlog"))
	mustBindFlag(v, "server.grace_delay", flags.Lookup("grace-delay"))
	mustBindFlag(v, "storage.backend", flags.Lookup("storage"))

	return cmd
}

func mustBindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// applyArgs maps the positional <images-directory> [<port>] arguments.
func applyArgs(v *viper.Viper, args []string) error {
	if len(args) > 0 {
		v.Set("storage.base_dir", args[0])
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid port: %s", args[1])
		}
		v.Set("server.port", port)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	fs, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	zlog.Logger.Info().Msgf("Serving images from %s on %s:%d", source(cfg.Storage), cfg.Server.Host, cfg.Server.Port)

	// Set once, before any worker builds its router.
	gin.SetMode(cfg.Server.Mode)

	if err := engine.Init(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Bind once; every worker accepts from this endpoint.
	ln, err := listener.Bind(cfg.Server.Host, cfg.Server.Port, cfg.Server.Backlog)
	if err != nil {
		engine.Shutdown()
		return err
	}
	defer func() {
		if err := ln.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close listener")
		}
	}()

	wcfg := worker.Config{
		Prefix: cfg.Thumbnail.Prefix,
		Limits: model.Limits{
			MaxWidth:  cfg.Thumbnail.MaxWidth,
			MaxHeight: cfg.Thumbnail.MaxHeight,
		},
		GraceDelay:      cfg.Server.GraceDelay,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	pool, err := worker.Start(ctx, cfg.Server.Workers, wcfg, ln, fs, zlog.Logger)
	if err != nil {
		engine.Shutdown()
		return err
	}

	// Workers handle termination signals themselves; Join returns once all
	// of them have exited.
	if err := pool.Join(); err != nil {
		return fmt.Errorf("workers stopped with errors: %w", err)
	}

	zlog.Logger.Info().Msg("shutdown complete")

	return nil
}

type imageStorage interface {
	Load(ctx context.Context, name string) (io.ReadCloser, error)
}

func newStorage(ctx context.Context, cfg config.Storage) (imageStorage, error) {
	switch cfg.Backend {
	case config.BackendS3:
		// Initialize image source (MinIO).
		storage, err := s3.NewStorage(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.BucketName, cfg.Prefix, cfg.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to storage: %w", err)
		}
		return storage, nil

	case config.BackendDisk:
		storage, err := file.NewStorage(cfg.BaseDir)
		if err != nil {
			return nil, err
		}
		// The images directory is also the working directory.
		if err := os.Chdir(cfg.BaseDir); err != nil {
			return nil, fmt.Errorf("failed to change directory to %s: %w", cfg.BaseDir, err)
		}
		return storage, nil

	default:
		return nil, errors.New("unknown storage backend " + cfg.Backend)
	}
}

func source(cfg config.Storage) string {
	if cfg.Backend == config.BackendS3 {
		return "s3://" + cfg.BucketName + "/" + cfg.Prefix
	}
	return cfg.BaseDir
}
