package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/internal/adapters/file"
	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/internal/tracing"
	httpAdapter "github.com/aretw0/waypoint/pkg/adapters/http"
	loamAdapter "github.com/aretw0/waypoint/pkg/adapters/loam"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/waypoint/pkg/adapters/redis"
	"github.com/aretw0/waypoint/pkg/observability"
	"github.com/aretw0/waypoint/pkg/persistence/middleware"
	"github.com/aretw0/waypoint/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the routing engine behind a JSON API. Stores, templates, the identity directory and
timeouts come from the --config file and WAYPOINT_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := waypoint.LoadConfig(path)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "Path to the YAML configuration file")
}

func serve(ctx context.Context, cfg waypoint.Config) error {
	level, err := logging.Parse(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.New(level)

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName, waypoint.Version, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to start tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return err
	}

	opts := []waypoint.Option{
		waypoint.WithLogger(logger),
		waypoint.WithLookupTimeout(cfg.Lookup.Timeout),
		waypoint.WithViewTTL(cfg.ActionList.ViewTTL),
		waypoint.WithLifecycleHooks(metrics.Hooks()),
		waypoint.WithLifecycleHooks(observability.LogHooks(logger)),
	}
	storeOpts, closeStore, err := storeOptions(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	opts = append(opts, storeOpts...)

	if cfg.Directory.File != "" {
		data, err := os.ReadFile(cfg.Directory.File)
		if err != nil {
			return fmt.Errorf("failed to read directory: %w", err)
		}
		directory, err := memory.LoadDirectory(data)
		if err != nil {
			return err
		}
		opts = append(opts, waypoint.WithDirectory(directory))
	}

	eng := waypoint.New(opts...)

	if cfg.Templates.Dir != "" {
		src, err := loamAdapter.Open(cfg.Templates.Dir)
		if err != nil {
			return err
		}
		n, err := eng.Load(ctx, src)
		if err != nil {
			return err
		}
		logger.Info("Templates loaded", "dir", cfg.Templates.Dir, "count", n)
		if cfg.Templates.Watch {
			if err := watchTemplates(ctx, eng, src, logger); err != nil {
				return err
			}
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpAdapter.NewHandler(eng, httpAdapter.WithLogger(logger)))
	if cfg.HTTP.Metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting waypoint server", "addr", srv.Addr, "store", cfg.Store.Driver)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	// Give outstanding requests a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown did not complete", "timeout", cfg.HTTP.ShutdownTimeout, "err", err)
		if err := srv.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	logger.Info("Waypoint server stopped")
	return nil
}

// storeOptions wires the configured store driver. The returned func releases connections.
func storeOptions(cfg waypoint.StoreConfig) ([]waypoint.Option, func(), error) {
	mws, err := graphMiddlewares(cfg.Security)
	if err != nil {
		return nil, nil, err
	}

	var (
		graphs ports.GraphRepository
		opts   []waypoint.Option
		closer = func() {}
	)
	switch cfg.Driver {
	case waypoint.StoreMemory:
		graphs = memory.NewGraphStore()
	case waypoint.StoreFile:
		graphs = file.New(cfg.Path)
	case waypoint.StoreRedis:
		client := redisAdapter.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		prefix := redisAdapter.WithPrefix(cfg.Redis.Prefix)
		graphs = redisAdapter.NewGraphStore(client, prefix)
		opts = append(opts,
			waypoint.WithActionItemStore(redisAdapter.NewItemStore(client, prefix)),
			waypoint.WithPreferenceStore(redisAdapter.NewPreferenceStore(client, prefix)),
			waypoint.WithLocker(redisAdapter.NewLocker(client, cfg.Redis.Prefix), cfg.LockTTL),
		)
		closer = func() { client.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown store driver '%s'", cfg.Driver)
	}

	opts = append(opts, waypoint.WithGraphStore(middleware.Chain(graphs, mws...)))
	return opts, closer, nil
}

// graphMiddlewares masks first so sealed values never carry raw PII.
func graphMiddlewares(cfg waypoint.SecurityConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.MaskKeys) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.MaskKeys)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.EncryptionKey == "" {
		return mws, nil
	}

	active, err := base64.StdEncoding.DecodeString(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	enc := middleware.EncryptionConfig{ActiveKey: active}
	for _, k := range cfg.FallbackKeys {
		key, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("fallback key: %w", err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	sealed, err := middleware.NewEncryptionMiddleware(enc)
	if err != nil {
		return nil, err
	}
	return append(mws, sealed), nil
}

// watchTemplates republishes template documents as they change on disk. Running documents
// keep the template version they were routed on.
func watchTemplates(ctx context.Context, eng *waypoint.Engine, src *loamAdapter.Source, logger *slog.Logger) error {
	changes, err := src.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for id := range changes {
			tpl, err := src.Template(ctx, id)
			if err != nil {
				logger.Warn("Template reload failed", "template", id, "err", err)
				continue
			}
			published, err := eng.Publish(ctx, tpl)
			if err != nil {
				logger.Warn("Template rejected", "template", id, "err", err)
				continue
			}
			logger.Info("Template republished", "template", published.Name, "template_version", published.Version)
		}
	}()
	return nil
}
