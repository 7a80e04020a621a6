package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/acebot/pkg/ace"
	"github.com/rmax-ai/acebot/pkg/api"
	"github.com/rmax-ai/acebot/pkg/auth"
	"github.com/rmax-ai/acebot/pkg/catalog"
	"github.com/rmax-ai/acebot/pkg/graph"
	"github.com/rmax-ai/acebot/pkg/identity"
	"github.com/rmax-ai/acebot/pkg/sso"
	"github.com/rmax-ai/acebot/pkg/store"
	storeredis "github.com/rmax-ai/acebot/pkg/store/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "acebot-d",
		Short:         "Serve adaptive card extension views over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "acebot-d: %v\n", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func run(ctx context.Context, cfg Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("component", "acebot-d"))
	logger.Info("system_started", zap.String("addr", cfg.Addr))

	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(sctx); err != nil {
				logger.Error("tracer_shutdown_failed", zap.Error(err))
			}
		}()
	}

	st, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed_to_init_store", zap.Error(err))
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed_to_close_store", zap.Error(err))
		} else {
			logger.Info("store_closed")
		}
	}()
	logger.Info("store_initialized", zap.String("backend", cfg.Storage.Backend))

	provider, dev := newIdentity(cfg.Identity)
	dir := newDirectory(cfg.Directory)

	gateOpts := []auth.Option{auth.WithLogger(logger.Named("auth"))}
	if cfg.PrincipalSource == "directory" {
		gateOpts = append(gateOpts, auth.WithDirectory(dir))
	}
	gate := auth.NewGate(provider, gateOpts...)

	cat, err := loadCatalog(cfg)
	if err != nil {
		logger.Error("failed_to_load_catalog", zap.Error(err))
		return err
	}
	logger.Info("catalog_loaded", zap.String("catalog", cat.Name), zap.Bool("require_auth", cat.RequireAuth))

	svc, err := ace.New(ace.Config{
		Catalog: cat,
		Gate:    gate,
		Mailer:  dir,
		Sources: map[string]ace.DataSource{"recentMessages": ace.RecentMessages(dir)},
		Logger:  logger.Named("ace"),
	})
	if err != nil {
		logger.Error("failed_to_build_service", zap.Error(err))
		return err
	}

	opts := []api.Option{
		api.WithLogger(logger.Named("api")),
		api.WithSSO(sso.NewHandler(gate, st, cfg.SSOTTL, logger.Named("sso"))),
	}
	if dev != nil {
		opts = append(opts, api.WithDevSignIn(dev))
	}
	if cfg.TLSCert != "" {
		opts = append(opts, api.WithTLS(cfg.TLSCert, cfg.TLSKey))
	}
	srv := api.NewServer(svc, cfg.Addr, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_initiated")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(sctx)
	})
	if sq, ok := st.(*store.Store); ok {
		g.Go(func() error {
			pruneLoop(gctx, sq, cfg.Storage.PruneEvery, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server_failed", zap.Error(err))
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}

func openStorage(ctx context.Context, cfg StorageConfig) (store.ClaimingStorage, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewStore(cfg.SQLitePath)
	case "redis":
		return storeredis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return store.NewMemory(time.Minute), nil
	}
}

// newIdentity returns the provider and, for the dev provider, the handle
// that serves /v1/dev/signin.
func newIdentity(cfg IdentityConfig) (identity.Provider, *identity.DevProvider) {
	if cfg.Provider == "tokenservice" {
		return identity.NewTokenService(identity.TokenServiceConfig{
			Endpoint:       cfg.Endpoint,
			ConnectionName: cfg.ConnectionName,
			AppID:          cfg.AppID,
			AppToken:       cfg.AppToken,
		}), nil
	}
	dev := identity.NewDevProvider(identity.DevConfig{
		ConnectionName: cfg.ConnectionName,
		BaseURL:        cfg.BaseURL,
		SigningKey:     []byte(cfg.SigningKey),
	})
	return dev, dev
}

func newDirectory(cfg DirectoryConfig) graph.Directory {
	if cfg.Backend == "graph" {
		return graph.NewClient(cfg.Endpoint, cfg.Timeout)
	}
	return graph.NewMemory()
}

func loadCatalog(cfg Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.Embedded(cfg.Catalog)
}

// pruneLoop deletes expired SSO claims from SQLite. Redis and memory expire
// keys on their own.
func pruneLoop(ctx context.Context, st *store.Store, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PruneExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("store_prune_failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logger.Debug("store_pruned", zap.Int64("count", n))
			}
		}
	}
}
