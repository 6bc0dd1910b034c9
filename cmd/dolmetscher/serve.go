package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/dolmetscher/pkg/auth/apikey"
	"github.com/rhuss/dolmetscher/pkg/config"
	"github.com/rhuss/dolmetscher/pkg/debug"
	"github.com/rhuss/dolmetscher/pkg/engine"
	"github.com/rhuss/dolmetscher/pkg/provider/anthropic"
	transporthttp "github.com/rhuss/dolmetscher/pkg/transport/http"
)

var servePort int

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// loadConfig loads the layered configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	debug.Init(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})

	client, err := anthropic.New(anthropic.Config{
		BaseURL:          cfg.Upstream.BaseURL,
		APIKey:           cfg.Upstream.APIKey,
		Version:          cfg.Upstream.AnthropicVersion,
		Beta:             cfg.Upstream.Beta,
		Timeout:          cfg.Upstream.Timeout,
		DefaultMaxTokens: cfg.Upstream.DefaultMaxTokens,
		ModelAliases:     cfg.Upstream.ModelAliases,
		Images: anthropic.ImageConfig{
			FetchRemote: cfg.Images.FetchRemote,
			MaxBytes:    cfg.Images.MaxBytes,
			Timeout:     cfg.Images.Timeout,
		},
	})
	if err != nil {
		return fmt.Errorf("creating upstream client: %w", err)
	}

	eng, err := engine.New(client, engine.Config{
		DefaultModel: cfg.Upstream.DefaultModel,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	srv := transporthttp.NewServer(eng,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithCredentials(apikey.DefaultChain(cfg.Upstream.APIKey)),
		transporthttp.WithBackend(client, client),
		transporthttp.WithCORS(transporthttp.CORSConfig{
			Enabled:        cfg.CORS.Enabled,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
		}),
		transporthttp.WithMetrics(transporthttp.MetricsConfig{
			Enabled: cfg.Observability.Metrics.Enabled,
			Path:    cfg.Observability.Metrics.Path,
		}),
		transporthttp.WithOpenAPI(transporthttp.OpenAPIConfig{
			Enabled:     cfg.OpenAPI.Enabled,
			Path:        cfg.OpenAPI.Path,
			Title:       cfg.OpenAPI.Title,
			UpstreamURL: cfg.Upstream.BaseURL,
		}),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("dolmetscher starting",
		"version", version,
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
		"default_model", cfg.Upstream.DefaultModel,
		"fallback_key", cfg.Upstream.APIKey != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stop()
		return client.Close()
	})
	return g.Wait()
}
