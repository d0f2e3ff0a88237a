package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/tablechat/internal/api"
	"github.com/RichardoC/tablechat/internal/catalog"
	"github.com/RichardoC/tablechat/internal/config"
	"github.com/RichardoC/tablechat/internal/llm"
	"github.com/RichardoC/tablechat/internal/session"
	"github.com/RichardoC/tablechat/internal/vectorstore"
	"github.com/RichardoC/tablechat/web"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(v *viper.Viper, load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat page and API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	bindString(v, cmd, "server.addr", "addr", "address to listen on")
	return cmd
}

// components are the long-lived pieces shared by serve and ask.
type components struct {
	catalog *catalog.Catalog
	agents  *llm.Factory
}

func newComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	model, err := llm.NewModel(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}

	embed := vectorstore.NewEmbeddingFunc(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
	cat, err := catalog.New(cfg.VectorStores, cfg.Databases, embed, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog")
	}

	agents := llm.NewFactory(model, cat, llm.Options{
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxRounds:    cfg.Agent.MaxRounds,
		SearchK:      cfg.Agent.SearchK,
	}, logger)
	return &components{catalog: cat, agents: agents}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	c, err := newComponents(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer c.catalog.Close()

	sessions := session.NewManager(cfg.Server.SessionTTL, logger)
	sessions.OnExpire(c.agents.Forget)

	mux := http.NewServeMux()
	api.NewHandler(sessions, c.catalog, c.agents, logger).Register(mux, web.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("model", cfg.LLM.Model),
			zap.Strings("databases", c.catalog.DatabaseIDs()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		if cfg.Server.SweepInterval <= 0 {
			return nil
		}
		return sessions.Run(ctx, cfg.Server.SweepInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped", zap.Error(err))
		return err
	}
	return nil
}
