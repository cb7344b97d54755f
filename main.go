package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/artifact"
	"github.com/fabfab/recollect/backend"
	"github.com/fabfab/recollect/collector"
	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/enrich"
	"github.com/fabfab/recollect/events"
	"github.com/fabfab/recollect/llm"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/recall"
	"github.com/fabfab/recollect/session"
	"github.com/fabfab/recollect/snapshot"
	"github.com/fabfab/recollect/synthesis"
	"github.com/fabfab/recollect/thumbnail"
	"github.com/fabfab/recollect/tracing"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "recollect",
		Short:         "Search your personal knowledge index and synthesize what you find",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(gistCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(timeRangeCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is everything a command needs, built once from config.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	shutdown  tracing.ShutdownFunc
	client    *backend.Client
	bus       *events.Bus
	snapshots *snapshot.Store
	session   *recall.Session
	thumbs    *thumbnail.Cache
	collector *collector.Collector
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger setup: %w", err)
	}

	shutdown := tracing.Init(ctx, cfg.Tracing, logger)
	tokens := session.New(cfg.Session)
	client := backend.New(cfg, tokens, logger)

	streamer, err := llm.NewStreamer(cfg.LLM, client)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	// only the gist provider talks to the recollect API
	var synthTokens session.Provider
	if cfg.LLM.Provider == config.ProviderGist {
		synthTokens = tokens
	}

	bus := events.NewBus(logger)
	store := snapshot.NewStore(cfg.Snapshot.Path, cfg.Snapshot.MaxHistory)
	sess := recall.New(recall.Deps{
		Searcher:    client,
		Enricher:    enrich.NewFetcher(client, cfg.Enrich, logger),
		Synthesizer: synthesis.NewRequester(streamer, synthTokens, cfg.Synthesis.IdleTimeout, cfg.LLM.Temperature, logger),
		Persister:   artifact.NewPersister(client, cfg.Artifact, logger),
		Bus:         bus,
		Snapshots:   store,
		Logger:      logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		shutdown:  shutdown,
		client:    client,
		bus:       bus,
		snapshots: store,
		session:   sess,
		thumbs:    thumbnail.NewCache(client, cfg.Thumbnail.TTL, logger),
		collector: collector.New(cfg.Collector, client, client, store, logger),
	}, nil
}

func (a *app) Close() {
	a.session.Close()
	if err := a.bus.Close(); err != nil {
		a.logger.Debug("close event bus", zap.Error(err))
	}
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Warn("tracing shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
