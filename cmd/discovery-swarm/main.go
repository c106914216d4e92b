package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/discovery-swarm/internal/classifier"
	"github.com/ajitpratap0/discovery-swarm/internal/config"
	"github.com/ajitpratap0/discovery-swarm/internal/extraction"
	"github.com/ajitpratap0/discovery-swarm/internal/identity"
	"github.com/ajitpratap0/discovery-swarm/internal/mention"
	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/ratelimit"
	"github.com/ajitpratap0/discovery-swarm/internal/source"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
	"github.com/ajitpratap0/discovery-swarm/internal/swarm"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg        *config.Config
	configFile string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:     "discovery-swarm",
		Short:   "Discovery Swarm: multi-source business discovery",
		Long:    "Queries web, registry, social, news and industry directory sources concurrently, then extracts, deduplicates, merges and scores the businesses they mention.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configFile != "" {
				cfg, err = config.LoadFile(configFile)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./config.yaml or ~/.discovery-swarm/config.yaml)")

	rootCmd.AddCommand(
		runCmd(),
		serveCmd(),
		mcpCmd(),
		statsCmd(),
		listCmd(),
		getCmd(),
		exportCmd(),
		healthCmd(),
		migrateCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch strings.ToLower(cfg.Logging.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// app holds the components shared by the commands.
type app struct {
	records store.RecordStore
	merge   *merge.Store
}

func (a *app) Close() error { return a.records.Close() }

func openApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	records, err := store.Open(ctx, cfg.Store.Options(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	cls := classifier.NewClassifier(cfg.Scoring.Policy(), logger)
	return &app{records: records, merge: merge.New(records, cls, logger)}, nil
}

// newAdapters builds the enabled HTTP adapters. Fixture adapters from
// sources.fixtures_file replace the HTTP adapter of the same type.
func newAdapters(logger *slog.Logger) (source.Set, error) {
	byType := make(map[models.SourceType]source.Adapter)
	for st, sc := range cfg.Sources.ByType() {
		if !sc.Enabled {
			continue
		}
		cc := sc.ClientConfig()
		if cc.BaseURL == "" {
			continue
		}
		switch st {
		case models.SourceWeb:
			byType[st] = source.NewWebSearch(cc, logger)
		case models.SourceGovRegistry:
			byType[st] = source.NewGovernmentRegistry(cc, logger)
		case models.SourceSocial:
			byType[st] = source.NewSocialMedia(cc, logger)
		case models.SourceIndustryAssoc:
			byType[st] = source.NewIndustryDirectory(cc, logger)
		case models.SourceNews:
			var mentions source.MentionExtractor
			if cfg.Claude.APIKey != "" {
				mentions = mention.NewClaudeExtractor(cfg.Claude.APIKey, cfg.Claude.Model, logger)
			}
			byType[st] = source.NewNews(cc, mentions, logger)
		}
	}
	if cfg.Sources.FixturesFile != "" {
		fixtures, err := source.LoadFixtures(cfg.Sources.FixturesFile)
		if err != nil {
			return nil, err
		}
		for _, f := range fixtures {
			byType[f.Type()] = f
		}
	}

	adapters := make([]source.Adapter, 0, len(byType))
	for _, st := range models.ValidSourceTypes {
		if a, ok := byType[st]; ok {
			adapters = append(adapters, a)
		}
	}
	return source.NewSet(adapters...)
}

// newLimiter returns the limiter and a close func for the shared bucket.
func newLimiter(logger *slog.Logger) (*ratelimit.Limiter, func()) {
	opts := []ratelimit.Option{ratelimit.WithDefaultPolicy(cfg.RateLimits.Default.Policy())}
	closeFn := func() {}
	if cfg.RateLimits.Backend == "redis" {
		rb := ratelimit.NewRedisBucket(cfg.RateLimits.Redis.Addr, cfg.RateLimits.Redis.Password, cfg.RateLimits.Redis.DB)
		opts = append(opts, ratelimit.WithRemote(rb))
		closeFn = func() { _ = rb.Close() }
	}
	return ratelimit.New(cfg.RateLimits.Policies(), logger, opts...), closeFn
}

// newController wires the whole pipeline over a.
func newController(a *app, logger *slog.Logger) (*swarm.Controller, func(), error) {
	adapters, err := newAdapters(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building source adapters: %w", err)
	}
	limiter, closeLimiter := newLimiter(logger)
	orch := swarm.New(swarm.Deps{
		Adapters: adapters,
		Limiter:  limiter,
		Engine:   extraction.NewEngine(cfg.ExtractionEngineConfig(), logger),
		Resolver: identity.NewResolver(a.merge, cfg.Extraction.MaxNameKeyLength),
		Merge:    a.merge,
	}, cfg.OrchestratorConfig(), logger)
	return swarm.NewController(orch, logger), closeLimiter, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
