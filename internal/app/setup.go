package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/api"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/cache"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/config"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ledger"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/model"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ops"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/orchestrator"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/planner"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/records"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/session"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	recStore := records.NewSheetStore(cfg.WorkbookPath)
	if err := recStore.Init(); err != nil {
		return nil, fmt.Errorf("initializing project workbook: %w", err)
	}
	a.Records = recStore

	a.Ledger = ledger.NewHTTPClient(cfg.LedgerBaseURL, cfg.LedgerToken, cfg.LedgerTimeout)
	a.Cache = cache.New(cfg.CacheTTL)
	a.Sessions = session.NewStore(cfg.SessionTTL, logger,
		session.WithSweepInterval(cfg.SessionSweep))

	handlers := ops.NewHandlers(recStore, a.Ledger, a.Cache, logger)
	registry, err := ops.NewRegistry(handlers, logger)
	if err != nil {
		return nil, fmt.Errorf("building operation registry: %w", err)
	}
	a.Registry = registry

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	tools, err := model.DefineOperationTools(g, registry.Catalogue())
	if err != nil {
		return nil, fmt.Errorf("defining operation tools: %w", err)
	}

	m, err := model.New(model.Config{
		Genkit:    g,
		ModelName: cfg.FullModelName(),
		Tools:     tools,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building model client: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Planner:      providePlanner(cfg, recStore, logger),
		Records:      records.NewFetcher(recStore, cfg.RecentFetchLimit, logger),
		Ledger:       ledger.NewFetcher(a.Ledger, a.Cache, cfg.RecentFetchLimit, logger),
		Registry:     registry,
		Model:        m,
		Sessions:     a.Sessions,
		Logger:       logger,
		FetchTimeout: cfg.FetchTimeout,
		ModelTimeout: cfg.ModelTimeout,
		TurnDeadline: cfg.TurnDeadline,
		MaxRounds:    cfg.MaxRounds,
	})
	if err != nil {
		return nil, fmt.Errorf("building orchestrator: %w", err)
	}
	a.Orchestrator = orch

	srv, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Orchestrator: orch,
		Registry:     registry,
		Sessions:     a.Sessions,
		ReadyCheck: func() error {
			_, err := recStore.List()
			return err
		},
		TrustProxy: cfg.TrustProxy,
		RateBurst:  cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}
	a.Server = srv

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), googleai, ollama and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: "http://localhost:11434"}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		logger.Info("initialized Genkit with ollama provider", "model", cfg.ModelName)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // gemini / googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// providePlanner builds the keyword planner, seeding entity-name hints
// from the project workbook so messages like "what about the Jones job"
// resolve without an ID.
func providePlanner(cfg *config.Config, store records.Store, logger *slog.Logger) *planner.Planner {
	var known []string
	projects, err := store.List()
	if err != nil {
		logger.Warn("reading workbook for planner hints", "error", err)
	}
	for _, p := range projects {
		if p.Name != "" {
			known = append(known, p.Name)
		}
		if p.Customer != "" {
			known = append(known, p.Customer)
		}
	}

	return planner.New(planner.Config{
		LedgerTerms:  cfg.LedgerTerms,
		RecordsTerms: cfg.RecordsTerms,
		SmallTalk:    cfg.SmallTalk,
		KnownNames:   known,
	})
}
