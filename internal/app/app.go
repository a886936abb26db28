// Package app wires the application together: configuration, the AI
// model, data fetchers, the operation registry, the orchestrator and
// the HTTP server.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/api"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/cache"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/config"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ledger"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ops"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/orchestrator"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/records"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/session"
)

// App holds the assembled application. Construct with Setup and release
// resources with Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Records  *records.SheetStore
	Ledger   ledger.Client
	Cache    *cache.Cache
	Sessions *session.Store
	Registry *ops.Registry

	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server
}

// Close releases resources held by the application. Safe to call on a
// partially constructed App.
func (a *App) Close() {
	if a.Sessions != nil {
		a.Sessions.Close()
	}
}
