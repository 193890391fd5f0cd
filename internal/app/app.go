// Package app assembles the engine stack shared by the HTTP and MCP binaries.
package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/service"
	"github.com/lab-risk-aggregator/internal/tables"
)

// App holds the wired engine and the assessor that fronts it
type App struct {
	Tables   *tables.Tables
	Engine   *service.RiskEngine
	Assessor domain.Assessor
}

// New loads the clinical tables named by the engine config, builds the engine and puts the
// result cache in front of it when enabled.
func New(cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	t, err := tables.Load(cfg.Engine.TablesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load clinical tables: %w", err)
	}

	engine := service.NewRiskEngine(t, logger, service.EngineOptions{
		Workers:      cfg.Engine.Workers,
		IncludeTrace: cfg.Engine.IncludeTrace,
	})

	a := &App{Tables: t, Engine: engine, Assessor: engine}
	if cfg.Cache.Enabled {
		cached, err := service.NewCachedEngine(engine, cfg.Cache.MaxItems, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		a.Assessor = cached
	}

	logger.WithFields(logrus.Fields{
		"tables_version": t.Version,
		"tables_path":    cfg.Engine.TablesPath,
		"conditions":     len(t.Conditions),
		"cache":          cfg.Cache.Enabled,
	}).Info("Risk engine initialized")

	return a, nil
}
