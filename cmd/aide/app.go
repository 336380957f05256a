package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kalambet/aide/internal/agent"
	"github.com/kalambet/aide/internal/config"
	"github.com/kalambet/aide/internal/consolidate"
	"github.com/kalambet/aide/internal/ingest"
	"github.com/kalambet/aide/internal/llm"
	"github.com/kalambet/aide/internal/logging"
	"github.com/kalambet/aide/internal/reminder"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/workspace"
)

// app holds the components shared by `aide serve` and `aide chat`.
type app struct {
	cfg          config.Config
	root         *workspace.Root
	book         *reminder.Book
	store        *storage.Store
	ingestor     *ingest.Ingestor
	agent        *agent.Agent
	consolidator *consolidate.Consolidator
}

func usersDir(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "users")
}

// newApp opens storage and builds the model-backed components. Without an
// API key agent and consolidator stay nil.
func newApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	store.SetRetryPolicy(cfg.Reminders.MaxAttempts, cfg.Reminders.RetryBackoff)

	root := workspace.New(usersDir(cfg))
	book := reminder.NewBook(root)
	a := &app{
		cfg:      cfg,
		root:     root,
		book:     book,
		store:    store,
		ingestor: ingest.New(root, nil),
	}

	if err := cfg.RequireLLM(); err != nil {
		slog.Warn("language model disabled", "error", err)
		return a, nil
	}
	client := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	a.consolidator = consolidate.New(client.WithModel(cfg.LLM.ConsolidationModel), root)
	a.agent = agent.New(client, root, book, a.consolidator)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// setupLogging installs the configured handler as the slog default.
func setupLogging(cfg config.Config) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		printWarning("%v, using info", err)
	}
	slog.SetDefault(logging.New(
		logging.WithLevel(level),
		logging.WithFormat(cfg.Log.Format),
		logging.WithWriter(os.Stderr),
	))
}
