package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/swarm-orchestrator/internal/audit"
	"github.com/hochfrequenz/swarm-orchestrator/internal/config"
	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
	"github.com/hochfrequenz/swarm-orchestrator/internal/issues"
	"github.com/hochfrequenz/swarm-orchestrator/internal/judgment"
	"github.com/hochfrequenz/swarm-orchestrator/internal/logging"
	"github.com/hochfrequenz/swarm-orchestrator/internal/notify"
	"github.com/hochfrequenz/swarm-orchestrator/internal/perfstore"
	"github.com/hochfrequenz/swarm-orchestrator/internal/prbot"
)

// app holds the components one command invocation needs. The store is
// opened lazily because most tracker commands never touch it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	gh       *github.Client
	source   *issues.Source
	notifier notify.Notifier
	store    *perfstore.Store
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg, &github.ExecRunner{Path: cfg.GitHub.GHPath, Repo: cfg.GitHub.Repo})
}

func newAppFromConfig(cfg *config.Config, runner github.Runner) (*app, error) {
	logger, err := logging.Setup(cfg.General.LogLevel, cfg.General.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	gh := github.NewClient(runner)
	return &app{
		cfg:      cfg,
		logger:   logger,
		gh:       gh,
		source:   issues.NewSource(gh, cfg.Codec(), cfg.GitHub.IssueLimit, logger),
		notifier: notify.FromWebhooks(cfg.Notifications.DiscordWebhook, cfg.Notifications.SlackWebhook, cfg.Notifications.Username),
	}, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *app) perfStore() (*perfstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if path := a.cfg.General.DatabasePath; path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	store, err := perfstore.New(a.cfg.General.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *app) dispatcher() *issues.Dispatcher {
	claimer := issues.NewClaimer(a.gh, a.source, a.cfg.General.Agent, a.cfg.GitHub.ClaimComment, a.logger)
	return issues.NewDispatcher(a.source, claimer, a.logger)
}

func (a *app) merger() *prbot.Merger {
	return prbot.NewMerger(a.gh, a.source, a.notifier, a.cfg.GitHub.ReviewLabel, a.cfg.GitHub.PRLimit, a.logger)
}

func (a *app) auditor() *audit.Auditor {
	return audit.New(a.gh, a.cfg.Codec(), a.cfg.GitHub.IssueLimit, a.logger)
}

func (a *app) judge() (*judgment.Manager, error) {
	store, err := a.perfStore()
	if err != nil {
		return nil, err
	}
	return judgment.NewManager(store, a.cfg.Thresholds, a.notifier, a.logger), nil
}
