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

	"github.com/hochfrequenz/swarm-orchestrator/internal/batch"
	"github.com/hochfrequenz/swarm-orchestrator/internal/config"
	"github.com/hochfrequenz/swarm-orchestrator/internal/notify"
	"github.com/hochfrequenz/swarm-orchestrator/internal/observer"
	"github.com/hochfrequenz/swarm-orchestrator/web/api"
)

// runs in flight longer than this are reported as stuck
const stuckThreshold = 30 * time.Minute

var (
	watchServe bool
	servePort  int
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the configured schedules until interrupted",
		RunE:  runWatch,
	}
	watchCmd.Flags().BoolVar(&watchServe, "serve", false, "also serve the API and publish run events")
	rootCmd.AddCommand(watchCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Webhook notifications",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification to every configured webhook",
		RunE:  runNotifyTest,
	})
	rootCmd.AddCommand(notifyCmd)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) apiServer() (*api.Server, error) {
	store, err := a.perfStore()
	if err != nil {
		return nil, err
	}
	judge, err := a.judge()
	if err != nil {
		return nil, err
	}
	return api.NewServer(a.dispatcher(), store, judge, a.cfg.Addr(), a.logger), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if servePort != 0 {
		a.cfg.Web.Port = servePort
	}

	srv, err := a.apiServer()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	fmt.Printf("Serving on http://%s\n", a.cfg.Addr())
	return srv.Start(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.perfStore()
	if err != nil {
		return err
	}
	jobs, err := a.jobs()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	runner := batch.NewRunner(store, jobs.Map(), a.logger)
	obs := observer.New(stuckThreshold)
	runner.SetRecorder(obs)
	if err := runner.Reload(a.cfg.Schedule); err != nil {
		return err
	}
	if len(a.cfg.Schedule) == 0 {
		a.logger.Warn("no [[schedule]] entries configured; waiting for the config file to change")
	}

	serveErr := make(chan error, 1)
	if watchServe {
		srv, err := a.apiServer()
		if err != nil {
			return err
		}
		srv.SetObserver(obs)
		runner.SetPublisher(srv)
		go func() { serveErr <- srv.Start(ctx) }()
	}

	path := config.Resolve(configPath)
	cw, err := observer.NewConfigWatcher(path, func(p string) { reloadSchedules(runner, p, a) }, a.logger)
	if err != nil {
		a.logger.Warn("config reload disabled", "path", path, "error", err)
	} else {
		cw.Start(ctx)
		defer cw.Stop()
	}

	runner.Start()
	for _, e := range runner.Entries() {
		a.logger.Info("scheduled", "schedule", e.Name, "agent", e.Agent, "command", e.Command, "next", runner.NextRun(e.Name))
	}

	var runErr error
	serveDone := false
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		serveDone = true
		stop()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("waiting for running jobs: %w", err))
	}
	if watchServe && !serveDone {
		runErr = errors.Join(runErr, <-serveErr)
	}
	return runErr
}

func reloadSchedules(runner *batch.Runner, path string, a *app) {
	cfg, err := config.Load(path)
	if err != nil {
		a.logger.Warn("config reload rejected", "path", path, "error", err)
		return
	}
	if err := runner.Reload(cfg.Schedule); err != nil {
		a.logger.Warn("schedule reload rejected", "path", path, "error", err)
	}
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.notifier.(notify.NoopNotifier); ok {
		return errors.New("no webhook configured (set discord_webhook or slack_webhook, or DISCORD_WEBHOOK_URL)")
	}
	n := notify.Notification{
		Type:    notify.NotifyInfo,
		Title:   "swarm-orch test notification",
		Message: fmt.Sprintf("Webhook delivery works for agent %s.", a.cfg.General.Agent),
	}
	if err := a.notifier.Send(n); err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	fmt.Println(goodStyle.Render("Test notification sent."))
	return nil
}
