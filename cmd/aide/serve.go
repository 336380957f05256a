package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/aide/internal/api"
	"github.com/kalambet/aide/internal/config"
	"github.com/kalambet/aide/internal/notify"
	"github.com/kalambet/aide/internal/reminder"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, MCP server and reminder poller (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServe(mcpStdio)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

// serverNotifier picks the delivery route for `aide serve`. Without a
// webhook, due reminders are written to the log.
func serverNotifier(cfg config.Config) reminder.Notifier {
	logNotifier := reminder.NotifyFunc(func(_ context.Context, userID string, r reminder.Reminder) error {
		slog.Info("reminder due", "user", userID, "text", r.Text, "due", r.Due)
		return nil
	})
	if cfg.Notify.WebhookURL == "" {
		return logNotifier
	}
	return notify.Multi{notify.NewWebhook(cfg.Notify.WebhookURL), logNotifier}
}

func runServe(mcpStdio bool) error {
	fmt.Fprintf(stderr, "aide version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	token, err := config.EnsureAPIToken(&cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()
	if cfg.Notify.WebhookURL == "" {
		printWarning("notify.webhook_url is not set; due reminders will only be logged")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wake := make(chan struct{}, 1)
	deps := api.AppDeps{
		Root:       a.root,
		Book:       a.book,
		Ingester:   a.ingestor,
		Deliveries: a.store,
		Token:      token,
		Wake:       wake,
	}
	// Typed nils would defeat the handlers' nil checks.
	if a.agent != nil {
		deps.Assistant = a.agent
		deps.Consolidator = a.consolidator
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewAppHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	poller := reminder.NewPoller(a.book, serverNotifier(cfg), reminder.PollerConfig{
		Interval:        cfg.Reminders.Interval,
		DeliveryTimeout: cfg.Reminders.DeliveryTimeout,
		Journal:         a.store,
		Wake:            wake,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("aide listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := poller.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Reminders.Watch {
		g.Go(func() error {
			if err := reminder.Watch(gctx, a.root.Dir(), wake, 250*time.Millisecond); err != nil {
				slog.Warn("reminder file watcher stopped", "error", err)
			}
			return nil
		})
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Root:        a.root,
			Book:        a.book,
			DefaultUser: userFlag,
			Wake:        wake,
		})
		g.Go(func() error {
			err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	err = g.Wait()
	fmt.Fprintln(stderr, "shutting down...")
	return err
}
