package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/aide/internal/config"
	"github.com/kalambet/aide/internal/notify"
	"github.com/kalambet/aide/internal/reminder"
	"github.com/kalambet/aide/internal/workspace"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in this terminal",
	Long: `Chat with the assistant in this terminal. Reminders for the
current user are delivered here while the session is open.

Type quit, exit or q to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), os.Stdin)
	},
}

// chatResponder is the slice of agent.Agent the chat loop needs.
type chatResponder interface {
	Handle(ctx context.Context, userID, message string) (string, error)
}

func runChat(ctx context.Context, in io.Reader) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireLLM(); err != nil {
		return err
	}
	setupLogging(cfg)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	userID, err := workspace.Sanitize(userFlag)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console := notify.NewConsole(stdout, userID)
	poller := reminder.NewPoller(a.book, reminder.NotifyFunc(func(ctx context.Context, uid string, r reminder.Reminder) error {
		if err := console.Notify(ctx, uid, r); err != nil {
			return err
		}
		fmt.Fprint(stdout, "You: ")
		return nil
	}), reminder.PollerConfig{
		Interval:        cfg.Reminders.Interval,
		DeliveryTimeout: cfg.Reminders.DeliveryTimeout,
		Journal:         a.store,
		Users:           []string{userID},
	})

	pollCtx, cancelPoll := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(pollCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("reminder poller stopped", "error", err)
		}
	}()
	defer func() {
		cancelPoll()
		wg.Wait()
	}()

	return chatLoop(ctx, a.agent, userID, in, stdout)
}

// chatLoop reads one message per line until EOF, a quit word or ctx ends.
func chatLoop(ctx context.Context, r chatResponder, userID string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(out, "Assistant ready. Type 'quit' to exit.")
	fmt.Fprintln(out)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "You: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "quit", "exit", "q":
			return nil
		case "":
			continue
		}

		reply, err := r.Handle(ctx, userID, line)
		if err != nil {
			printError("%v", err)
			continue
		}
		fmt.Fprintf(out, "Assistant: %s\n\n", reply)
	}
}
