// Package agent answers user messages with the stored memory and reminders
// as context and files what it learns from each exchange.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/aide/internal/consolidate"
	"github.com/kalambet/aide/internal/extract"
	"github.com/kalambet/aide/internal/reminder"
	"github.com/kalambet/aide/internal/workspace"
)

const systemPromptTemplate = `You are a helpful personal assistant with memory. You remember details about the user and help them stay organized.

## Your Memory
%s

## Active Reminders
%s

Be conversational and helpful. If the user mentions something worth remembering (facts, preferences, plans), acknowledge it naturally. If they mention a task or reminder, confirm you'll track it.`

// Chatter produces a reply to a user message under a system prompt.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Model is what the agent needs from a language model.
type Model interface {
	Chatter
	extract.Generator
}

// Agent wires the model to a user's documents.
type Agent struct {
	model        Model
	root         *workspace.Root
	book         *reminder.Book
	memory       *extract.MemoryExtractor
	reminders    *extract.ReminderExtractor
	consolidator *consolidate.Consolidator
}

// New creates an Agent. consolidator may be nil, in which case organize
// requests are answered as plain chat.
func New(model Model, root *workspace.Root, book *reminder.Book, consolidator *consolidate.Consolidator) *Agent {
	return &Agent{
		model:        model,
		root:         root,
		book:         book,
		memory:       extract.NewMemoryExtractor(model, root),
		reminders:    extract.NewReminderExtractor(model, book),
		consolidator: consolidator,
	}
}

// Chat answers message, logs the exchange and runs memory then reminder
// extraction. Extraction failures are logged and never fail the reply.
func (a *Agent) Chat(ctx context.Context, userID, message string) (string, error) {
	u, err := a.root.User(userID)
	if err != nil {
		return "", err
	}
	mem, err := u.ReadMemory()
	if err != nil {
		return "", err
	}
	rem, err := u.ReadReminders()
	if err != nil {
		return "", err
	}

	reply, err := a.model.Chat(ctx, fmt.Sprintf(systemPromptTemplate, mem, rem), message)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}

	if err := u.AppendLog(message, reply); err != nil {
		slog.Warn("appending conversation log", "user", u.ID(), "error", err)
	}
	if _, err := a.memory.Extract(ctx, userID, message, reply); err != nil {
		slog.Warn("memory extraction failed", "user", u.ID(), "error", err)
	}
	if r, err := a.reminders.Extract(ctx, userID, message); err != nil {
		slog.Warn("reminder extraction failed", "user", u.ID(), "error", err)
	} else if r != nil {
		slog.Info("reminder captured", "user", u.ID(), "id", r.ID, "due", r.Due)
	}
	return reply, nil
}

// Handle routes message by intent.
func (a *Agent) Handle(ctx context.Context, userID, message string) (string, error) {
	if _, err := workspace.Sanitize(userID); err != nil {
		return "", err
	}
	switch DetectIntent(ctx, a.model, message) {
	case IntentOrganize:
		if a.consolidator != nil {
			return a.organize(ctx, userID)
		}
	case IntentShowNotes:
		return a.showNotes(userID)
	case IntentShowReminders:
		return a.showReminders(ctx, userID)
	}
	return a.Chat(ctx, userID, message)
}

func (a *Agent) organize(ctx context.Context, userID string) (string, error) {
	if _, err := a.consolidator.Run(ctx, userID); err != nil {
		if errors.Is(err, consolidate.ErrNothingToConsolidate) {
			return "No notes to organize yet.", nil
		}
		return "", err
	}
	tree, err := consolidate.Tree(a.root, userID)
	if err != nil {
		return "", err
	}
	return "✅ Notes organized!\n\n" + tree, nil
}

func (a *Agent) showNotes(userID string) (string, error) {
	tree, err := consolidate.Tree(a.root, userID)
	if err != nil {
		return "", err
	}
	u, err := a.root.User(userID)
	if err != nil {
		return "", err
	}
	mem, err := u.ReadMemory()
	if err != nil {
		return "", err
	}
	return tree + "\n\n" + strings.TrimSpace(mem), nil
}

func (a *Agent) showReminders(ctx context.Context, userID string) (string, error) {
	list, err := a.book.List(ctx, userID)
	if err != nil {
		return "", err
	}
	return FormatReminders(list), nil
}

// FormatReminders renders open reminders first, then completed ones.
func FormatReminders(list []reminder.Reminder) string {
	var open, done []string
	for _, r := range list {
		line := r.Text
		if r.Due != "" {
			line += " (due " + r.Due + ")"
		}
		if r.Completed {
			done = append(done, "✓ "+line)
		} else {
			open = append(open, "• "+line)
		}
	}
	if len(open) == 0 && len(done) == 0 {
		return "No reminders."
	}
	var sb strings.Builder
	if len(open) > 0 {
		sb.WriteString("Open reminders:\n")
		sb.WriteString(strings.Join(open, "\n"))
	}
	if len(done) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Completed:\n")
		sb.WriteString(strings.Join(done, "\n"))
	}
	return sb.String()
}
