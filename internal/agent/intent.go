package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/aide/internal/extract"
)

// Intent is the routing decision for an incoming message.
type Intent string

const (
	IntentOrganize      Intent = "organize"
	IntentShowNotes     Intent = "show_notes"
	IntentShowReminders Intent = "show_reminders"
	IntentChat          Intent = "chat"
)

var intents = []struct {
	intent Intent
	desc   string
}{
	{IntentOrganize, "User wants to organize, consolidate, or structure their notes/wiki"},
	{IntentShowNotes, "User wants to see, view, or read their notes or wiki"},
	{IntentShowReminders, "User wants to see their reminders or todos"},
	{IntentChat, "General conversation, questions, or anything else"},
}

// BuildIntentPrompt asks the model to classify message into one intent.
func BuildIntentPrompt(message string) string {
	var sb strings.Builder
	sb.WriteString("Classify this user message into ONE intent.\n\nIntents:\n")
	for _, it := range intents {
		fmt.Fprintf(&sb, "- %s: %s\n", it.intent, it.desc)
	}
	fmt.Fprintf(&sb, "\nUser message: %s\n\n", message)
	sb.WriteString("Respond with ONLY the intent name (organize, show_notes, show_reminders, or chat). Nothing else.")
	return sb.String()
}

// DetectIntent classifies message. Any failure or unrecognized answer falls
// back to IntentChat so the message is still answered.
func DetectIntent(ctx context.Context, gen extract.Generator, message string) Intent {
	out, err := gen.Generate(ctx, BuildIntentPrompt(message))
	if err != nil {
		slog.Warn("intent detection failed", "error", err)
		return IntentChat
	}
	got := Intent(strings.Trim(strings.ToLower(strings.TrimSpace(out)), "`.\"'"))
	for _, it := range intents {
		if it.intent == got {
			return got
		}
	}
	return IntentChat
}
