package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/aide/internal/workspace"
)

// MemoryExtractor stores facts the model pulls out of a conversation turn.
type MemoryExtractor struct {
	gen  Generator
	root *workspace.Root
}

// NewMemoryExtractor creates a MemoryExtractor writing under root.
func NewMemoryExtractor(gen Generator, root *workspace.Root) *MemoryExtractor {
	return &MemoryExtractor{gen: gen, root: root}
}

// Extract asks the model for notable facts in the exchange and appends them
// to the user's memory. It reports whether anything was written. A reply of
// NOTHING, in any case, or an empty reply writes nothing.
func (e *MemoryExtractor) Extract(ctx context.Context, userID, userMessage, reply string) (bool, error) {
	u, err := e.root.User(userID)
	if err != nil {
		return false, err
	}
	out, err := e.gen.Generate(ctx, BuildMemoryPrompt(userMessage, reply))
	if err != nil {
		return false, fmt.Errorf("generating memory extraction: %w", err)
	}
	facts := strings.TrimSpace(out)
	if facts == "" || strings.ToUpper(facts) == "NOTHING" {
		return false, nil
	}
	if err := u.AppendMemory(facts); err != nil {
		return false, fmt.Errorf("appending memory: %w", err)
	}
	slog.Debug("memory note stored", "user", u.ID(), "bytes", len(facts))
	return true, nil
}
