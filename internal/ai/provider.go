package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/auraplan/aura/internal/config"
)

// Provider proposes planner input from free text. The returned JSON is
// unvalidated and must go through package intake.
type Provider interface {
	ProposeCommitments(ctx context.Context, text string) ([]byte, error)
	ProposeAssignments(ctx context.Context, text string) ([]byte, error)
}

// NewProvider returns the provider selected by cfg.Provider.
func NewProvider(cfg config.AIConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "claude-cli":
		return NewClaudeCLI(cfg.Model, logger), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider needs ai.api_key or OPENAI_API_KEY")
		}
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, logger), nil
	}
	return nil, fmt.Errorf("unknown ai.provider %q (want claude-cli or openai)", cfg.Provider)
}
