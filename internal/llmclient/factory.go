package llmclient

import (
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
	"github.com/insightpulseai/hawk/internal/config"
)

// NewClient builds the configured model backend. A missing API key is not an
// error here: the planner degrades to its rule tier when no remote model is
// available, so we return nil and let callers treat nil as "no remote model".
func NewClient(cfg config.PlannerConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if cfg.LLM.APIKey == "" {
		logger.Info("No LLM API key configured, planner will use template and rule tiers only")
		return nil, nil
	}
	return NewGeminiClient(cfg.LLM, logger)
}
