package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

const leafSystemPrompt = "You are a task executor in a job hierarchy. " +
	"Perform the requested task and reply with a concise result. " +
	"Reply with the outcome only, no preamble."

// AnthropicExecutor runs leaf work as a single-turn completion against
// the Anthropic API. Selected with executor.provider = "anthropic".
type AnthropicExecutor struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    arbor.ILogger
}

var _ interfaces.LeafExecutor = (*AnthropicExecutor)(nil)

// NewAnthropicExecutor creates an API-backed executor from configuration
func NewAnthropicExecutor(cfg *common.ExecutorConfig, logger arbor.ILogger) (*AnthropicExecutor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic executor requires an API key (set ANTHROPIC_API_KEY or executor.api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-haiku-3-5-20241022"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 5 * time.Minute
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
	)

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Str("timeout", timeout.String()).
		Msg("Anthropic executor initialized")

	return &AnthropicExecutor{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Name returns the registry name of this executor
func (e *AnthropicExecutor) Name() string {
	return "anthropic"
}

// Execute sends the task description as a single user turn and returns
// the response text. The call deadline is the tighter of the executor
// timeout and the job deadline on ctx.
func (e *AnthropicExecutor) Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	startTime := time.Now()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: int64(e.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(request)),
		},
		System: []anthropic.TextBlockParam{
			{Text: leafSystemPrompt},
		},
	}

	resp, err := e.client.Messages.New(callCtx, params)
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("job_id", execCtx.JobID).
			Int("depth", execCtx.Depth).
			Msg("Anthropic API call failed")
		return nil, &models.ExecutorError{Cause: err}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &models.ExecutorError{Cause: fmt.Errorf("empty response from model %s", e.model)}
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("job_id", execCtx.JobID).
		Int("depth", execCtx.Depth).
		Int("response_length", text.Len()).
		Str("duration", duration.String()).
		Msg("Anthropic executor completed leaf")

	return &models.LeafResult{
		Summary: models.TruncateSummary(text.String()),
		Details: map[string]interface{}{
			"executor":    "anthropic",
			"model":       e.model,
			"response":    text.String(),
			"duration_ms": duration.Milliseconds(),
		},
	}, nil
}
