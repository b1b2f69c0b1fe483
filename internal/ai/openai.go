package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI proposes planner input through the chat completions API with a
// JSON schema response format. BaseURL may point at any compatible server.
type OpenAI struct {
	Model  string
	client openai.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewOpenAI(apiKey, model, baseURL string, logger *slog.Logger) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(3),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		Model:  model,
		client: openai.NewClient(opts...),
		logger: logger,
		now:    time.Now,
	}
}

func (o *OpenAI) ProposeCommitments(ctx context.Context, text string) ([]byte, error) {
	return o.propose(ctx, commitmentTask(), text)
}

func (o *OpenAI) ProposeAssignments(ctx context.Context, text string) ([]byte, error) {
	return o.propose(ctx, assignmentTask(o.now()), text)
}

func (o *OpenAI) propose(ctx context.Context, t task, text string) ([]byte, error) {
	var schema map[string]any
	if err := json.Unmarshal([]byte(t.schema), &schema); err != nil {
		return nil, fmt.Errorf("decoding %s schema: %w", t.name, err)
	}
	delete(schema, "$schema")

	o.logger.Debug("requesting chat completion",
		"task", t.name,
		"model", o.Model,
		"system_prompt_len", len(t.system),
	)

	started := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(t.system),
			openai.UserMessage(buildUserPrompt(t, text)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   t.name,
					Schema: schema,
				},
			},
		},
	})
	if err != nil {
		o.logger.Error("chat completion failed", "task", t.name, "error", err)
		return nil, fmt.Errorf("requesting %s from openai: %w", t.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	content := resp.Choices[0].Message.Content
	o.logger.Debug("chat completion finished",
		"task", t.name,
		"elapsed", time.Since(started),
		"finish_reason", resp.Choices[0].FinishReason,
		"result", truncateStr(content, 2000),
	)
	if content == "" {
		return nil, fmt.Errorf("openai returned an empty %s proposal", t.name)
	}
	return []byte(content), nil
}
