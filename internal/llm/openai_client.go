package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

func newOpenAIClient(cfg Config) (*openai.Client, error) {
	key, err := cfg.APIKey.Reveal()
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	return &client, nil
}

// legacyCompletionModel reports whether model is served by the completions
// endpoint rather than chat completions.
func legacyCompletionModel(model string) bool {
	switch {
	case strings.HasPrefix(model, "davinci"), strings.HasPrefix(model, "babbage"):
		return true
	case strings.HasSuffix(model, "-instruct"):
		return true
	case strings.HasPrefix(model, "ft:davinci"), strings.HasPrefix(model, "ft:babbage"):
		return true
	}
	return false
}

func complete(ctx context.Context, cfg Config, model, prompt string) (string, error) {
	if err := cfg.wait(ctx); err != nil {
		return "", err
	}
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return "", err
	}
	resp, err := client.Completions.New(ctx, openai.CompletionNewParams{
		Model:     openai.CompletionNewParamsModel(model),
		Prompt:    openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		MaxTokens: openai.Int(256),
	})
	if err != nil {
		return "", fmt.Errorf("completion %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion %s: %w", model, ErrEmptyOutput)
	}
	return resp.Choices[0].Text, nil
}

func chat(ctx context.Context, cfg Config, model string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if err := cfg.wait(ctx); err != nil {
		return "", err
	}
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return "", err
	}
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion %s: %w", model, ErrEmptyOutput)
	}
	return resp.Choices[0].Message.Content, nil
}
