package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/openai/openai-go/v3"
)

// PromptAdapter sends a prompt with an optional system prompt and images to a
// multimodal model and returns the text answer.
type PromptAdapter interface {
	Prompt(ctx context.Context, prompt, system string, images []image.Image) (string, error)
}

type OpenAIPromptAdapter struct {
	cfg Config
}

func NewOpenAIPromptAdapter(cfg Config) *OpenAIPromptAdapter {
	return &OpenAIPromptAdapter{cfg: cfg}
}

// DefaultPromptAdapter returns the adapter used by LLM-backed replay
// strategies.
func DefaultPromptAdapter(cfg Config) PromptAdapter {
	return NewOpenAIPromptAdapter(cfg)
}

func (a *OpenAIPromptAdapter) Prompt(ctx context.Context, prompt, system string, images []image.Image) (string, error) {
	messages, err := BuildMessages(prompt, system, images)
	if err != nil {
		return "", err
	}
	model := firstNonEmpty(a.cfg.Model, defaultChatModel)
	a.cfg.logger().Debug("prompt adapter request", "model", model, "images", len(images), "prompt_len", len(prompt))
	return chat(ctx, a.cfg, model, messages)
}

// BuildMessages lays out the system prompt followed by one user message
// carrying the text and every image as a base64 PNG data URL.
func BuildMessages(prompt, system string, images []image.Image) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
	}
	for i, img := range images {
		if img == nil {
			continue
		}
		dataURL, err := ImageDataURL(img)
		if err != nil {
			return nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}))
	}
	messages = append(messages, openai.UserMessage(parts))
	return messages, nil
}

func ImageDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
