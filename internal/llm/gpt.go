package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go/v3"
)

const defaultChatModel = "gpt-4o"

// GPTProvider serves OpenAI chat models and, for legacy model names, the
// completions endpoint.
type GPTProvider struct {
	cfg Config
}

func NewGPTProvider(cfg Config) *GPTProvider {
	return &GPTProvider{cfg: cfg}
}

func (p *GPTProvider) Name() string { return "GPT" }

func (p *GPTProvider) Capabilities() []Capability {
	return []Capability{CapabilityUsableOutput, CapabilityInference}
}

func (p *GPTProvider) Modalities() []Modality {
	return []Modality{ModalityText, ModalityImage}
}

func (p *GPTProvider) Availabilities() []Availability {
	return []Availability{AvailabilityHosted}
}

func (p *GPTProvider) Infer(ctx context.Context, model, prompt string) (string, error) {
	model = firstNonEmpty(model, p.cfg.Model, defaultChatModel)
	p.cfg.logger().Debug("gpt infer", "model", model, "prompt_len", len(prompt))
	if legacyCompletionModel(model) {
		return complete(ctx, p.cfg, model, prompt)
	}
	return chat(ctx, p.cfg, model, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(prompt),
	})
}

func (p *GPTProvider) Finetune(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%s finetune: %w", p.Name(), ErrUnsupported)
}

func (p *GPTProvider) Models(ctx context.Context) ([]string, error) {
	if err := p.cfg.wait(ctx); err != nil {
		return nil, err
	}
	client, err := newOpenAIClient(p.cfg)
	if err != nil {
		return nil, err
	}
	iter := client.Models.ListAutoPaging(ctx)
	out := []string{}
	for iter.Next() {
		out = append(out, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
