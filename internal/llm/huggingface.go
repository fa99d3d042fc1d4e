package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultHFModel   = "gpt2-medium"
	maxHFResponseLen = 4 << 20
)

// HuggingFaceProvider calls the hosted inference API for text-generation
// models.
type HuggingFaceProvider struct {
	cfg Config
}

func NewHuggingFaceProvider(cfg Config) *HuggingFaceProvider {
	return &HuggingFaceProvider{cfg: cfg}
}

func (p *HuggingFaceProvider) Name() string { return "HuggingFace" }

func (p *HuggingFaceProvider) Capabilities() []Capability {
	return []Capability{CapabilityUsableOutput, CapabilityInference}
}

func (p *HuggingFaceProvider) Modalities() []Modality {
	return []Modality{ModalityText}
}

func (p *HuggingFaceProvider) Availabilities() []Availability {
	return []Availability{AvailabilityHosted}
}

func (p *HuggingFaceProvider) Finetune(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%s finetune: %w", p.Name(), ErrUnsupported)
}

func (p *HuggingFaceProvider) Infer(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = defaultHFModel
	}
	if p.cfg.HFBaseURL == "" {
		return "", fmt.Errorf("huggingface infer: base url is not configured")
	}
	endpoint, err := url.JoinPath(p.cfg.HFBaseURL, "models", model)
	if err != nil {
		return "", fmt.Errorf("huggingface infer: build url: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"inputs": prompt,
		"parameters": map[string]any{
			"return_full_text": false,
		},
		"options": map[string]any{
			"wait_for_model": true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("huggingface infer: encode request: %w", err)
	}

	if err := p.cfg.wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("huggingface infer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.HFToken != nil {
		token, err := p.cfg.HFToken.Reveal()
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.cfg.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("huggingface infer %s: %w", model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHFResponseLen))
	if err != nil {
		return "", fmt.Errorf("huggingface infer %s: read response: %w", model, err)
	}
	if msg := gjson.GetBytes(raw, "error"); msg.Exists() {
		return "", fmt.Errorf("huggingface infer %s: %w: %s (status %d)", model, ErrUpstream, msg.String(), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("huggingface infer %s: %w: unexpected status %d", model, ErrUpstream, resp.StatusCode)
	}

	text := gjson.GetBytes(raw, "0.generated_text")
	if !text.Exists() {
		text = gjson.GetBytes(raw, "generated_text")
	}
	if !text.Exists() || strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("huggingface infer %s: %w", model, ErrEmptyOutput)
	}
	return text.String(), nil
}
