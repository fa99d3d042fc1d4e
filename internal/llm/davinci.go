package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
)

const defaultDavinciModel = "davinci-002"

// DavinciProvider targets the GPT-3 Davinci completion models, including
// fine-tuning on prompt/completion pairs.
type DavinciProvider struct {
	cfg Config
}

func NewDavinciProvider(cfg Config) *DavinciProvider {
	return &DavinciProvider{cfg: cfg}
}

func (p *DavinciProvider) Name() string { return "GPT3-Davinci" }

func (p *DavinciProvider) Capabilities() []Capability {
	return []Capability{
		CapabilityTraining,
		CapabilityTuning,
		CapabilityUsableOutput,
		CapabilityInference,
	}
}

func (p *DavinciProvider) Modalities() []Modality {
	return []Modality{ModalityText}
}

func (p *DavinciProvider) Availabilities() []Availability {
	return []Availability{AvailabilityHosted}
}

// MinFinetuneExamples is the smallest training file the hosted fine-tuning
// API accepts.
const MinFinetuneExamples = 10

// Infer always uses the completions endpoint; a fine-tuned model id may be
// passed as model. Chat model names fall back to davinci-002 with a warning.
func (p *DavinciProvider) Infer(ctx context.Context, model, prompt string) (string, error) {
	if model != "" && !legacyCompletionModel(model) {
		p.cfg.logger().Warn("model is not a completion model, using the davinci base model",
			"requested_model", model, "model", defaultDavinciModel)
		model = ""
	}
	if model == "" {
		model = defaultDavinciModel
	}
	return complete(ctx, p.cfg, model, prompt)
}

// Finetune trains on a single pair. That is below MinFinetuneExamples, so it
// fails with ErrTooFewExamples before anything is uploaded; FinetuneBatch
// takes a full training set.
func (p *DavinciProvider) Finetune(ctx context.Context, prompt, completion string) (string, error) {
	return p.FinetuneBatch(ctx, []FinetuneExample{{Prompt: prompt, Completion: completion}})
}

// FinetuneBatch uploads examples as a JSONL training file and starts a
// fine-tuning job on the base Davinci model. It returns the job id.
func (p *DavinciProvider) FinetuneBatch(ctx context.Context, examples []FinetuneExample) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, example := range examples {
		if strings.TrimSpace(example.Prompt) == "" || strings.TrimSpace(example.Completion) == "" {
			return "", fmt.Errorf("davinci finetune: example %d: prompt and completion are required", i+1)
		}
		if err := enc.Encode(example); err != nil {
			return "", fmt.Errorf("davinci finetune: encode example %d: %w", i+1, err)
		}
	}
	if len(examples) < MinFinetuneExamples {
		return "", fmt.Errorf("davinci finetune: %w: got %d, need at least %d",
			ErrTooFewExamples, len(examples), MinFinetuneExamples)
	}

	client, err := newOpenAIClient(p.cfg)
	if err != nil {
		return "", err
	}

	if err := p.cfg.wait(ctx); err != nil {
		return "", err
	}
	file, err := client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(&buf, "adapt-finetune.jsonl", "application/jsonl"),
		Purpose: openai.FilePurposeFineTune,
	})
	if err != nil {
		return "", fmt.Errorf("davinci finetune: upload training file: %w", err)
	}

	if err := p.cfg.wait(ctx); err != nil {
		return "", err
	}
	job, err := client.FineTuning.Jobs.New(ctx, openai.FineTuningJobNewParams{
		Model:        openai.FineTuningJobNewParamsModel(defaultDavinciModel),
		TrainingFile: file.ID,
	})
	if err != nil {
		return "", fmt.Errorf("davinci finetune: create job: %w", err)
	}
	p.cfg.logger().Info("finetune job created", "job_id", job.ID, "training_file", file.ID, "examples", len(examples))
	return job.ID, nil
}
