// Package llm holds the completion-provider plugins and the prompt adapter used
// by replay strategies.
package llm

import (
	"context"
	"errors"
)

var (
	ErrUnsupported = errors.New("llm: operation not supported by provider")
	ErrNoProvider  = errors.New("llm: provider not registered")
	ErrNoAPIKey    = errors.New("llm: api key not configured")
	ErrEmptyOutput = errors.New("llm: provider returned no output")
	ErrUpstream    = errors.New("llm: upstream api error")

	ErrTooFewExamples = errors.New("llm: too few fine-tuning examples")
)

type Capability string

const (
	CapabilityTraining     Capability = "TRAINING"
	CapabilityTuning       Capability = "TUNING"
	CapabilityUsableOutput Capability = "USABLE_OUTPUT"
	CapabilityInference    Capability = "INFERENCE"
)

type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
)

type Availability string

const (
	AvailabilityHosted Availability = "HOSTED"
	AvailabilityLocal  Availability = "LOCAL"
)

type CompletionProvider interface {
	Name() string
	Capabilities() []Capability
	Modalities() []Modality
	Availabilities() []Availability
	Infer(ctx context.Context, model, prompt string) (string, error)
	// Finetune returns ErrUnsupported unless the provider lists CapabilityTuning.
	Finetune(ctx context.Context, prompt, completion string) (string, error)
}

// FinetuneExample is one prompt/completion training pair.
type FinetuneExample struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// BatchTuner is implemented by providers that train on a file of examples.
type BatchTuner interface {
	FinetuneBatch(ctx context.Context, examples []FinetuneExample) (string, error)
}

// ModelLister is implemented by providers that can enumerate the models
// available to the configured account.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

func HasCapability(p CompletionProvider, c Capability) bool {
	for _, have := range p.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

func HasModality(p CompletionProvider, m Modality) bool {
	for _, have := range p.Modalities() {
		if have == m {
			return true
		}
	}
	return false
}
