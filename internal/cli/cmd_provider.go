package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openadapt/adapt/internal/llm"
	"github.com/spf13/cobra"
)

func newProviderCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Inspect and call completion providers",
		Example: "  adapt provider ls --modality IMAGE\n" +
			"  adapt provider infer openai \"Say hello\"\n" +
			"  adapt provider models",
	}
	cmd.AddCommand(
		newProviderListCommand(deps),
		newProviderInferCommand(deps),
		newProviderModelsCommand(deps),
		newProviderFinetuneCommand(deps),
	)
	return cmd
}

type providerView struct {
	Name           string             `json:"name"`
	Capabilities   []llm.Capability   `json:"capabilities"`
	Modalities     []llm.Modality     `json:"modalities"`
	Availabilities []llm.Availability `json:"availabilities"`
}

func joinStrings[T ~string](values []T) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ",")
}

func withRegistry(cmd *cobra.Command, deps commandDeps, flags runtimeOptions, fn func(context.Context, *runtimeEnv, *llm.Registry) error) error {
	flags.NoStore = true
	return withRuntime(cmd.Context(), deps, flags, func(ctx context.Context, env *runtimeEnv) error {
		registry, err := newRegistryFn(env.llmConfig())
		if err != nil {
			return err
		}
		return fn(ctx, env, registry)
	})
}

func newProviderListCommand(deps commandDeps) *cobra.Command {
	var modality string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List registered providers, optionally filtered by modality",
		Args:    exactArgs(0, "provider ls does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter llm.Modality
			switch strings.ToUpper(strings.TrimSpace(modality)) {
			case "":
			case string(llm.ModalityText):
				filter = llm.ModalityText
			case string(llm.ModalityImage):
				filter = llm.ModalityImage
			default:
				return usageErrorf("unknown modality %q (want TEXT or IMAGE)", modality)
			}

			return withRegistry(cmd, deps, runtimeOptions{}, func(_ context.Context, _ *runtimeEnv, registry *llm.Registry) error {
				providers := registry.All()
				if filter != "" {
					providers = registry.GetForModality(filter)
				}
				views := make([]providerView, 0, len(providers))
				for _, p := range providers {
					views = append(views, providerView{
						Name:           p.Name(),
						Capabilities:   p.Capabilities(),
						Modalities:     p.Modalities(),
						Availabilities: p.Availabilities(),
					})
				}
				if deps.globals.JSON {
					return printJSON(deps.out, views)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, v := range views {
					if _, err := fmt.Fprintf(
						deps.out,
						"%s capabilities=%s modalities=%s availability=%s\n",
						v.Name,
						joinStrings(v.Capabilities),
						joinStrings(v.Modalities),
						joinStrings(v.Availabilities),
					); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&modality, "modality", "", "Only providers supporting TEXT or IMAGE")
	return cmd
}

func newProviderInferCommand(deps commandDeps) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "infer <provider> <prompt>",
		Short: "Run a single text completion",
		Example: "  adapt provider infer openai \"Summarize: ...\"\n" +
			"  adapt provider infer huggingface \"Hello\" --model gpt2",
		Args: exactArgs(2, "provider infer requires a provider and a prompt"),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runtimeOptions{}
			if cmd.Flags().Changed("model") {
				opts.Flags.Model = &model
			}
			return withRegistry(cmd, deps, opts, func(ctx context.Context, env *runtimeEnv, registry *llm.Registry) error {
				provider, err := registry.Lookup(args[0])
				if err != nil {
					return err
				}
				output, err := provider.Infer(ctx, env.cfg.LLM.Model, args[1])
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"provider": provider.Name(),
						"model":    env.cfg.LLM.Model,
						"output":   output,
					})
				}
				_, err = fmt.Fprintln(deps.out, output)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model to use (default from config)")
	return cmd
}

func newProviderModelsCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "models [provider]",
		Short: "List models available to the configured account",
		Args:  maxArgs(1, "provider models accepts at most one provider"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv, registry *llm.Registry) error {
				name := env.cfg.LLM.Provider
				if len(args) == 1 {
					name = args[0]
				}
				provider, err := registry.Lookup(name)
				if err != nil {
					return err
				}
				lister, ok := provider.(llm.ModelLister)
				if !ok {
					return fmt.Errorf("%w: %s cannot list models", llm.ErrUnsupported, provider.Name())
				}
				models, err := lister.Models(ctx)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, models)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, m := range models {
					if _, err := fmt.Fprintln(deps.out, m); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newProviderFinetuneCommand(deps commandDeps) *cobra.Command {
	var prompt, completion, examplesPath string
	cmd := &cobra.Command{
		Use:   "finetune <provider>",
		Short: "Start a fine-tuning job from prompt/completion examples",
		Long: "Start a fine-tuning job. Examples are read from a JSONL file of\n" +
			"{\"prompt\": ..., \"completion\": ...} objects; --prompt and --completion add\n" +
			fmt.Sprintf("one more pair. Hosted training needs at least %d examples.", llm.MinFinetuneExamples),
		Example: "  adapt provider finetune davinci --examples ./pairs.jsonl\n" +
			"  cat pairs.jsonl | adapt provider finetune davinci --examples -",
		Args: exactArgs(1, "provider finetune requires exactly one provider"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (strings.TrimSpace(prompt) == "") != (strings.TrimSpace(completion) == "") {
				return usageErrorf("provider finetune requires --prompt and --completion together")
			}
			var examples []llm.FinetuneExample
			if examplesPath != "" {
				loaded, err := readFinetuneExamples(cmd, examplesPath)
				if err != nil {
					return mapCommandError(err)
				}
				examples = loaded
			}
			if strings.TrimSpace(prompt) != "" {
				examples = append(examples, llm.FinetuneExample{Prompt: prompt, Completion: completion})
			}
			if len(examples) == 0 {
				return usageErrorf("provider finetune requires --examples or --prompt and --completion")
			}

			return withRegistry(cmd, deps, runtimeOptions{}, func(ctx context.Context, _ *runtimeEnv, registry *llm.Registry) error {
				provider, err := registry.Lookup(args[0])
				if err != nil {
					return err
				}
				if !llm.HasCapability(provider, llm.CapabilityTuning) {
					return fmt.Errorf("%w: %s does not support fine-tuning", llm.ErrUnsupported, provider.Name())
				}
				var jobID string
				switch tuner, batch := provider.(llm.BatchTuner); {
				case batch:
					jobID, err = tuner.FinetuneBatch(ctx, examples)
				case len(examples) == 1:
					jobID, err = provider.Finetune(ctx, examples[0].Prompt, examples[0].Completion)
				default:
					err = fmt.Errorf("%w: %s fine-tunes on a single pair only", llm.ErrUnsupported, provider.Name())
				}
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"provider": provider.Name(), "job_id": jobID, "examples": len(examples)})
				}
				if deps.globals.Quiet {
					_, err := fmt.Fprintln(deps.out, jobID)
					return err
				}
				_, err = fmt.Fprintf(deps.out, "fine-tuning job started: %s (examples=%d)\n", jobID, len(examples))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&examplesPath, "examples", "", "JSONL file of prompt/completion pairs (- for stdin)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Training prompt")
	cmd.Flags().StringVar(&completion, "completion", "", "Expected completion")
	return cmd
}

func readFinetuneExamples(cmd *cobra.Command, path string) ([]llm.FinetuneExample, error) {
	var in io.Reader
	if path == "-" {
		in = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("provider finetune: %w", err)
		}
		defer f.Close()
		in = f
	}

	var examples []llm.FinetuneExample
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	for {
		var example llm.FinetuneExample
		err := dec.Decode(&example)
		if errors.Is(err, io.EOF) {
			return examples, nil
		}
		if err != nil {
			return nil, usageErrorf("provider finetune: example %d: %v", len(examples)+1, err)
		}
		examples = append(examples, example)
	}
}
