// Package debug assembles a sanitized diagnostics bundle. Bundles never carry
// credentials: callers record whether a key is configured, not its value.
package debug

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Config struct {
	LLMProvider       string `json:"llm_provider"`
	LLMModel          string `json:"llm_model"`
	LLMAPIKeySet      bool   `json:"llm_api_key_set"`
	HFTokenSet        bool   `json:"hf_token_set"`
	ReplayStrategy    string `json:"replay_strategy"`
	ProcessEvents     bool   `json:"process_events"`
	IncludeWindowData bool   `json:"include_window_data"`
	LogLevel          string `json:"log_level"`
}

type Database struct {
	Path        string `json:"path"`
	CodeVersion int    `json:"code_version"`
	// SchemaVersion is nil when the database could not be read.
	SchemaVersion *int `json:"schema_version,omitempty"`
}

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Bundle struct {
	GeneratedAt string   `json:"generated_at"`
	GOOS        string   `json:"goos"`
	GOARCH      string   `json:"goarch"`
	GoVersion   string   `json:"go_version"`
	Build       Build    `json:"build"`
	Config      Config   `json:"config"`
	Database    Database `json:"database"`
	Checks      []Check  `json:"checks,omitempty"`
	Notes       []string `json:"notes,omitempty"`
}

func NewBundle(build Build) *Bundle {
	return &Bundle{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Build:       build,
	}
}

// Check runs probe and records its outcome under name. A probe reports
// success with a short description of what it found.
func (b *Bundle) Check(name string, probe func() (string, error)) bool {
	message, err := probe()
	if err != nil {
		b.Checks = append(b.Checks, Check{Name: name, Message: err.Error()})
		return false
	}
	b.Checks = append(b.Checks, Check{Name: name, OK: true, Message: message})
	return true
}

func (b *Bundle) Note(format string, args ...any) {
	b.Notes = append(b.Notes, fmt.Sprintf(format, args...))
}

// Healthy reports whether every check passed.
func (b *Bundle) Healthy() bool {
	for _, c := range b.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func (b *Bundle) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encode debug bundle: %w", err)
	}
	return nil
}

// WriteFile writes the bundle next to outputPath and renames it into place,
// so a reader never sees a partial bundle.
func (b *Bundle) WriteFile(outputPath string) (err error) {
	if outputPath == "" {
		return fmt.Errorf("write debug bundle: output path is required")
	}
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("write debug bundle: create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".adapt-debug-*.json")
	if err != nil {
		return fmt.Errorf("write debug bundle: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := b.Encode(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write debug bundle: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write debug bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write debug bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return fmt.Errorf("write debug bundle: %w", err)
	}
	return nil
}
