package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/openadapt/adapt/internal/storage"
)

type LogPlayer struct {
	Logger *slog.Logger
}

func (p LogPlayer) Play(ctx context.Context, step int, action storage.ActionEvent) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"step", step, "name", action.Name}
	if action.MouseX != nil && action.MouseY != nil {
		attrs = append(attrs, "mouse_x", *action.MouseX, "mouse_y", *action.MouseY)
	}
	if action.MouseButtonName != "" {
		attrs = append(attrs, "button", action.MouseButtonName)
	}
	if action.KeyName != "" {
		attrs = append(attrs, "key_name", action.KeyName)
	}
	if action.KeyChar != "" {
		attrs = append(attrs, "key_char", action.KeyChar)
	}
	if action.Text != "" {
		attrs = append(attrs, "text", action.Text)
	}
	logger.InfoContext(ctx, "play action", attrs...)
	return nil
}

// JSONPlayer writes one JSON object per played action.
type JSONPlayer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONPlayer(w io.Writer) *JSONPlayer {
	return &JSONPlayer{enc: json.NewEncoder(w)}
}

type playedAction struct {
	Step   int                 `json:"step"`
	Action storage.ActionEvent `json:"action"`
}

func (p *JSONPlayer) Play(_ context.Context, step int, action storage.ActionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(playedAction{Step: step, Action: action}); err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	return nil
}

// MultiPlayer plays each action on every player in order.
type MultiPlayer []Player

func (m MultiPlayer) Play(ctx context.Context, step int, action storage.ActionEvent) error {
	for _, p := range m {
		if err := p.Play(ctx, step, action); err != nil {
			return err
		}
	}
	return nil
}
