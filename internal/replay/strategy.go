// Package replay turns a stored recording into a sequence of actions to play
// back, optionally rewritten step by step by an LLM.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openadapt/adapt/internal/llm"
	"github.com/openadapt/adapt/internal/storage"
)

// ErrDone is returned by Strategy.Next when no further action will be produced.
var ErrDone = errors.New("replay: done")

const (
	StrategyVanilla = "vanilla"
	StrategyCursor  = "cursor"

	DefaultDotRadius = 5
)

type Strategy interface {
	Name() string
	// Next returns the action to play given the current observation. The
	// screenshot and window event may be nil when nothing was observed.
	Next(ctx context.Context, screenshot *storage.Screenshot, window *storage.WindowEvent) (*storage.ActionEvent, error)
	History() []storage.ActionEvent
}

type Options struct {
	Recording         *storage.Recording
	ActionEvents      []storage.ActionEvent
	Instructions      string
	Adapter           llm.PromptAdapter
	IncludeWindowData bool
	DotRadius         int
	Logger            *slog.Logger
}

func New(name string, opts Options) (Strategy, error) {
	switch name {
	case StrategyVanilla:
		return NewVanillaStrategy(opts), nil
	case StrategyCursor:
		if opts.Adapter == nil {
			return nil, fmt.Errorf("new %s strategy: prompt adapter is required", name)
		}
		return NewCursorStrategy(opts), nil
	default:
		return nil, fmt.Errorf("unknown replay strategy %q", name)
	}
}

// base tracks the cursor into the recorded events and the actions emitted so
// far.
type base struct {
	opts    Options
	idx     int
	history []storage.ActionEvent
}

func newBase(opts Options) base {
	if opts.DotRadius <= 0 {
		opts.DotRadius = DefaultDotRadius
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return base{opts: opts, idx: -1}
}

// advance moves to the next recorded event and reports whether one exists.
func (b *base) advance() bool {
	b.idx++
	return b.idx < len(b.opts.ActionEvents)
}

func (b *base) History() []storage.ActionEvent {
	out := make([]storage.ActionEvent, len(b.history))
	copy(out, b.history)
	return out
}
