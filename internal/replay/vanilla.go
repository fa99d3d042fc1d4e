package replay

import (
	"context"

	"github.com/openadapt/adapt/internal/storage"
)

// VanillaStrategy plays the recorded events back unchanged.
type VanillaStrategy struct {
	base
}

func NewVanillaStrategy(opts Options) *VanillaStrategy {
	return &VanillaStrategy{base: newBase(opts)}
}

func (s *VanillaStrategy) Name() string { return StrategyVanilla }

func (s *VanillaStrategy) Next(ctx context.Context, _ *storage.Screenshot, _ *storage.WindowEvent) (*storage.ActionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.advance() {
		return nil, ErrDone
	}
	action := s.opts.ActionEvents[s.idx]
	action.Screenshot = nil
	action.WindowEvent = nil
	s.history = append(s.history, action)
	return &action, nil
}
