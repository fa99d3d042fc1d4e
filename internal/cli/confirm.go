package cli

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

var (
	isInteractiveFn = func() bool {
		return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	}
	confirmFn = func(title, description string) (bool, error) {
		var ok bool
		err := huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&ok).
			Run()
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return ok, err
	}
)

// confirmDestructive lets a destructive command proceed when --yes is set or
// an interactive user agrees. Scripted runs without --yes get a usage error.
func confirmDestructive(deps commandDeps, title, refusal string) error {
	if deps.globals != nil && deps.globals.Yes {
		return nil
	}
	scripted := deps.globals != nil && (deps.globals.JSON || deps.globals.Quiet)
	if scripted || !isInteractiveFn() {
		return usageErrorf("%s", refusal)
	}
	ok, err := confirmFn(title, refusal)
	if err != nil {
		return err
	}
	if !ok {
		return usageErrorf("aborted: %s", title)
	}
	return nil
}
