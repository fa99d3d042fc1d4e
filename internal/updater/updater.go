// Package updater brings a git checkout of the app up to date: local changes
// are stashed and the upstream branch is pulled when git reports it is behind.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var ErrMergeConflict = errors.New("updater: unmerged paths; fix merge conflicts and try again")

type Updater struct {
	// Dir is the checkout to update. Empty means the current directory.
	Dir string
	// Git is the git binary. Empty means "git" from PATH.
	Git    string
	Run    CommandRunner
	Logger *slog.Logger
}

type Result struct {
	Stashed bool
	Pulled  bool
	Status  string
}

// ChangesNeeded reports whether git status shows staged or unstaged changes
// that must be stashed before pulling.
func ChangesNeeded(status string) bool {
	return strings.Contains(status, "Changes to be committed:") ||
		strings.Contains(status, "Changes not staged for commit:")
}

func (u *Updater) Update(ctx context.Context) (*Result, error) {
	run := u.Run
	if run == nil {
		run = execRunner
	}
	git := u.Git
	if git == "" {
		git = "git"
	}
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}

	status, err := run(ctx, u.Dir, git, "status")
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	result := &Result{Status: status}

	if ChangesNeeded(status) {
		if _, err := run(ctx, u.Dir, git, "stash"); err != nil {
			return result, fmt.Errorf("update: %w", err)
		}
		result.Stashed = true
		logger.Info("stashed local changes", "dir", u.Dir)
	}

	if strings.Contains(status, "unmerged") {
		return result, ErrMergeConflict
	}

	if strings.Contains(status, "git pull") {
		if _, err := run(ctx, u.Dir, git, "pull", "-q"); err != nil {
			return result, fmt.Errorf("update: %w", err)
		}
		result.Pulled = true
		logger.Info("updated app", "dir", u.Dir)
	} else {
		logger.Debug("app already up to date", "dir", u.Dir)
	}
	return result, nil
}
