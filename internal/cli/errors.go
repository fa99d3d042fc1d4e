package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/openadapt/adapt/internal/config"
	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/llm"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/openadapt/adapt/internal/updater"
	"github.com/openai/openai-go/v3"
)

const (
	ExitCodeSuccess           = 0
	ExitCodeGeneric           = 1
	ExitCodeUsage             = 2
	ExitCodeNotFound          = 3
	ExitCodeDependencyMissing = 6
	ExitCodeIO                = 7
	ExitCodeUpstream          = 8
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, llm.ErrNoProvider):
		return asExitError(ExitCodeNotFound, err)
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, events.ErrInvalidArchive),
		errors.Is(err, storage.ErrInvalidDowngrade),
		errors.Is(err, llm.ErrUnsupported),
		errors.Is(err, llm.ErrTooFewExamples):
		return asExitError(ExitCodeUsage, err)
	case errors.Is(err, updater.ErrGitUnavailable), errors.Is(err, llm.ErrNoAPIKey):
		return asExitError(ExitCodeDependencyMissing, err)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) {
		return asExitError(ExitCodeIO, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) || errors.Is(err, llm.ErrUpstream) || errors.Is(err, llm.ErrEmptyOutput) {
		return asExitError(ExitCodeUpstream, err)
	}

	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
