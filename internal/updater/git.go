package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrGitUnavailable = errors.New("updater: git not found")

type GitInfo struct {
	Path    string
	Version string
}

type GitCheckDeps struct {
	LookPath   func(file string) (string, error)
	GetVersion func(path string) (string, error)
}

func CheckGit(deps GitCheckDeps) (*GitInfo, error) {
	lookPath := deps.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	getVersion := deps.GetVersion
	if getVersion == nil {
		getVersion = defaultVersionReader
	}

	path, err := lookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git client not found; install git and retry: %w", ErrGitUnavailable)
	}
	version, err := getVersion(path)
	if err != nil {
		return nil, fmt.Errorf("check git version: %w", err)
	}
	return &GitInfo{Path: path, Version: version}, nil
}

func defaultVersionReader(path string) (string, error) {
	output, err := exec.Command(path, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("run %s --version: %w", path, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CommandRunner runs git with args in dir and returns its standard output.
type CommandRunner func(ctx context.Context, dir, git string, args ...string) (string, error)

func execRunner(ctx context.Context, dir, git string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, git, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.String(), fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return stdout.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return stdout.String(), nil
}
