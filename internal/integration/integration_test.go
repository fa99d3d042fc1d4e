//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/stretchr/testify/require"
)

var (
	repoRoot         string
	integrationBin   string
	integrationCache string
)

func TestMain(m *testing.M) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		fmt.Fprintln(os.Stderr, "integration: resolve current file")
		os.Exit(1)
	}
	repoRoot = filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))

	tmpDir, err := os.MkdirTemp(repoRoot, ".integration-bin-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration: create temp dir: %v\n", err)
		os.Exit(1)
	}

	integrationCache = filepath.Join(tmpDir, "gocache")
	if err := os.MkdirAll(integrationCache, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "integration: create gocache: %v\n", err)
		os.Exit(1)
	}

	integrationBin = filepath.Join(tmpDir, "adapt")
	buildCmd := exec.Command("go", "build", "-o", integrationBin, "./cmd/adapt")
	buildCmd.Dir = repoRoot
	buildCmd.Env = append(os.Environ(), "GOCACHE="+integrationCache)
	if output, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "integration: build cli: %v\n%s\n", err, string(output))
		_ = os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(tmpDir)
	os.Exit(code)
}

type cliHarness struct {
	home   string
	config string
	db     string
	extra  []string
}

type cliResult struct {
	output   string
	exitCode int
	err      error
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()

	base := t.TempDir()
	return &cliHarness{
		home:   filepath.Join(base, "home"),
		config: filepath.Join(base, "home", "config.toml"),
		db:     filepath.Join(base, "home", "adapt.db"),
	}
}

func (h *cliHarness) env() []string {
	env := []string{
		"ADAPT_HOME=" + h.home,
		"ADAPT_CONFIG_PATH=" + h.config,
		"ADAPT_DB_PATH=" + h.db,
		"ADAPT_LOG_LEVEL=error",
		"GOCACHE=" + integrationCache,
	}
	return append(env, h.extra...)
}

func (h *cliHarness) run(timeout time.Duration, stdin string, args ...string) cliResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, integrationBin, args...)
	cmd.Dir = h.homeDir()
	cmd.Env = append(os.Environ(), h.env()...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	output, err := cmd.CombinedOutput()

	res := cliResult{
		output: strings.TrimSpace(string(output)),
		err:    err,
	}
	if err == nil {
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		return res
	}
	res.exitCode = -1
	if ctx.Err() != nil {
		res.output = strings.TrimSpace(string(output) + "\n" + ctx.Err().Error())
	}
	return res
}

// homeDir keeps the working directory away from any .env in the checkout.
func (h *cliHarness) homeDir() string {
	_ = os.MkdirAll(h.home, 0o700)
	return h.home
}

func requireSuccess(t *testing.T, res cliResult, command ...string) string {
	t.Helper()
	require.NoError(t, res.err, "command failed: %s\noutput:\n%s", strings.Join(command, " "), res.output)
	require.Equal(t, 0, res.exitCode)
	return res.output
}

func requireExit(t *testing.T, res cliResult, code int, command ...string) string {
	t.Helper()
	require.Error(t, res.err, "command unexpectedly succeeded: %s\noutput:\n%s", strings.Join(command, " "), res.output)
	require.Equal(t, code, res.exitCode, "output:\n%s", res.output)
	return res.output
}

func writeArchive(t *testing.T, dir string) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.Gray{Y: 200})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	x, y := 5.0, 6.0
	pressed, released := true, false
	archive := events.Archive{
		Recording: storage.Recording{
			Timestamp:       1700000000,
			MonitorWidth:    32,
			MonitorHeight:   24,
			Platform:        "linux",
			TaskDescription: "Send a note to carol@example.com",
		},
		WindowEvents: []storage.WindowEvent{
			{ID: "w1", Timestamp: 1700000000.05, Title: "Mail", Width: 32, Height: 24},
		},
		Screenshots: []events.ArchiveScreenshot{
			{ID: "s1", Timestamp: 1700000000.05, PNG: buf.Bytes()},
		},
		ActionEvents: []storage.ActionEvent{
			{Name: "click", Timestamp: 1700000000.1, MouseX: &x, MouseY: &y, MouseButtonName: "left", MousePressed: &pressed, WindowEventID: "w1", ScreenshotID: "s1"},
			{Name: "click", Timestamp: 1700000000.2, MouseX: &x, MouseY: &y, MouseButtonName: "left", MousePressed: &released, WindowEventID: "w1", ScreenshotID: "s1"},
			{Name: "press", Timestamp: 1700000000.3, KeyChar: "o", WindowEventID: "w1"},
			{Name: "release", Timestamp: 1700000000.35, KeyChar: "o", WindowEventID: "w1"},
			{Name: "press", Timestamp: 1700000000.4, KeyChar: "k", WindowEventID: "w1"},
			{Name: "release", Timestamp: 1700000000.45, KeyChar: "k", WindowEventID: "w1"},
		},
	}

	raw, err := json.Marshal(archive)
	require.NoError(t, err)
	path := filepath.Join(dir, "archive.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestIntegrationRecordingLifecycle(t *testing.T) {
	h := newHarness(t)
	archivePath := writeArchive(t, t.TempDir())

	requireSuccess(t, h.run(10*time.Second, "", "init"), "init")
	id := requireSuccess(t, h.run(10*time.Second, "", "--quiet", "recording", "import", archivePath), "recording import")
	require.NotEmpty(t, id)

	listOut := requireSuccess(t, h.run(10*time.Second, "", "recording", "ls"), "recording ls")
	require.Contains(t, listOut, id)

	showOut := requireSuccess(t, h.run(10*time.Second, "", "recording", "show", id, "--processed"), "recording show --processed")
	require.Contains(t, showOut, "action_events=2")
	require.Contains(t, showOut, `text="ok"`)

	exported := requireSuccess(t, h.run(10*time.Second, "", "recording", "export", id), "recording export")
	requireSuccess(t, h.run(10*time.Second, exported, "recording", "import", "-"), "recording import -")

	requireSuccess(t, h.run(10*time.Second, "", "recording", "rm", id), "recording rm")
	requireExit(t, h.run(10*time.Second, "", "recording", "show", id), 3, "recording show")

	verifyOut := requireSuccess(t, h.run(10*time.Second, "", "audit", "verify"), "audit verify")
	require.Contains(t, verifyOut, "valid=true events=3")
}

func TestIntegrationVanillaReplayAndVisualize(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	archivePath := writeArchive(t, dir)
	stepsPath := filepath.Join(dir, "steps.jsonl")
	htmlPath := filepath.Join(dir, "report.html")

	requireSuccess(t, h.run(10*time.Second, "", "recording", "import", archivePath), "recording import")

	replayOut := requireSuccess(t, h.run(10*time.Second, "", "replay", "--strategy", "vanilla", "--output", stepsPath), "replay")
	require.Contains(t, replayOut, "strategy=vanilla steps=2")

	raw, err := os.ReadFile(stepsPath)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(raw)), "\n"), 2)

	runsOut := requireSuccess(t, h.run(10*time.Second, "", "replay", "runs"), "replay runs")
	require.Contains(t, runsOut, "status=completed")

	requireSuccess(t, h.run(10*time.Second, "", "visualize", "export", "--scrub", "--output", htmlPath), "visualize export")
	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	require.NotContains(t, string(html), "carol@example.com")
}

func TestIntegrationSchemaDowngradeAndMigrate(t *testing.T) {
	h := newHarness(t)

	requireSuccess(t, h.run(10*time.Second, "", "db", "migrate"), "db migrate")
	requireExit(t, h.run(10*time.Second, "", "db", "downgrade", "--to", "2"), 2, "db downgrade without --yes")
	downOut := requireSuccess(t, h.run(10*time.Second, "", "--yes", "db", "downgrade", "--to", "2"), "db downgrade --yes")
	require.Contains(t, downOut, "-> v2")

	statusOut := requireSuccess(t, h.run(10*time.Second, "", "db", "status"), "db status")
	require.Contains(t, statusOut, "state=pending")

	// Any regular command migrates forward again.
	requireSuccess(t, h.run(10*time.Second, "", "recording", "ls"), "recording ls")
	statusOut = requireSuccess(t, h.run(10*time.Second, "", "db", "status"), "db status")
	require.Contains(t, statusOut, "state=current")
}

func TestIntegrationConcurrentRecordingList(t *testing.T) {
	h := newHarness(t)
	archivePath := writeArchive(t, t.TempDir())
	id := requireSuccess(t, h.run(10*time.Second, "", "--quiet", "recording", "import", archivePath), "recording import")

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.run(10*time.Second, "", "recording", "ls")
			if res.err != nil {
				errCh <- fmt.Errorf("exit=%d output=%s", res.exitCode, res.output)
				return
			}
			if !strings.Contains(res.output, id) {
				errCh <- fmt.Errorf("missing recording in output: %s", res.output)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestIntegrationLiveOpenAIInference(t *testing.T) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		t.Skip("OPENAI_API_KEY not set")
	}
	h := newHarness(t)
	h.extra = []string{"OPENAI_API_KEY=" + key}

	out := requireSuccess(t, h.run(60*time.Second, "", "provider", "infer", "openai", "Reply with the single word: pong"), "provider infer openai")
	require.Contains(t, strings.ToLower(out), "pong")
}

func TestIntegrationLiveCursorReplay(t *testing.T) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		t.Skip("OPENAI_API_KEY not set")
	}
	h := newHarness(t)
	h.extra = []string{"OPENAI_API_KEY=" + key}
	archivePath := writeArchive(t, t.TempDir())

	requireSuccess(t, h.run(10*time.Second, "", "recording", "import", archivePath), "recording import")
	out := requireSuccess(t, h.run(3*time.Minute, "", "replay", "--strategy", "cursor", "--max-steps", "3"), "replay cursor")
	require.Contains(t, out, "strategy=cursor")
}

func TestIntegrationLiveHuggingFaceInference(t *testing.T) {
	token := os.Getenv("HF_API_TOKEN")
	if token == "" {
		t.Skip("HF_API_TOKEN not set")
	}
	h := newHarness(t)
	h.extra = []string{"HF_API_TOKEN=" + token}

	out := requireSuccess(t, h.run(2*time.Minute, "", "provider", "infer", "huggingface", "The capital of France is"), "provider infer huggingface")
	require.NotEmpty(t, out)
}
