package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openadapt/adapt/internal/config"
	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/llm"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/openadapt/adapt/internal/updater"
	"github.com/stretchr/testify/require"
)

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "version=1.2.3")
	require.Contains(t, out, "commit=abc123")
	require.Contains(t, out, "build_time=2026-02-19T00:00:00Z")
}

func TestVersionCommandOutputsJSON(t *testing.T) {
	out, err := runCLI(t, "", "--json", "version")
	require.NoError(t, err)

	var payload BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "1.2.3", payload.Version)
	require.Equal(t, "abc123", payload.Commit)
}

func TestRootHasRequiredGlobalFlags(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, name := range []string{"json", "quiet", "timeout", "config", "db", "log-level", "yes"} {
		require.NotNilf(t, cmd.PersistentFlags().Lookup(name), "missing flag %q", name)
	}
}

func TestRootHasTopLevelCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, path := range [][]string{
		{"init"},
		{"recording", "import"},
		{"recording", "export"},
		{"recording", "ls"},
		{"recording", "show"},
		{"recording", "rm"},
		{"recording", "latest"},
		{"replay"},
		{"replay", "runs"},
		{"replay", "show"},
		{"visualize"},
		{"visualize", "serve"},
		{"visualize", "export"},
		{"update"},
		{"db", "status"},
		{"db", "migrate"},
		{"db", "downgrade"},
		{"provider", "ls"},
		{"provider", "infer"},
		{"provider", "models"},
		{"provider", "finetune"},
		{"audit", "ls"},
		{"audit", "verify"},
		{"debug", "bundle"},
	} {
		found, _, err := cmd.Find(path)
		require.NoErrorf(t, err, "expected command %v", path)
		require.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestUnknownFlagReturnsUsageError(t *testing.T) {
	_, err := runCLI(t, "", "--no-such-flag")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestInvalidConfigReturnsUsageError(t *testing.T) {
	p := newTestPaths(t)
	require.NoError(t, os.WriteFile(p.config, []byte("[replay]\nstrategy = \"teleport\"\n"), 0o600))

	_, err := runCLI(t, "", p.args("recording", "ls")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestMapCommandErrorExitCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", storage.ErrNotFound), ExitCodeNotFound},
		{fmt.Errorf("lookup: %w", llm.ErrNoProvider), ExitCodeNotFound},
		{fmt.Errorf("load: %w", config.ErrInvalidConfig), ExitCodeUsage},
		{fmt.Errorf("decode: %w", events.ErrInvalidArchive), ExitCodeUsage},
		{fmt.Errorf("db: %w", storage.ErrInvalidDowngrade), ExitCodeUsage},
		{fmt.Errorf("models: %w", llm.ErrUnsupported), ExitCodeUsage},
		{fmt.Errorf("update: %w", updater.ErrGitUnavailable), ExitCodeDependencyMissing},
		{fmt.Errorf("infer: %w", llm.ErrNoAPIKey), ExitCodeDependencyMissing},
		{&os.PathError{Op: "open", Path: "/nope", Err: os.ErrNotExist}, ExitCodeIO},
		{fmt.Errorf("infer: %w", llm.ErrUpstream), ExitCodeUpstream},
		{fmt.Errorf("infer: %w", llm.ErrEmptyOutput), ExitCodeUpstream},
		{errors.New("boom"), ExitCodeGeneric},
		{usageErrorf("bad"), ExitCodeUsage},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.want, exitCode(mapCommandError(tc.err)), "error %v", tc.err)
	}
	require.NoError(t, mapCommandError(nil))
}

func TestGenerateManPagesWritesRootPage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateManPages(dir, testBuildInfo()))

	raw, err := os.ReadFile(filepath.Join(dir, "adapt.1"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "ADAPT")

	_, err = os.Stat(filepath.Join(dir, "adapt-replay.1"))
	require.NoError(t, err)
}

func TestMain(m *testing.M) {
	// Never prompt from tests, even when run from a terminal.
	isInteractiveFn = func() bool { return false }
	os.Exit(m.Run())
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())
	if stdin != "" {
		cmd.SetIn(strings.NewReader(stdin))
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildTime: "2026-02-19T00:00:00Z",
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return withExit.ExitCode()
	}
	return -1
}

type testPaths struct {
	dir    string
	config string
	db     string
}

func newTestPaths(t *testing.T) testPaths {
	t.Helper()

	dir := t.TempDir()
	return testPaths{
		dir:    dir,
		config: filepath.Join(dir, "config.toml"),
		db:     filepath.Join(dir, "adapt.db"),
	}
}

// args prefixes the isolated config and database flags.
func (p testPaths) args(extra ...string) []string {
	return append([]string{"--config", p.config, "--db", p.db, "--log-level", "error"}, extra...)
}

// stub replaces a package-level hook for the duration of the test.
func stub[T any](t *testing.T, target *T, value T) {
	t.Helper()

	prev := *target
	*target = value
	t.Cleanup(func() { *target = prev })
}

// testArchive is a six event raw recording: a left click at (10,12) followed
// by typing "hi". Processing merges it into singleclick and type.
func testArchive(t *testing.T) *events.Archive {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	x, y := 10.0, 12.0
	pressed, released := true, false
	return &events.Archive{
		Recording: storage.Recording{
			Timestamp:       1700000000,
			MonitorWidth:    40,
			MonitorHeight:   30,
			Platform:        "linux",
			TaskDescription: "Reply to bob@example.com",
		},
		WindowEvents: []storage.WindowEvent{
			{ID: "w1", Timestamp: 1700000000.05, Title: "Inbox - bob@example.com", Width: 40, Height: 30},
		},
		Screenshots: []events.ArchiveScreenshot{
			{ID: "s1", Timestamp: 1700000000.05, PNG: buf.Bytes()},
		},
		ActionEvents: []storage.ActionEvent{
			{Name: "click", Timestamp: 1700000000.1, MouseX: &x, MouseY: &y, MouseButtonName: "left", MousePressed: &pressed, WindowEventID: "w1", ScreenshotID: "s1"},
			{Name: "click", Timestamp: 1700000000.2, MouseX: &x, MouseY: &y, MouseButtonName: "left", MousePressed: &released, WindowEventID: "w1", ScreenshotID: "s1"},
			{Name: "press", Timestamp: 1700000000.3, KeyChar: "h", WindowEventID: "w1", ScreenshotID: "s1"},
			{Name: "release", Timestamp: 1700000000.35, KeyChar: "h", WindowEventID: "w1"},
			{Name: "press", Timestamp: 1700000000.4, KeyChar: "i", WindowEventID: "w1"},
			{Name: "release", Timestamp: 1700000000.45, KeyChar: "i", WindowEventID: "w1"},
		},
	}
}

func writeTestArchive(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "archive.json")
	raw, err := json.Marshal(testArchive(t))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

// importTestRecording imports the test archive and returns the new id.
func importTestRecording(t *testing.T, p testPaths) string {
	t.Helper()

	out, err := runCLI(t, "", p.args("--quiet", "recording", "import", writeTestArchive(t, p.dir))...)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)
	return id
}
