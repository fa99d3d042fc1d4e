package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/openadapt/adapt/internal/events"
	"github.com/stretchr/testify/require"
)

func TestRecordingImportListShowExportRemove(t *testing.T) {
	p := newTestPaths(t)
	id := importTestRecording(t, p)

	out, err := runCLI(t, "", p.args("recording", "ls")...)
	require.NoError(t, err)
	require.Contains(t, out, id)
	require.Contains(t, out, `task="Reply to bob@example.com"`)
	require.Contains(t, out, "recorded=2023-11-14T22:13:20Z")

	out, err = runCLI(t, "", p.args("--json", "recording", "show", id)...)
	require.NoError(t, err)
	var shown struct {
		Recording recordingSummary `json:"recording"`
		Meta      events.Meta      `json:"meta"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, id, shown.Recording.ID)
	require.Equal(t, 6, shown.Meta.NumActionEvents)
	require.Equal(t, 1, shown.Meta.NumScreenshots)

	out, err = runCLI(t, "", p.args("recording", "show", "--processed", id)...)
	require.NoError(t, err)
	require.Contains(t, out, "action_events=2 original_action_events=6")
	require.Contains(t, out, "0 singleclick at=(10,12) button=left")
	require.Contains(t, out, `1 type text="hi"`)

	out, err = runCLI(t, "", p.args("--quiet", "recording", "latest")...)
	require.NoError(t, err)
	require.Equal(t, id, strings.TrimSpace(out))

	exportPath := filepath.Join(p.dir, "export.json")
	out, err = runCLI(t, "", p.args("recording", "export", id, "--output", exportPath)...)
	require.NoError(t, err)
	require.Contains(t, out, "recording exported: "+id)

	f, err := os.Open(exportPath)
	require.NoError(t, err)
	exported, err := events.DecodeArchive(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	require.Equal(t, id, exported.Recording.ID)
	require.Len(t, exported.ActionEvents, 6)

	raw, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	out, err = runCLI(t, string(raw), p.args("--quiet", "recording", "import", "-")...)
	require.NoError(t, err)
	reimported := strings.TrimSpace(out)
	require.NotEqual(t, id, reimported)

	out, err = runCLI(t, "", p.args("recording", "rm", id)...)
	require.NoError(t, err)
	require.Contains(t, out, "recording removed: "+id)

	_, err = runCLI(t, "", p.args("recording", "show", id)...)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	out, err = runCLI(t, "", p.args("--json", "audit", "ls")...)
	require.NoError(t, err)
	var recorded []auditEventView
	require.NoError(t, json.Unmarshal([]byte(out), &recorded))
	actions := map[string]int{}
	for _, event := range recorded {
		actions[event.Action]++
	}
	require.Equal(t, 2, actions[audit.ActionRecordingImport])
	require.Equal(t, 1, actions[audit.ActionRecordingDelete])

	out, err = runCLI(t, "", p.args("audit", "verify")...)
	require.NoError(t, err)
	require.Contains(t, out, "valid=true events=3")
}

func TestRecordingImportRejectsInvalidArchive(t *testing.T) {
	p := newTestPaths(t)
	path := filepath.Join(p.dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"recording":{"timestamp":1},"action_events":[{"name":"wave"}]}`), 0o600))

	_, err := runCLI(t, "", p.args("recording", "import", path)...)
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
	require.ErrorIs(t, err, events.ErrInvalidArchive)

	_, err = runCLI(t, "", p.args("recording", "import", filepath.Join(p.dir, "missing.json"))...)
	require.Error(t, err)
	require.Equal(t, ExitCodeIO, exitCode(err))
}

func TestRecordingCommandsOnEmptyDatabase(t *testing.T) {
	p := newTestPaths(t)

	out, err := runCLI(t, "", p.args("recording", "ls")...)
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = runCLI(t, "", p.args("recording", "latest")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = runCLI(t, "", p.args("recording", "rm", "no-such-id")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = runCLI(t, "", p.args("recording", "rm")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}
