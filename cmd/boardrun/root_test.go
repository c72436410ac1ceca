//go:build unix

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/boardrun/internal/report"
)

func setup(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "boardrun.yaml")
	doc := "logging:\n  format: console\n" +
		"devices:\n  - name: host\n    kind: host\n" +
		"workspace:\n  root: " + filepath.Join(dir, "ws") + "\n  clean: true\n" +
		"report:\n  file: " + filepath.Join(dir, "report.json") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o600))
	return dir, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExecHost(t *testing.T) {
	dir, cfg := setup(t)

	out, err := execute(t, "--config", cfg, "exec", "-p", `v(\d+)`, "--", "echo", "v42")
	require.NoError(t, err)
	assert.Contains(t, out, "v42\n")
	assert.Contains(t, out, "match: 42")
	assert.Contains(t, out, "status: success (0)")

	recs, err := report.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "host", recs[0].Device)
	assert.Equal(t, []string{"42"}, recs[0].Matches)
}

func TestCasesHost(t *testing.T) {
	dir, cfg := setup(t)
	table := filepath.Join(dir, "cases.yaml")
	require.NoError(t, os.WriteFile(table, []byte(`
test_cases:
  smoke:
    - case: echo ${word} PASS
      runtime: 2
    - case: echo nothing here
      runtime: 2
`), 0o600))

	out, err := execute(t, "--config", cfg, "cases", table, "-m", "smoke", "--var", "word=audio")
	require.NoError(t, err)
	assert.Contains(t, out, "host\tsmoke\tpassed=1 failed=1")
	assert.Contains(t, out, `FAIL "echo nothing here"`)

	recs, err := report.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "smoke", recs[0].Marker)

	_, err = os.Stat(filepath.Join(dir, "ws"))
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(dir, "ws"))
	require.NoError(t, err)
	assert.Empty(t, entries, "workspaces are cleaned on release")
}

func TestCasesDeviceFailureKeepsOthersRunning(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "boardrun.yaml")
	doc := "logging:\n  format: console\n" +
		"devices:\n" +
		"  - name: host\n    kind: host\n" +
		"  - name: uart\n    kind: serial\n    serial:\n      port: /dev/boardrun-missing-port\n" +
		"workspace:\n  root: " + filepath.Join(dir, "ws") + "\n" +
		"report:\n  file: " + filepath.Join(dir, "report.json") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(doc), 0o600))
	table := filepath.Join(dir, "cases.yaml")
	require.NoError(t, os.WriteFile(table, []byte(`
test_cases:
  slow:
    - case: sleep 0.3; echo PASS
      runtime: 3
`), 0o600))

	out, err := execute(t, "--config", cfg, "cases", table, "-m", "slow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `device "uart"`)
	assert.Contains(t, out, "host\tslow\tpassed=1 failed=0")

	recs, err := report.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Passed)
	assert.True(t, *recs[0].Passed)
}

func TestStatusJSON(t *testing.T) {
	dir, cfg := setup(t)
	path := filepath.Join(dir, "status.json")

	out, err := execute(t, "--config", cfg, "status", "--json", path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var states map[string]string
	require.NoError(t, json.Unmarshal(b, &states))
	require.Contains(t, states, "host")
	assert.Contains(t, out, "host\t"+states["host"])
}

func TestCasesUnknownMarker(t *testing.T) {
	dir, cfg := setup(t)
	table := filepath.Join(dir, "cases.yaml")
	require.NoError(t, os.WriteFile(table, []byte("test_cases:\n  a:\n    - case: echo hi\n"), 0o600))

	_, err := execute(t, "--config", cfg, "cases", table, "-m", "b")
	assert.Error(t, err)
}

func TestUploadNeedsSSH(t *testing.T) {
	_, cfg := setup(t)
	_, err := execute(t, "--config", cfg, "upload", "a", "/tmp/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload needs ssh")
}

func TestBadLogFormatFlag(t *testing.T) {
	_, cfg := setup(t)
	_, err := execute(t, "--config", cfg, "--log-format", "xml", "status")
	assert.Error(t, err)
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
}

func TestServeNeedsConfig(t *testing.T) {
	_, cfg := setup(t)
	_, err := execute(t, "--config", cfg, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no serve section")
}
