package cases

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = `
test_cases:
  aud_in:
    - case: ./sample_audio -i 0
      check_res: "AUDIO OK"
      runtime: 10
    - case: ./sample_audio -i 1
  vc_ut:
    - case: ./vc_ut ${codec}
      check_res: ${codec} PASS
      runtime: 0.5
`

func TestParseDefaults(t *testing.T) {
	tb, err := Parse([]byte(table))
	require.NoError(t, err)
	assert.Equal(t, []string{"aud_in", "vc_ut"}, tb.Markers())

	list, err := tb.Cases("aud_in")
	require.NoError(t, err)
	assert.Equal(t, []Case{
		{Command: "./sample_audio -i 0", Check: "AUDIO OK", Runtime: 10},
		{Command: "./sample_audio -i 1", Check: DefaultCheck, Runtime: DefaultRuntime},
	}, list)
	assert.Equal(t, 10*time.Second, list[0].Timeout())

	vc, err := tb.Cases("vc_ut")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, vc[0].Timeout())
}

func TestCasesMissingMarker(t *testing.T) {
	tb, err := Parse([]byte(table))
	require.NoError(t, err)
	_, err = tb.Cases("isp")
	assert.ErrorIs(t, err, ErrNoMarker)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no test_cases", "cmds:\n  - ls\n"},
		{"missing case", "test_cases:\n  isp:\n    - check_res: PASS\n"},
		{"negative runtime", "test_cases:\n  isp:\n    - case: ls\n      runtime: -1\n"},
		{"not yaml", "test_cases: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
	_, err := Parse([]byte("other: 1\n"))
	assert.ErrorIs(t, err, ErrNoCases)
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audio_ut.yaml")
	require.NoError(t, os.WriteFile(p, []byte(table), 0o644))

	tb, err := Load(p)
	require.NoError(t, err)
	assert.Len(t, tb.TestCases, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExpand(t *testing.T) {
	tb, err := Parse([]byte(table))
	require.NoError(t, err)
	vc, err := tb.Cases("vc_ut")
	require.NoError(t, err)

	got := Expand(vc, map[string]string{"codec": "h265"})
	assert.Equal(t, "./vc_ut h265", got[0].Command)
	assert.Equal(t, "h265 PASS", got[0].Check)
	assert.Equal(t, "./vc_ut ${codec}", vc[0].Command)

	kept := Expand(vc, nil)
	assert.Equal(t, "./vc_ut ${codec}", kept[0].Command)
}
