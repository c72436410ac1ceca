package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorDefaultPrompt(t *testing.T) {
	d, err := NewDetector("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		chunks []string
		want   bool
	}{
		{"empty", nil, false},
		{"home prompt", []string{"ls\r\n", "a b\r\n", testPrompt}, true},
		{"path prompt", []string{"[root@cvitek]/mnt/data# "}, true},
		{"colored prompt", []string{"\x1b[1;32m[root@cvitek]\x1b[0m~# "}, true},
		{"split prompt", []string{"[root@cvi", "tek]~", "# "}, true},
		{"prompt too far back", []string{testPrompt, "1\n", "2\n", "3\n"}, false},
		{"no delimiter", []string{"[root@cvitek]~"}, false},
		{"other host", []string{"[root@other]~# "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b OutputBuffer
			for _, c := range tt.chunks {
				b.Append([]byte(c))
			}
			assert.Equal(t, tt.want, d.Done(&b))
		})
	}
}

func TestDetectorCustomPrompt(t *testing.T) {
	d, err := NewDetector(`/ # $`)
	require.NoError(t, err)

	var b OutputBuffer
	b.Append([]byte("uname\n/ # "))
	assert.True(t, d.Done(&b))

	_, err = NewDetector("(")
	assert.Error(t, err)
}

func TestIsForeground(t *testing.T) {
	assert.True(t, IsForeground("./sample_venc -c 264"))
	assert.True(t, IsForeground("  ./a.out"))
	assert.False(t, IsForeground("ls ./dir"))
	assert.False(t, IsForeground("/usr/bin/app"))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, 0, Success.Code())
	assert.Equal(t, 1, TimedOut.Code())
	assert.Equal(t, "timeout", TimedOut.String())
	text, err := Success.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "success", string(text))
}
