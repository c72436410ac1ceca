package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/boardrun/internal/device"
	"github.com/andrej220/boardrun/internal/runner"
	"github.com/andrej220/boardrun/internal/transport"
)

const sample = `
logging:
  debug: true
runner:
  tick: 20ms
  settleCap: 5s
devices:
  - name: uart0
    kind: serial
    serial:
      port: /dev/ttyUSB0
  - name: board-1
    kind: ssh
    testPath: /mnt/nfs
    ssh:
      host: 192.168.1.23
      password: cvitek
      backoff: 1s
report:
  file: out/report.json
  kafka:
    brokers: ["localhost:9092"]
    topic: board-results
serve:
  brokers: ["localhost:9092"]
  topic: board-requests
  groupId: boardrun
  workers: 4
`

func write(t *testing.T, doc string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "boardrun.yaml")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	f, err := Load(write(t, sample))
	require.NoError(t, err)

	assert.True(t, f.Logging.Debug)
	assert.Equal(t, ServiceName, f.Logging.ServiceName)
	assert.Equal(t, 20*time.Millisecond, f.Runner.Tick)
	assert.Equal(t, 5*time.Second, f.Runner.SettleCap)
	assert.Equal(t, runner.DefaultInterruptGrace, f.Runner.InterruptGrace)
	require.Len(t, f.Devices, 2)
	assert.Equal(t, device.KindSerial, f.Devices[0].Kind)
	assert.Equal(t, time.Second, f.Devices[1].SSH.Backoff)
	assert.Equal(t, "out/report.json", f.Report.File)
	require.NotNil(t, f.Report.Kafka)
	assert.Equal(t, "board-results", f.Report.Kafka.Topic)
	assert.Nil(t, f.Report.Mongo)
	require.NotNil(t, f.Serve)
	assert.Equal(t, 4, f.Serve.Workers)
	assert.Equal(t, "boardrun", f.Serve.GroupID)
	assert.Len(t, f.Runner.Options(), 3)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad kind", "devices:\n  - name: a\n    kind: telnet\n"},
		{"missing port", "devices:\n  - name: a\n    kind: serial\n"},
		{"duplicate", "devices:\n  - name: a\n    kind: host\n  - name: a\n    kind: host\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"negative tick", "runner:\n  tick: -1s\n"},
		{"serve without group", "serve:\n  brokers: [\"localhost:9092\"]\n  topic: t\n"},
		{"kafka without topic", "report:\n  kafka:\n    brokers: [\"localhost:9092\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDevice(t *testing.T) {
	f, err := Load(write(t, sample))
	require.NoError(t, err)

	d, err := f.Device("board-1")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.23", d.SSH.Host)

	_, err = f.Device("nope")
	assert.True(t, errors.Is(err, ErrUnknownDevice))
	_, err = f.Device("")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	single := Default()
	single.Devices = []device.Config{{Name: "only", Kind: device.KindHost}}
	d, err = single.Device("")
	require.NoError(t, err)
	assert.Equal(t, "only", d.Name)
}

func TestSaveRoundTrip(t *testing.T) {
	f := Default()
	f.Devices = []device.Config{{
		Name: "board-2",
		Kind: device.KindSSH,
		SSH:  transport.SSHConfig{Host: "10.0.0.9", Keepalive: 20 * time.Second},
	}}
	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(path, f))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f.Devices, got.Devices)
	assert.Equal(t, f.Runner, got.Runner)
}

func TestRunnerOptionsZero(t *testing.T) {
	assert.Empty(t, RunnerConfig{}.Options())
}
