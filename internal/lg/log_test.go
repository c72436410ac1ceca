package lg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).With(String("device", "board-1"))

	l.Debug("read", Int("bytes", 12))
	l.Info("send command", String("cmd", "ls"))
	l.Warn("command timed out")
	l.Error("result pattern", Err(errors.New("missing )")))

	entries := logs.All()
	if assert.Len(t, entries, 4) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
		assert.Equal(t, "board-1", entries[1].ContextMap()["device"])
		assert.Equal(t, "ls", entries[1].ContextMap()["cmd"])
		assert.Equal(t, "missing )", entries[3].ContextMap()["error"])
	}
}

func TestNew(t *testing.T) {
	for _, cfg := range []*Config{
		{ServiceName: "boardrun"},
		{ServiceName: "boardrun", Debug: true, Format: "console"},
	} {
		l := New(cfg)
		assert.NotNil(t, l)
		l.Info("hello", Bool("debug", cfg.Debug))
		_ = l.Sync()
	}
}

func TestContextAttach(t *testing.T) {
	assert.Equal(t, defaultLogger{}, FromContext(context.Background()))

	ctx := Attach(context.Background(), Discard)
	assert.Equal(t, Discard, FromContext(ctx))
}

func TestFlatten(t *testing.T) {
	assert.Empty(t, flatten())
	out := flatten(String("port", "/dev/ttyUSB0"), Int("baud", 115200))
	assert.Contains(t, out, "/dev/ttyUSB0")
	assert.Contains(t, out, "115200")
}

func TestDiscard(t *testing.T) {
	l := Discard.With(String("a", "b"))
	l.Info("nothing")
	assert.NoError(t, l.Sync())
}
