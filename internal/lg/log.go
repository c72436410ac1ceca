package lg

import (
	"bytes"
	"context"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field, aliasing zapcore.Field.
type Field = zapcore.Field

func Any(key string, value any) Field                { return zap.Any(key, value) }
func String(key, value string) Field                 { return zap.String(key, value) }
func Int(key string, value int) Field                { return zap.Int(key, value) }
func Bool(key string, value bool) Field              { return zap.Bool(key, value) }
func Float64(key string, value float64) Field        { return zap.Float64(key, value) }
func Time(key string, value time.Time) Field         { return zap.Time(key, value) }
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }
func Err(err error) Field                            { return zap.Error(err) }

// Logger is the minimal structured logging surface used across boardrun.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

// Config holds logging configuration options.
type Config struct {
	ServiceName string `yaml:"service" json:"service"`
	Debug       bool   `yaml:"debug" json:"debug"`
	Format      string `yaml:"format" json:"format" validate:"omitempty,oneof=json console"`
}

// New builds a zap-backed Logger from cfg. If zap cannot be built the
// standard library logger is used instead.
func New(cfg *Config) Logger {
	var base zap.Config
	if cfg.Debug {
		base = zap.NewDevelopmentConfig()
		base.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		base = zap.NewProductionConfig()
	}

	if cfg.Format != "" {
		base.Encoding = cfg.Format
	}
	base.EncoderConfig.TimeKey = "timestamp"
	base.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if cfg.ServiceName != "" {
		base.InitialFields = map[string]any{"service": cfg.ServiceName}
	}
	// device logs are bursty, never sample them away
	base.Sampling = nil

	logger, err := base.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		log.Printf("[FATAL] cannot initialize zap logger: %v", err)
		return defaultLogger{}
	}
	return &zapLogger{l: logger}
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) Logger { return &zapLogger{l: l} }

type zapLogger struct{ l *zap.Logger }

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) With(fields ...Field) Logger       { return &zapLogger{z.l.With(fields...)} }
func (z *zapLogger) Sync() error                       { return z.l.Sync() }

// defaultLogger falls back to the standard log package.
type defaultLogger struct{}

func (defaultLogger) Debug(msg string, fields ...Field) {}
func (defaultLogger) Info(msg string, fields ...Field)  { log.Println("INFO:", msg, flatten(fields...)) }
func (defaultLogger) Warn(msg string, fields ...Field)  { log.Println("WARN:", msg, flatten(fields...)) }
func (defaultLogger) Error(msg string, fields ...Field) { log.Println("ERROR:", msg, flatten(fields...)) }
func (d defaultLogger) With(fields ...Field) Logger     { return d }
func (defaultLogger) Sync() error                       { return nil }

// flatten renders fields as "key=value" pairs using zap's console encoder.
func flatten(fields ...Field) string {
	if len(fields) == 0 {
		return ""
	}
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{LineEnding: " "})
	buffer, err := enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return ""
	}
	defer buffer.Free()
	var buf bytes.Buffer
	buf.Write(buffer.Bytes())
	return strings.TrimSpace(buf.String())
}

type ctxKey struct{}

// Attach returns a new context carrying lg.
func Attach(ctx context.Context, lg Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, lg)
}

// FromContext retrieves the Logger from ctx, or falls back to the standard logger.
func FromContext(ctx context.Context) Logger {
	if lg, ok := ctx.Value(ctxKey{}).(Logger); ok && lg != nil {
		return lg
	}
	return defaultLogger{}
}

// noopLogger does nothing. For tests.
type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}
func (noopLogger) With(...Field) Logger   { return noopLogger{} }
func (noopLogger) Sync() error            { return nil }

var Discard Logger = noopLogger{}
