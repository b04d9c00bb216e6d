// Package logging builds the process-wide zap logger and carries request
// correlation fields through context.Context.
package logging

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Format string // json | console

	// OTEL mirrors records to the OpenTelemetry log bridge when a provider is supplied.
	OTEL bool

	// Fields are attached to every record.
	Fields map[string]string

	// RedactFields lists field keys whose values are always replaced.
	RedactFields []string
}

// NewDefaultConfig returns production defaults.
func NewDefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Fields: map[string]string{"service": "minutes"},
		RedactFields: []string{
			"password", "secret", "token", "api_key",
			"authorization", "bearer", "credential",
		},
	}
}

// New creates a logger from config. otelProvider may be nil.
func New(cfg Config, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if cfg.Format != "json" && cfg.Format != "console" {
		return nil, fmt.Errorf("format must be 'json' or 'console', got %q", cfg.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(
			NewRedactingEncoder(newEncoder(cfg.Format), cfg.RedactFields),
			zapcore.Lock(zapcore.AddSync(os.Stderr)),
			level,
		),
	}
	if cfg.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("minutes", otelzap.WithLoggerProvider(otelProvider)))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		logger = logger.With(fields...)
	}
	return logger, nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Sync flushes the logger, ignoring the harmless errors returned when
// stdout/stderr is a terminal or pipe.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	var errno syscall.Errno
	if err != nil && errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
