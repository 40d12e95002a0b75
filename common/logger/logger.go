package logger

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rainbow-me/ctxfields/common/env"
)

const (
	StringJSONEncoderName = "string_json"
	MessageKey            = "message"
)

// Logger is a thin value wrapper around zap so that packages depend on our types instead of zap's.
type Logger struct {
	z *zap.Logger
}

var (
	globalMu     sync.RWMutex
	global       *Logger
	registerOnce sync.Once
	registerErr  error
)

// NewLogger wraps an existing zap logger. A nil logger results in a no-op logger.
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// Instance returns the process-wide logger, initializing it from the environment on first use.
// If the environment is invalid it falls back to a production zap logger.
func Instance() Logger {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()
	if l != nil {
		return *l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		z, err := InitLogger()
		if err != nil {
			z, _ = zap.NewProduction()
		}
		global = NewLogger(z)
	}
	return *global
}

// ReplaceGlobal sets the logger returned by Instance.
func ReplaceGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// Zap returns the underlying zap logger.
func (l Logger) Zap() *zap.Logger {
	if l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

// With returns a child logger carrying the given fields.
func (l Logger) With(fields ...Field) Logger {
	return Logger{z: l.Zap().With(fields...)}
}

func (l Logger) Debug(msg string, fields ...Field) { l.Zap().Debug(msg, fields...) }
func (l Logger) Info(msg string, fields ...Field)  { l.Zap().Info(msg, fields...) }
func (l Logger) Warn(msg string, fields ...Field)  { l.Zap().Warn(msg, fields...) }
func (l Logger) Error(msg string, fields ...Field) { l.Zap().Error(msg, fields...) }

// Log writes a message at the given level.
func (l Logger) Log(level Level, msg string, fields ...Field) {
	if ce := l.Zap().Check(zapcore.Level(level), msg); ce != nil {
		ce.Write(fields...)
	}
}

type stringJSONEncoder struct {
	zapcore.Encoder
}

func newStringJSONEncoder(cfg zapcore.EncoderConfig) *stringJSONEncoder {
	return &stringJSONEncoder{zapcore.NewJSONEncoder(cfg)}
}

// NewStringJSONEncoder returns an encoder that encodes the JSON log dict as a string
// so the log processing pipeline can correctly process logs with nested JSON.
func NewStringJSONEncoder(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
	return newStringJSONEncoder(cfg), nil
}

// InitLogger initializes and returns a configured Zap logger with environment-specific settings.
func InitLogger(zapOpts ...zap.Option) (*zap.Logger, error) {
	var (
		config  zap.Config
		options []zap.Option
	)

	currentEnv, err := env.GetApplicationEnv()
	if err != nil {
		return nil, errors.Wrap(err, "invalid environment")
	}

	// zap refuses to register the same encoder name twice
	registerOnce.Do(func() {
		registerErr = zap.RegisterEncoder(StringJSONEncoderName, NewStringJSONEncoder)
	})
	if registerErr != nil {
		return nil, errors.Wrap(registerErr, "failed to register string JSON encoder")
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    MessageKey,
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	switch currentEnv {
	case env.EnvironmentLocal:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.MessageKey = MessageKey
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case env.EnvironmentLocalDocker, env.EnvironmentDevelopment, env.EnvironmentStaging:
		// JSON logs for Datadog ingestion, debug level kept so extraction diagnostics are visible
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName
	case env.EnvironmentProduction:
		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName
		config.Level.SetLevel(zap.InfoLevel)
	}
	options = append(options, zap.AddStacktrace(zap.ErrorLevel))
	options = append(options, zapOpts...)

	logger, err := config.Build(options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}

	return logger, nil
}

// Sync flushes the global logger, ignoring the errors stdout/stderr sinks return on some platforms.
func Sync() {
	_ = Instance().Zap().Sync()
	_ = os.Stderr.Sync()
}
