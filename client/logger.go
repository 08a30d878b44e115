package client

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to a LogLevel.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogField represents a structured log field.
type LogField struct {
	Key   string
	Value interface{}
}

// Helper functions for creating fields
func String(key, val string) LogField          { return LogField{Key: key, Value: val} }
func Int(key string, val int) LogField         { return LogField{Key: key, Value: val} }
func Int64(key string, val int64) LogField     { return LogField{Key: key, Value: val} }
func Float64(key string, val float64) LogField { return LogField{Key: key, Value: val} }
func Bool(key string, val bool) LogField       { return LogField{Key: key, Value: val} }
func Duration(key string, val time.Duration) LogField {
	return LogField{Key: key, Value: val.String()}
}
func Error(key string, err error) LogField {
	if err == nil {
		return LogField{Key: key, Value: nil}
	}
	return LogField{Key: key, Value: err.Error()}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, fields ...LogField)
	WithFields(fields ...LogField) Logger
}

// zapLogger implements Logger on top of a zap logger.
type zapLogger struct {
	logger *zap.Logger
}

// NewLogger creates a JSON logger with the specified level and output.
func NewLogger(level string, output io.Writer) Logger {
	if output == nil {
		output = os.Stdout
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(output),
		ParseLogLevel(level).zapLevel(),
	)
	return &zapLogger{logger: zap.New(core)}
}

// NewZapLogger adapts an existing zap logger.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		return NewNoopLogger()
	}
	return &zapLogger{logger: logger}
}

// NewDefaultLogger creates a logger with INFO level writing to stdout.
func NewDefaultLogger() Logger {
	return NewLogger("INFO", os.Stdout)
}

func (l *zapLogger) Debug(msg string, fields ...LogField) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...LogField) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...LogField) {
	l.logger.Warn(msg, zapFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...LogField) {
	l.logger.Error(msg, zapFields(fields)...)
}

func (l *zapLogger) WithFields(fields ...LogField) Logger {
	return &zapLogger{logger: l.logger.With(zapFields(fields)...)}
}

// zapFields redacts and converts fields.
func zapFields(fields []LogField) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	fields = redactSensitiveFields(fields)
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

// redactSensitiveFields masks values for sensitive keys.
func redactSensitiveFields(fields []LogField) []LogField {
	sensitiveKeys := map[string]bool{
		"password":      true,
		"token":         true,
		"secret":        true,
		"authorization": true,
		"api_key":       true,
		"apikey":        true,
		"auth":          true,
	}

	result := make([]LogField, len(fields))
	for i, field := range fields {
		key := strings.ToLower(field.Key)
		if sensitiveKeys[key] {
			result[i] = LogField{Key: field.Key, Value: "[REDACTED]"}
		} else {
			result[i] = field
		}
	}

	return result
}

// noopLogger implements Logger but does nothing.
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, fields ...LogField) {}
func (n *noopLogger) Info(msg string, fields ...LogField)  {}
func (n *noopLogger) Warn(msg string, fields ...LogField)  {}
func (n *noopLogger) Error(msg string, fields ...LogField) {}
func (n *noopLogger) WithFields(fields ...LogField) Logger { return n }

// NewNoopLogger creates a logger that discards all output.
func NewNoopLogger() Logger {
	return &noopLogger{}
}
