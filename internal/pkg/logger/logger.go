package logger

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// String returns the upper-case level name.
func (l Level) String() string { return levelNames[l] }

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l Level) zap() zapcore.Level {
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

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	zl        *zap.Logger
	level     zap.AtomicLevel
	redactPII bool
}

// New builds a logger writing JSON lines to w at the given level.
func New(w zapcore.WriteSyncer, level Level, redactPII bool) *Logger {
	atom := zap.NewAtomicLevelAt(level.zap())
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(w), atom)
	return &Logger{zl: zap.New(core), level: atom, redactPII: redactPII}
}

var defaultLogger = New(zapcore.AddSync(os.Stderr), INFO, true)

// Default returns the package-level logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the package-level logger, mostly for tests.
func SetDefault(l *Logger) { defaultLogger = l }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(l.zap()) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// Sync flushes the default logger.
func Sync() { _ = defaultLogger.zl.Sync() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.Debug(msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.Info(msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.Warn(msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.Error(msg, fields...) }

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	ce := l.zl.Check(level.zap(), msg)
	if ce == nil {
		return
	}

	l.mu.RLock()
	redact := l.redactPII
	l.mu.RUnlock()

	// Parse key-value pairs from fields
	zf := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		zf = append(zf, field(key, fields[i+1], redact))
	}
	ce.Write(zf...)
}

// field keeps numbers, bools and durations typed. Only text can carry an
// address, so redaction applies to strings, errors and Stringers.
func field(key string, val interface{}, redact bool) zap.Field {
	text := func(v string) zap.Field {
		if redact {
			v = redactPIIValue(v)
		}
		return zap.String(key, v)
	}
	if val == nil {
		return zap.Skip()
	}
	switch v := val.(type) {
	case string:
		return text(v)
	case error:
		return text(v.Error())
	case []string:
		if !redact {
			return zap.Strings(key, v)
		}
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = redactPIIValue(s)
		}
		return zap.Strings(key, out)
	case time.Duration:
		return zap.Duration(key, v)
	case fmt.Stringer:
		return text(v.String())
	default:
		return zap.Any(key, v)
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactPIIValue masks every email-looking substring, whatever the key.
func redactPIIValue(val string) string {
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
