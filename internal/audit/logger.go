package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Package audit provides the immutable audit log for mission control.
//
// Every mission transition, stage outcome, governance decision and
// observation-window resolution is appended here. The log is write-through:
// there is no in-memory buffering, because an audit trail that silently drops
// entries invalidates every other guarantee in the system. For the same
// reason Append returns an error, and callers treat that error as fatal to
// the engine rather than something to swallow.

// ErrAuditUnavailable marks an audit append that could not be durably
// recorded. The lifecycle engine propagates it instead of continuing.
var ErrAuditUnavailable = errors.New("audit log unavailable")

// Logger defines the interface for audit logging
type Logger interface {
	// Append durably records one audit event. A non-nil error means the
	// event may not have been recorded and the caller must stop.
	Append(ctx context.Context, event *Event) error

	// Sync flushes the underlying log stream.
	Sync() error

	// Close flushes and closes the audit logger.
	Close() error
}

// Mirror receives a second, queryable copy of every audit event. The sqlite
// store implements it. A mirror failure fails the append.
type Mirror interface {
	AppendAuditEvent(ctx context.Context, event *Event) error
}

// Config represents audit logger configuration
type Config struct {
	// Path is the path to the audit log file
	Path string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		Path:       "logs/audit.log",
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	stream *zap.Logger
	mirror Mirror
}

// NewLogger creates a new audit logger writing to a rotated JSON file and,
// when mirror is non-nil, to the queryable store as well.
func NewLogger(config *Config, mirror Mirror) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "logged_at",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit entries are always written — InfoLevel, no filtering.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &auditLogger{
		stream: zap.New(core),
		mirror: mirror,
	}, nil
}

// Append durably records one audit event.
func (l *auditLogger) Append(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrAuditUnavailable)
	}

	l.stream.Info(string(event.EventType),
		zap.Time("timestamp", event.Timestamp),
		zap.String("correlation_id", event.CorrelationID),
		zap.String("event_type", string(event.EventType)),
		zap.String("result", string(event.Result)),
		zap.String("actor", event.Actor),
		zap.String("role", event.Role),
		zap.String("resource", event.Resource),
		zap.String("subsystem", event.Subsystem),
		zap.String("action", event.Action),
		zap.String("description", event.Description),
		zap.String("error", event.Error),
		zap.Int64("duration_ms", event.DurationMs),
		zap.Any("metadata", event.Metadata),
	)

	if l.mirror != nil {
		if err := l.mirror.AppendAuditEvent(ctx, event); err != nil {
			return fmt.Errorf("%w: mirror append: %v", ErrAuditUnavailable, err)
		}
	}
	return nil
}

// Sync flushes the log stream.
func (l *auditLogger) Sync() error {
	return l.stream.Sync()
}

// Close flushes and closes the audit logger.
func (l *auditLogger) Close() error {
	return l.Sync()
}
