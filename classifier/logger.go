package classifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	safety "github.com/heibot/safety"
)

// APILogEntry describes one call to a classifier backend.
type APILogEntry struct {
	Timestamp    time.Time
	Provider     string
	Operation    string // detect_faces, classify_image, classify_text
	UserID       string
	Duration     time.Duration
	Success      bool
	FailClosed   bool
	StatusCode   int
	ErrorCode    string
	ErrorMessage string
	RetryCount   int
	InputSize    int
	TopCategory  string
	TopScore     float64
}

// APILogger records classifier calls.
type APILogger interface {
	Log(ctx context.Context, entry APILogEntry)
}

// NopLogger discards all entries.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, entry APILogEntry) {}

// ZapLogger writes entries as structured zap logs. Successful calls are
// logged at debug level, failures at warn.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger creates an APILogger backed by zap.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("classifier")}
}

// Log implements APILogger.
func (l *ZapLogger) Log(ctx context.Context, entry APILogEntry) {
	fields := []zap.Field{
		zap.String("provider", entry.Provider),
		zap.String("op", entry.Operation),
		zap.Duration("duration", entry.Duration),
		zap.Int("retries", entry.RetryCount),
		zap.Int("input_size", entry.InputSize),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}

	if entry.Success {
		if entry.TopCategory != "" {
			fields = append(fields, zap.String("top_category", entry.TopCategory), zap.Float64("top_score", entry.TopScore))
		}
		l.logger.Debug("classifier call", fields...)
		return
	}

	fields = append(fields,
		zap.Bool("fail_closed", entry.FailClosed),
		zap.String("error_code", entry.ErrorCode),
		zap.String("error", entry.ErrorMessage),
	)
	if entry.StatusCode > 0 {
		fields = append(fields, zap.Int("status", entry.StatusCode))
	}
	l.logger.Warn("classifier call failed", fields...)
}

// LogTimer times one classifier call.
type LogTimer struct {
	entry  APILogEntry
	start  time.Time
	logger APILogger
}

// StartLog starts timing a call.
func StartLog(logger APILogger, provider, operation string) *LogTimer {
	now := time.Now()
	return &LogTimer{
		entry: APILogEntry{
			Provider:  provider,
			Operation: operation,
			Timestamp: now,
		},
		start:  now,
		logger: logger,
	}
}

// WithUser sets the user the content belongs to.
func (t *LogTimer) WithUser(userID string) *LogTimer {
	t.entry.UserID = userID
	return t
}

// WithInputSize sets the payload size in bytes.
func (t *LogTimer) WithInputSize(n int) *LogTimer {
	t.entry.InputSize = n
	return t
}

// WithRetryCount sets the retry count.
func (t *LogTimer) WithRetryCount(count int) *LogTimer {
	t.entry.RetryCount = count
	return t
}

// Success logs a successful call with the highest scoring category.
func (t *LogTimer) Success(ctx context.Context, topCategory string, topScore float64) time.Duration {
	t.entry.Duration = time.Since(t.start)
	t.entry.Success = true
	t.entry.TopCategory = topCategory
	t.entry.TopScore = topScore
	t.logger.Log(ctx, t.entry)
	return t.entry.Duration
}

// Error logs a failed call that was answered with maximum risk.
func (t *LogTimer) Error(ctx context.Context, err error) time.Duration {
	t.entry.Duration = time.Since(t.start)
	t.entry.Success = false
	t.entry.FailClosed = true

	var pe *safety.ProviderError
	if errors.As(err, &pe) {
		t.entry.ErrorCode = pe.Code
		t.entry.ErrorMessage = pe.Message
		t.entry.StatusCode = pe.StatusCode
	} else if err != nil {
		t.entry.ErrorCode = string(safety.GetErrorCategory(err))
		t.entry.ErrorMessage = err.Error()
	}

	t.logger.Log(ctx, t.entry)
	return t.entry.Duration
}
