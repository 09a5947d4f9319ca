package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithChannel adds channel context to logger.
func (l *Logger) WithChannel(channel string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("channel", channel).Logger(),
	}
}

// WithSink adds sink context to logger.
func (l *Logger) WithSink(sinkName string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("sink", sinkName).Logger(),
	}
}

// WithFile adds tail-file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// SubscriptionOpened logs a channel subscription starting.
func (l *Logger) SubscriptionOpened(channel, query string, fromOldest bool) {
	l.logger.Info().
		Str("channel", channel).
		Str("query", query).
		Bool("from_oldest", fromOldest).
		Msg("channel subscription opened")
}

// EventEnqueued logs a single event entering the queue.
func (l *Logger) EventEnqueued(channel string, recordNumber int64, messageSize int) {
	l.logger.Debug().
		Str("channel", channel).
		Int64("record_number", recordNumber).
		Int("message_size", messageSize).
		Msg("event enqueued")
}

// BatchSent logs a successful batch post.
func (l *Logger) BatchSent(sinkName string, messages, bytesSent int, elapsed time.Duration) {
	l.logger.Info().
		Str("sink", sinkName).
		Int("messages", messages).
		Int("bytes", bytesSent).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("batch posted")
}

// RateReport logs a periodic incoming-vs-outgoing rate summary.
func (l *Logger) RateReport(incomingPerSec, outgoingPerSec float64, queueDepth int) {
	l.logger.Info().
		Float64("incoming_per_sec", incomingPerSec).
		Float64("outgoing_per_sec", outgoingPerSec).
		Int("queue_depth", queueDepth).
		Msg("rate report")
}

// SinkTransient logs a recoverable sink failure that triggers backoff.
func (l *Logger) SinkTransient(sinkName string, errorMsg string, retryDelay time.Duration) {
	l.logger.Warn().
		Str("sink", sinkName).
		Str("error_message", errorMsg).
		Float64("retry_delay_seconds", retryDelay.Seconds()).
		Msg("sink post failed, will retry")
}

// SinkFatalAuth logs an authentication failure from a sink.
func (l *Logger) SinkFatalAuth(sinkName string, errorMsg string, halted bool) {
	l.logger.Error().
		Str("sink", sinkName).
		Str("error_message", errorMsg).
		Bool("halted", halted).
		Msg("sink rejected credentials")
}

// BookmarkCommitted logs a bookmark advancing for a channel.
func (l *Logger) BookmarkCommitted(channel, token string) {
	l.logger.Debug().
		Str("channel", channel).
		Str("token", token).
		Msg("bookmark committed")
}

// ConnectionEstablished logs sink connection establishment.
func (l *Logger) ConnectionEstablished(remoteAddr string, sinkName string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("sink", sinkName).
		Msg("sink connection established")
}

// ConnectionFailed logs sink connection failure.
func (l *Logger) ConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("sink connection failed")
}

// WatchdogFailed logs a heartbeat going stale.
func (l *Logger) WatchdogFailed(heartName string, lastBeat time.Time) {
	l.logger.Error().
		Str("heart", heartName).
		Time("last_beat", lastBeat).
		Msg("watchdog declared heart stale")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
