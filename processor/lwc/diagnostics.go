package lwc

import "log/slog"

// DiagnosticLogger receives diagnostic messages for resolved subscriptions.
// Calls are fire-and-forget and must not block the stage.
type DiagnosticLogger interface {
	Log(expression, message string)
}

// DiagnosticFunc adapts a function to DiagnosticLogger.
type DiagnosticFunc func(expression, message string)

// Log calls f(expression, message).
func (f DiagnosticFunc) Log(expression, message string) {
	f(expression, message)
}

// SlogDiagnostics writes diagnostic messages to a slog.Logger at info level.
type SlogDiagnostics struct {
	Logger *slog.Logger
}

// Log implements DiagnosticLogger.
func (d SlogDiagnostics) Log(expression, message string) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Subscription diagnostic", "expression", expression, "message", message)
}
