package notify

import "earnhub/pkg/logger"

// Severity labels a user-facing notice.
type Severity string

const (
	SeveritySuccess Severity = "SUCCESS"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
	SeverityCancel  Severity = "CANCEL"
)

// Notifier delivers short user-facing notices produced by the moderation
// and ledger flows. Implementations decide the channel.
type Notifier interface {
	Notify(userID string, severity Severity, message string)
}

// LogNotifier writes notices to the structured log. It is the default
// sink when no push channel is configured.
type LogNotifier struct{}

// Notify logs the notice as a structured event.
func (LogNotifier) Notify(userID string, severity Severity, message string) {
	logger.Info("user_notice", "user", userID, "severity", string(severity), "message", message)
}

// Nop discards all notices. Useful in tests.
type Nop struct{}

// Notify discards the notice.
func (Nop) Notify(string, Severity, string) {}
