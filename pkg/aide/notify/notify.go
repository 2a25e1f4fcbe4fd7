// Package notify abstracts the desktop notification collaborator. The hub's
// rendering layer supplies a real implementation; this package ships a
// log-backed default so headless runs still surface notifications.
package notify

import "log/slog"

// Notification is a user-facing notification.
type Notification struct {
	Title string
	Body  string
}

// Notifier shows notifications.
type Notifier interface {
	Show(n Notification)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Show implements Notifier.
func (l *LogNotifier) Show(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "title", n.Title, "body", n.Body)
}

// Nop discards notifications.
type Nop struct{}

// Show implements Notifier.
func (Nop) Show(Notification) {}
