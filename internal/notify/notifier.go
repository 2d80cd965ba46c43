package notify

import "log/slog"

// Notifier publishes state-change events to subscribers scoped to a
// tenant. Publish is fire-and-forget: implementations swallow failures.
type Notifier interface {
	Publish(tenantID, event string, payload any)
}

// LogNotifier is a Notifier that only logs. Used when no fan-out hub is
// wired (CLI one-shot commands).
type LogNotifier struct{}

func (LogNotifier) Publish(tenantID, event string, payload any) {
	slog.Debug("event", "tenant", tenantID, "name", event)
}
