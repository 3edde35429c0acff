package domain

// Event names published by the reconciler.
const (
	EventGhostsCleaned   = "ghosts-cleaned"
	EventReconcileFailed = "reconcile-failed"
	EventAttemptsReset   = "reconcile-attempts-reset"
)

// EventPublisher delivers events to subscribers. Publish must never block.
type EventPublisher interface {
	Publish(event string, payload any)
}
