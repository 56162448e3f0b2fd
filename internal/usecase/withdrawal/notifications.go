package withdrawal

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
)

// NotificationLog implements domain.Notifier by keeping each attempt's notifications in memory
type NotificationLog struct {
	mu        sync.Mutex
	byAttempt map[uuid.UUID][]domain.Notification
}

// NewNotificationLog creates an empty NotificationLog
func NewNotificationLog() *NotificationLog {
	return &NotificationLog{byAttempt: make(map[uuid.UUID][]domain.Notification)}
}

// Notify appends the notification to its attempt's history
func (l *NotificationLog) Notify(n domain.Notification) {
	l.mu.Lock()
	l.byAttempt[n.AttemptID] = append(l.byAttempt[n.AttemptID], n)
	l.mu.Unlock()

	log := withdrawLog.WithFields(logrus.Fields{
		"attempt": n.AttemptID,
		"trace":   n.TraceID,
		"kind":    n.Kind,
	})
	if n.TxURL != "" {
		log = log.WithField("tx_url", n.TxURL)
	}
	log.Info(n.Message)
}

// For returns the notifications of an attempt in the order they were emitted
func (l *NotificationLog) For(id uuid.UUID) []domain.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Notification(nil), l.byAttempt[id]...)
}

// Forget drops an attempt's history
func (l *NotificationLog) Forget(id uuid.UUID) {
	l.mu.Lock()
	delete(l.byAttempt, id)
	l.mu.Unlock()
}
