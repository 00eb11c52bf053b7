package notify

import (
	"context"
	"sync"
	"time"

	"delta_bot/pkg/logger"
)

// Alerter шлёт не больше одного алерта на класс ошибки за окно.
type Alerter struct {
	n         Notifier
	recipient string
	window    time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewAlerter(n Notifier, recipient string, window time.Duration) *Alerter {
	return &Alerter{
		n:         n,
		recipient: recipient,
		window:    window,
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
	}
}

func (a *Alerter) WithClock(now func() time.Time) *Alerter {
	a.now = now
	return a
}

// canSend отмечает отправку сразу, чтобы параллельные вызовы не продублировали алерт.
func (a *Alerter) canSend(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.window {
		return false
	}
	a.lastSent[key] = now
	return true
}

// Alert возвращает false, если класс уже алертил в текущем окне.
func (a *Alerter) Alert(ctx context.Context, class, subject, body string) bool {
	if !a.canSend(class) {
		logger.Debug("notify: alert %q suppressed, window %s", class, a.window)
		return false
	}
	if err := a.n.Send(ctx, subject, body, a.recipient); err != nil {
		logger.Error("notify: send alert %q: %v", class, err)
	}
	return true
}
