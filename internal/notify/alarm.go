package notify

import (
	"io"
	"os"
	"sync"
	"time"

	"delta_bot/pkg/logger"
)

const bell = "\a"

// Alarm — постоянная тревога (звонок терминала + ERROR в лог) до явного Clear.
type Alarm struct {
	interval time.Duration
	out      io.Writer

	mu     sync.Mutex
	active bool
	reason string
	since  time.Time
	stop   chan struct{}
}

func NewAlarm(interval time.Duration) *Alarm {
	if interval <= 0 {
		interval = time.Second
	}
	return &Alarm{interval: interval, out: os.Stdout}
}

// WithOutput — куда писать звонок; nil отключает звук.
func (a *Alarm) WithOutput(w io.Writer) *Alarm {
	a.out = w
	return a
}

// Raise идемпотентен: повторный вызов только обновляет причину.
func (a *Alarm) Raise(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.reason = reason
	if a.active {
		return
	}
	a.active = true
	a.since = time.Now()
	a.stop = make(chan struct{})
	logger.Error("ALARM raised: %s", reason)

	go a.loop(a.stop)
}

func (a *Alarm) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return
	}
	close(a.stop)
	a.active = false
	logger.Info("alarm cleared after %s", time.Since(a.since).Truncate(time.Second))
	a.reason = ""
}

// Active — состояние и причина, для health.
func (a *Alarm) Active() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, a.reason
}

func (a *Alarm) loop(stop <-chan struct{}) {
	t := time.NewTicker(a.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			a.mu.Lock()
			reason, out := a.reason, a.out
			a.mu.Unlock()

			logger.Error("ALARM: %s", reason)
			if out != nil {
				_, _ = io.WriteString(out, bell)
			}
		}
	}
}
