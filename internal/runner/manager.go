package runner

import (
	"context"
	"fmt"
	"sync"

	"delta_bot/pkg/logger"
)

// Loop — фоновый цикл, работающий до отмены ctx.
type Loop struct {
	Name string
	Run  func(ctx context.Context) error
}

// Manager запускает циклы роутера и трейлинга с общей отменой.
type Manager struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loops   []Loop
	running bool
}

func NewManager(loops ...Loop) *Manager {
	return &Manager{loops: loops}
}

func (m *Manager) Start(parent context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("runner already running")
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.running = true

	for _, l := range m.loops {
		l := l
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			logger.Info("runner: %s started", l.Name)
			if err := l.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("runner: %s stopped: %v", l.Name, err)
				return
			}
			logger.Info("runner: %s stopped", l.Name)
		}()
	}
	return nil
}

// Stop отменяет циклы и ждёт их завершения.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	// Можно заранее снять флаг, чтобы второй вызов не прошёл
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
