package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background loop owned by the Manager
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// WorkerState reports one registered worker
type WorkerState struct {
	Name     string
	Running  bool
	StartErr error
}

// Manager starts registered workers together and stops them in reverse order
type Manager struct {
	logger *zap.Logger

	mu      sync.Mutex
	workers []Worker
	state   map[string]*WorkerState
	running bool
	cancel  context.CancelFunc
}

// NewManager creates an empty manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger, state: map[string]*WorkerState{}}
}

// Register adds w. Names must be unique and workers cannot be added while running.
func (m *Manager) Register(w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cannot register %s while workers are running", w.Name())
	}
	if _, dup := m.state[w.Name()]; dup {
		return fmt.Errorf("worker %s already registered", w.Name())
	}
	m.workers = append(m.workers, w)
	m.state[w.Name()] = &WorkerState{Name: w.Name()}
	return nil
}

// StartAll starts every worker. One that fails to start is recorded and
// skipped; the others keep running.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("workers already running")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for _, w := range m.workers {
		st := m.state[w.Name()]
		st.StartErr = w.Start(workerCtx)
		st.Running = st.StartErr == nil
		if st.StartErr != nil {
			m.logger.Error("Failed to start worker", zap.String("worker_name", w.Name()), zap.Error(st.StartErr))
			continue
		}
		m.logger.Info("Worker started", zap.String("worker_name", w.Name()))
	}
	return nil
}

// StopAll stops running workers in reverse registration order
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	m.cancel()

	var errs []error
	for i := len(m.workers) - 1; i >= 0; i-- {
		w := m.workers[i]
		st := m.state[w.Name()]
		if !st.Running {
			continue
		}
		st.Running = false
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker", zap.String("worker_name", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// States returns a snapshot of every worker in registration order
func (m *Manager) States() []WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkerState, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, *m.state[w.Name()])
	}
	return out
}

// Healthy is true when the manager is running and no worker failed to start
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	for _, st := range m.state {
		if st.StartErr != nil {
			return false
		}
	}
	return true
}

// IsRunning returns whether StartAll has been called without StopAll
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
