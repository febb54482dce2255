package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Manager starts components in the order they were added and stops them in
// reverse order, so a component may depend on everything added before it.
type Manager struct {
	shutdownTimeout time.Duration

	mu      sync.Mutex
	servers []Runnable
	started int
	running bool
	errCh   chan error
}

// NewManager creates a manager. shutdownTimeout bounds Stop when Run
// shuts down; zero means 30s.
func NewManager(shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Manager{
		shutdownTimeout: shutdownTimeout,
		errCh:           make(chan error, 1),
	}
}

// Add appends components to the manager. It has no effect after Start.
func (m *Manager) Add(servers ...Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, servers...)
}

// Fail reports a fatal error from a running component. Run returns after
// shutting everything down. Only the first error is kept.
func (m *Manager) Fail(err error) {
	select {
	case m.errCh <- err:
	default:
	}
}

// Start starts all components. If one fails, the ones already started are
// stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("server manager already started")
	}
	m.running = true

	for i, s := range m.servers {
		if err := s.Start(ctx); err != nil {
			m.started = i
			logger.Errorw("component failed to start", "name", s.Name(), "error", err)
			_ = m.stopLocked(ctx)
			return fmt.Errorf("failed to start %s: %w", s.Name(), err)
		}
		logger.Infow("component started", "name", s.Name())
	}
	m.started = len(m.servers)
	return nil
}

// Stop stops every started component in reverse order and returns the
// aggregated errors.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		s := m.servers[i]
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", s.Name(), err))
			continue
		}
		logger.Infow("component stopped", "name", s.Name())
	}
	m.started = 0
	m.running = false
	return utilerrors.NewAggregate(errs)
}

// Run starts all components, blocks until ctx is done or a component calls
// Fail, then stops everything within the shutdown timeout.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Server shutting down...")
	case runErr = <-m.errCh:
		logger.Errorw("Component failed, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
	defer cancel()

	return utilerrors.NewAggregate([]error{runErr, m.Stop(shutdownCtx)})
}
