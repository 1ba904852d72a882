package job

import (
	"context"
	"errors"
	"fmt"
)

// Healthcheck returns a readiness check that fails until Start has run and
// while the job database is unreachable.
func Healthcheck(m *Manager) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if m == nil {
			return fmt.Errorf("%w: no manager", ErrUnhealthy)
		}
		if !m.Started() {
			return errors.Join(ErrUnhealthy, ErrNotStarted)
		}
		if err := m.pool.Ping(ctx); err != nil {
			return errors.Join(ErrUnhealthy, err)
		}
		return nil
	}
}

// Started reports whether the manager is working jobs.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
