// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/domain"
)

// SessionControllerImpl implements domain.SessionController.
// It owns exactly one named capture session, described by the
// SessionSpec given at construction.
type SessionControllerImpl struct {
	backend domain.TraceBackend
	spec    domain.SessionSpec
	logger  *zap.Logger
}

// NewSessionController creates a controller for the named session.
func NewSessionController(
	backend domain.TraceBackend,
	spec domain.SessionSpec,
	logger *zap.Logger,
) domain.SessionController {
	return &SessionControllerImpl{
		backend: backend,
		spec:    spec,
		logger:  logger,
	}
}

// EnsureStarted creates the session if absent, registers all configured
// providers, and starts it when not already running.
// A stale session left behind by a crashed run counts as "already exists"
// and is simply started again. Creation and provider registration
// failures propagate; polling a half-built session is meaningless.
func (c *SessionControllerImpl) EnsureStarted(ctx context.Context) error {
	exists, err := c.backend.Exists(ctx, c.spec.Name)
	if err != nil {
		return fmt.Errorf("failed to query session %q: %w", c.spec.Name, err)
	}

	if !exists {
		if err := c.backend.Create(ctx, c.spec); err != nil {
			return fmt.Errorf("failed to create session %q: %w", c.spec.Name, err)
		}
		for _, provider := range c.spec.Providers {
			if err := c.backend.AddProvider(ctx, c.spec.Name, provider); err != nil {
				return fmt.Errorf("failed to register provider %q on session %q: %w",
					provider, c.spec.Name, err)
			}
		}
		c.logger.Info("created capture session",
			zap.String("session", c.spec.Name),
			zap.String("file", c.spec.FilePath),
			zap.Strings("providers", c.spec.Providers))
	} else {
		c.logger.Info("capture session already exists, reusing",
			zap.String("session", c.spec.Name))
	}

	running, err := c.backend.Running(ctx, c.spec.Name)
	if err != nil {
		return fmt.Errorf("failed to query session %q state: %w", c.spec.Name, err)
	}
	if running {
		c.logger.Debug("capture session already running",
			zap.String("session", c.spec.Name))
		return nil
	}

	if err := c.backend.Start(ctx, c.spec.Name); err != nil {
		return fmt.Errorf("failed to start session %q: %w", c.spec.Name, err)
	}

	c.logger.Info("capture session started", zap.String("session", c.spec.Name))
	return nil
}

// Stop stops the session if it exists and is running. No-op otherwise.
func (c *SessionControllerImpl) Stop(ctx context.Context) error {
	exists, err := c.backend.Exists(ctx, c.spec.Name)
	if err != nil {
		return fmt.Errorf("failed to query session %q: %w", c.spec.Name, err)
	}
	if !exists {
		c.logger.Debug("session does not exist, nothing to stop",
			zap.String("session", c.spec.Name))
		return nil
	}

	running, err := c.backend.Running(ctx, c.spec.Name)
	if err != nil {
		return fmt.Errorf("failed to query session %q state: %w", c.spec.Name, err)
	}
	if !running {
		c.logger.Debug("session already stopped",
			zap.String("session", c.spec.Name))
		return nil
	}

	if err := c.backend.Stop(ctx, c.spec.Name); err != nil {
		return fmt.Errorf("failed to stop session %q: %w", c.spec.Name, err)
	}

	c.logger.Info("capture session stopped", zap.String("session", c.spec.Name))
	return nil
}

// Remove deletes the session if it exists, running or not. No-op otherwise.
func (c *SessionControllerImpl) Remove(ctx context.Context) error {
	exists, err := c.backend.Exists(ctx, c.spec.Name)
	if err != nil {
		return fmt.Errorf("failed to query session %q: %w", c.spec.Name, err)
	}
	if !exists {
		c.logger.Debug("session does not exist, nothing to remove",
			zap.String("session", c.spec.Name))
		return nil
	}

	if err := c.backend.Remove(ctx, c.spec.Name); err != nil {
		return fmt.Errorf("failed to remove session %q: %w", c.spec.Name, err)
	}

	c.logger.Info("capture session removed", zap.String("session", c.spec.Name))
	return nil
}

// Ensure SessionControllerImpl implements domain.SessionController.
var _ domain.SessionController = (*SessionControllerImpl)(nil)
