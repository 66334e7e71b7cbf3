// Package accounts tracks provider credentials and capability flags in the
// state store. Adapters disconnect an account on a fatal auth error so
// later calls short-circuit instead of repeating the failure.
package accounts

import (
	"context"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"go.uber.org/zap"
)

// Manager reads and writes per-provider connection state.
type Manager struct {
	state  repository.StateRepository
	logger *zap.Logger
}

func NewManager(state repository.StateRepository, logger *zap.Logger) *Manager {
	return &Manager{state: state, logger: logger}
}

// Connect stores a credential and marks the capability available.
func (m *Manager) Connect(ctx context.Context, provider entity.Provider, token string) error {
	if err := m.state.SetString(ctx, repository.KeyToken(provider), token); err != nil {
		return err
	}
	return m.state.SetBool(ctx, repository.KeyConnected(provider), true)
}

// Disconnect clears the stored credential and marks the capability
// unavailable. Called by adapters on auth_invalid and by the user.
func (m *Manager) Disconnect(ctx context.Context, provider entity.Provider) error {
	if err := m.state.Delete(ctx, repository.KeyToken(provider)); err != nil {
		return err
	}
	m.logger.Warn("provider account disconnected", zap.String("provider", string(provider)))
	return m.state.SetBool(ctx, repository.KeyConnected(provider), false)
}

// Token returns the stored credential, "" when none.
func (m *Manager) Token(ctx context.Context, provider entity.Provider) (string, error) {
	return m.state.GetString(ctx, repository.KeyToken(provider))
}

// Connected reports whether the provider capability is available.
func (m *Manager) Connected(ctx context.Context, provider entity.Provider) (bool, error) {
	return m.state.GetBool(ctx, repository.KeyConnected(provider))
}
