// Package auth provides the device identity and the bearer token used by the
// API client. The device id is created once and kept, with the token, in an
// encrypted file.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/api"
)

// Authenticator exchanges a device id for a user and token.
type Authenticator interface {
	Authenticate(ctx context.Context, deviceID string) (*api.AuthResponse, error)
}

// Manager hands out the current token, authenticating anonymously only when
// none is stored. It satisfies api.TokenSource and is safe for concurrent use.
type Manager struct {
	store *FileStore
	auth  Authenticator
	log   *logrus.Entry

	mu     sync.Mutex
	id     Identity
	loaded bool
}

func NewManager(store *FileStore, auth Authenticator, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{store: store, auth: auth, log: log.WithField("component", "auth")}
}

// Identity returns the stored identity, creating a device id if this is the
// first run.
func (m *Manager) Identity() (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return Identity{}, err
	}
	return m.id, nil
}

// DeviceID returns the stable per-device identifier.
func (m *Manager) DeviceID() (string, error) {
	id, err := m.Identity()
	return id.DeviceID, err
}

// Token returns the stored token or authenticates to obtain one.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return "", err
	}
	if m.id.Token != "" {
		return m.id.Token, nil
	}

	resp, err := m.auth.Authenticate(ctx, m.id.DeviceID)
	if err != nil {
		return "", fmt.Errorf("auth: anonymous authentication failed: %w", err)
	}
	m.id.UserID = resp.UserID
	m.id.Token = resp.Token
	if err := m.store.Save(m.id); err != nil {
		m.log.WithError(err).Warn("token obtained but could not be persisted")
	}

	m.log.WithField("user_id", resp.UserID).Info("authenticated")
	return m.id.Token, nil
}

// Invalidate forgets token so the next call to Token re-authenticates. A
// rejection of a token that has already been replaced is ignored.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id.Token == "" {
		return
	}
	if m.id.Token != token {
		m.log.Debug("ignoring rejection of a superseded token")
		return
	}
	m.id.Token = ""
	if err := m.store.Save(m.id); err != nil {
		m.log.WithError(err).Warn("failed to persist token invalidation")
	}
	m.log.Info("token invalidated")
}

// load must be called with m.mu held.
func (m *Manager) load() error {
	if m.loaded {
		return nil
	}

	id, err := m.store.Load()
	switch {
	case errors.Is(err, ErrNoIdentity):
		id = Identity{DeviceID: uuid.NewString()}
		if err := m.store.Save(id); err != nil {
			return err
		}
		m.log.WithField("device_id", id.DeviceID).Info("created device identity")
	case err != nil:
		return err
	case id.DeviceID == "":
		id.DeviceID = uuid.NewString()
		if err := m.store.Save(id); err != nil {
			return err
		}
	}

	m.id = id
	m.loaded = true
	return nil
}
