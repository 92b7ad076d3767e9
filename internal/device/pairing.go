// Package device manages paired companion devices (watch, phone, tablet):
// short-lived pairing codes, device registration, and the push hub that
// delivers vibrate commands and alarm payloads over websocket.
package device

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/calumw/pilltick/internal/store"
	"go.uber.org/zap"
)

const (
	pairCodeTTL    = 5 * time.Minute
	pairCodeDigits = 6
)

// Manager handles the pairing flow. A pairing code is a one-time 6-digit
// number shown to the user; the device redeems it within the TTL window.
type Manager struct {
	store  *store.Store
	logger *zap.Logger
}

func NewManager(st *store.Store, logger *zap.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

type pairTicket struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeginPairing issues a one-time code bound to the user. A fresh call
// replaces nothing; multiple codes can be outstanding at once.
func (m *Manager) BeginPairing(userID string) (string, error) {
	code, err := randomCode(pairCodeDigits)
	if err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}

	ticket, err := json.Marshal(pairTicket{UserID: userID, CreatedAt: time.Now()})
	if err != nil {
		return "", err
	}
	if err := m.store.SetTTL("pair/"+code, ticket, pairCodeTTL); err != nil {
		return "", fmt.Errorf("failed to store pairing code: %w", err)
	}

	m.logger.Info("Pairing started", zap.String("user_id", userID))
	return code, nil
}

// CompletePairing redeems a code and registers the device. The code is
// consumed whether or not registration succeeds afterwards.
func (m *Manager) CompletePairing(code, name, kind string) (*store.Device, error) {
	raw, err := m.store.Get("pair/" + code)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, apperrors.ErrPairCodeInvalid
	}
	if err := m.store.Delete("pair/" + code); err != nil {
		m.logger.Warn("Failed to consume pairing code", zap.Error(err))
	}

	var ticket pairTicket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, apperrors.ErrPairCodeInvalid
	}

	if name == "" {
		name = "Unnamed device"
	}
	if kind == "" {
		kind = "phone"
	}

	dev := &store.Device{
		ID:       store.NewID("dev"),
		UserID:   ticket.UserID,
		Name:     name,
		Kind:     kind,
		PairedAt: time.Now(),
	}
	if err := m.store.CreateDevice(dev); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	m.logger.Info("Device paired",
		zap.String("user_id", ticket.UserID),
		zap.String("device_id", dev.ID),
		zap.String("kind", kind),
	)
	return dev, nil
}

// Revoke marks a device as revoked; its websocket session is cut on the next
// push attempt.
func (m *Manager) Revoke(userID, deviceID string) error {
	dev, err := m.store.GetDevice(deviceID)
	if err != nil {
		return err
	}
	if dev == nil || dev.UserID != userID {
		return apperrors.ErrDeviceNotFound
	}
	return m.store.RevokeDevice(deviceID)
}

// List returns the user's paired devices
func (m *Manager) List(userID string) ([]store.Device, error) {
	return m.store.ListDevices(userID)
}

func randomCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
