package device

import (
	"sync"

	"github.com/calumw/pilltick/internal/store"
	"go.uber.org/zap"
)

// Conn is the subset of a websocket connection the hub needs. Both
// *websocket.Conn and test fakes satisfy it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type session struct {
	deviceID string
	userID   string
	conn     Conn
}

// Hub tracks live device websocket sessions and pushes payloads to them.
// It satisfies alert.DevicePusher.
type Hub struct {
	store  *store.Store
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewHub(st *store.Store, logger *zap.Logger) *Hub {
	return &Hub{
		store:    st,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Attach registers a device's live connection, replacing any previous session
// for the same device.
func (h *Hub) Attach(deviceID, userID string, conn Conn) {
	h.mu.Lock()
	if prev, ok := h.sessions[deviceID]; ok {
		prev.conn.Close()
	}
	h.sessions[deviceID] = &session{deviceID: deviceID, userID: userID, conn: conn}
	h.mu.Unlock()

	h.logger.Debug("Device connected", zap.String("device_id", deviceID))
}

// Detach removes a device's session. Safe to call for unknown devices.
func (h *Hub) Detach(deviceID string) {
	h.mu.Lock()
	delete(h.sessions, deviceID)
	h.mu.Unlock()
}

// PushToUser writes the payload to every connected, non-revoked device of the
// user and returns how many received it. Dead connections are dropped.
func (h *Hub) PushToUser(userID string, payload interface{}) (int, error) {
	h.mu.Lock()
	var targets []*session
	for _, s := range h.sessions {
		if s.userID == userID {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if dev, err := h.store.GetDevice(s.deviceID); err == nil && (dev == nil || dev.Revoked) {
			s.conn.Close()
			h.Detach(s.deviceID)
			continue
		}

		if err := s.conn.WriteJSON(payload); err != nil {
			h.logger.Debug("Device push failed, dropping session",
				zap.String("device_id", s.deviceID), zap.Error(err))
			s.conn.Close()
			h.Detach(s.deviceID)
			continue
		}
		delivered++
		if err := h.store.TouchDevice(s.deviceID); err != nil {
			h.logger.Debug("Failed to update device last-seen", zap.Error(err))
		}
	}
	return delivered, nil
}

// Connected reports how many live sessions the user has
func (h *Hub) Connected(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.sessions {
		if s.userID == userID {
			n++
		}
	}
	return n
}
