package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// wsUpgrade gates websocket routes. Browsers cannot set an Authorization
// header on websocket requests, so /ws/alarms authenticates through a token
// query parameter and /ws/device through its pairing code.
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	if c.Path() == "/ws/alarms" {
		claims, err := s.tokens.ParseToken(c.Query("token"))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals("user_id", claims.UserID)
	}
	return c.Next()
}

// handleAlarmSocket streams alarm lifecycle events to the overlay client
func (s *Server) handleAlarmSocket(c *websocket.Conn) {
	defer c.Close()

	uid, _ := c.Locals("user_id").(string)
	events, cancel := s.events.Subscribe(uid)
	defer cancel()

	// Push the current open alarms first so a reconnecting overlay catches up
	if err := c.WriteJSON(fiber.Map{
		"type":   "snapshot",
		"alarms": s.engine.ActiveAlarmsForUser(uid),
	}); err != nil {
		return
	}

	// Reader goroutine: its only job is to notice the peer going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleDeviceSocket is the paired-device (watch) connection. A new device
// redeems its pairing code here; a known device reconnects with its id.
func (s *Server) handleDeviceSocket(c *websocket.Conn) {
	defer c.Close()

	var deviceID, uid string

	if code := c.Query("code"); code != "" {
		dev, err := s.devices.CompletePairing(code, c.Query("name"), c.Query("kind"))
		if err != nil {
			c.WriteJSON(fiber.Map{"type": "error", "error": "pairing code invalid or expired"})
			return
		}
		deviceID, uid = dev.ID, dev.UserID
		if err := c.WriteJSON(fiber.Map{"type": "paired", "device_id": dev.ID}); err != nil {
			return
		}
	} else if id := c.Query("device_id"); id != "" {
		dev, err := s.store.GetDevice(id)
		if err != nil || dev == nil || dev.Revoked {
			c.WriteJSON(fiber.Map{"type": "error", "error": "unknown or revoked device"})
			return
		}
		deviceID, uid = dev.ID, dev.UserID
	} else {
		c.WriteJSON(fiber.Map{"type": "error", "error": "code or device_id required"})
		return
	}

	s.deviceHub.Attach(deviceID, uid, c)
	defer s.deviceHub.Detach(deviceID)
	s.logger.Debug("Device socket open", zap.String("device_id", deviceID))

	// Hold the connection open; the hub writes, we only watch for close
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
