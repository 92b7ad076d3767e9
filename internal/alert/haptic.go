package alert

import (
	"fmt"

	"github.com/calumw/pilltick/internal/alarm"
)

// DevicePusher pushes a payload to a user's paired devices. The device hub
// in internal/device satisfies it.
type DevicePusher interface {
	PushToUser(userID string, payload any) (delivered int, err error)
}

// vibrationPatterns maps each sound id to a vibrate pattern in milliseconds,
// on/off alternating, mirroring the audio tone's rhythm.
var vibrationPatterns = map[string][]int{
	"classic": {200, 100, 200, 250, 200, 100, 200},
	"chime":   {300, 150, 450},
	"beep":    {120, 120, 120},
	"urgent":  {100, 50, 100, 50, 100, 50, 100, 50, 100},
}

// HapticChannel pushes a vibrate command to every paired device of the
// alarm's owner. It only fires for reminders with vibrate enabled.
type HapticChannel struct {
	devices DevicePusher
}

func NewHapticChannel(devices DevicePusher) *HapticChannel {
	return &HapticChannel{devices: devices}
}

func (h *HapticChannel) Name() string { return "haptic" }

func (h *HapticChannel) Deliver(v alarm.View) error {
	if !v.Vibrate {
		return nil
	}

	pattern, ok := vibrationPatterns[v.Sound]
	if !ok {
		pattern = vibrationPatterns["classic"]
	}

	delivered, err := h.devices.PushToUser(v.UserID, map[string]any{
		"type":        "vibrate",
		"reminder_id": v.ReminderID,
		"slot":        v.Slot,
		"pattern":     pattern,
	})
	if err != nil {
		return err
	}
	if delivered == 0 {
		return fmt.Errorf("no paired devices connected for user %s", v.UserID)
	}
	return nil
}
