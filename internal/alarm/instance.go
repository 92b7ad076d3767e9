package alarm

import (
	"time"

	"github.com/calumw/pilltick/internal/medication"
)

// State is the lifecycle state of one alarm instance
type State string

const (
	StatePending      State = "pending"
	StateRinging      State = "ringing"
	StateSnoozed      State = "snoozed"
	StateAcknowledged State = "acknowledged"
	StateSkipped      State = "skipped"
)

// Terminal reports whether no further transitions are possible from s
func (s State) Terminal() bool {
	return s == StateAcknowledged || s == StateSkipped
}

// Key identifies one occurrence: one reminder's HH:MM slot on the current day
type Key struct {
	ReminderID string
	Slot       string
}

// instance is the live tracking object for one occurrence. It exists only in
// process memory; its durable trace is the dose log entry it produces.
type instance struct {
	key          Key
	reminder     medication.Reminder
	state        State
	day          string // YYYY-MM-DD the instance belongs to
	ringingSince time.Time
	repeatCount  int

	repeatTimer Timer
	snoozeTimer Timer
}

// stopTimers cancels both timers. Idempotent: deletion, acknowledgment, and
// dismissal can each race to cancel the same timer.
func (in *instance) stopTimers() {
	if in.repeatTimer != nil {
		in.repeatTimer.Stop()
		in.repeatTimer = nil
	}
	if in.snoozeTimer != nil {
		in.snoozeTimer.Stop()
		in.snoozeTimer = nil
	}
}

func (in *instance) view() View {
	return View{
		ReminderID:     in.key.ReminderID,
		Slot:           in.key.Slot,
		Day:            in.day,
		Name:           in.reminder.Name,
		Dosage:         in.reminder.Dosage,
		Instructions:   in.reminder.Instructions,
		Sound:          in.reminder.Sound,
		Vibrate:        in.reminder.Vibrate,
		RepeatUntilAck: in.reminder.RepeatUntilAck,
		SnoozeMinutes:  in.reminder.SnoozeMinutes,
		UserID:         in.reminder.UserID,
		State:          in.state,
		RingingSince:   in.ringingSince,
		RepeatCount:    in.repeatCount,
	}
}

// View is a read-only snapshot of an alarm instance, safe to hand to alert
// channels and the UI layer.
type View struct {
	ReminderID     string    `json:"reminder_id"`
	Slot           string    `json:"slot"`
	Day            string    `json:"day"`
	Name           string    `json:"name"`
	Dosage         string    `json:"dosage,omitempty"`
	Instructions   string    `json:"instructions,omitempty"`
	Sound          string    `json:"sound"`
	Vibrate        bool      `json:"vibrate"`
	RepeatUntilAck bool      `json:"repeat_until_ack"`
	SnoozeMinutes  int       `json:"snooze_minutes"`
	UserID         string    `json:"user_id"`
	State          State     `json:"state"`
	RingingSince   time.Time `json:"ringing_since"`
	RepeatCount    int       `json:"repeat_count"`
}

// Event types published to the overlay sink
const (
	EventRinging    = "ringing"
	EventSnoozed    = "snoozed"
	EventResolved   = "resolved"
	EventCancelled  = "cancelled"
	EventSaveFailed = "save_failed"
)

// Event is one lifecycle notification for the in-app overlay
type Event struct {
	Type  string    `json:"type"`
	Alarm View      `json:"alarm"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}
