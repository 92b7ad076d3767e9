package medication

import (
	"regexp"
	"time"

	"github.com/calumw/pilltick/internal/errors"
)

// Frequency describes how often a reminder fires per day/week
type Frequency string

const (
	FrequencyDaily       Frequency = "daily"
	FrequencyTwiceDaily  Frequency = "twice_daily"
	FrequencyThriceDaily Frequency = "thrice_daily"
	FrequencyWeekly      Frequency = "weekly"
	FrequencyAsNeeded    Frequency = "as_needed"
)

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyTwiceDaily, FrequencyThriceDaily, FrequencyWeekly, FrequencyAsNeeded:
		return true
	}
	return false
}

// DoseCount returns the required number of times-of-day for f, or -1 when the
// count is not fixed.
func (f Frequency) DoseCount() int {
	switch f {
	case FrequencyDaily:
		return 1
	case FrequencyTwiceDaily:
		return 2
	case FrequencyThriceDaily:
		return 3
	case FrequencyAsNeeded:
		return 0
	default:
		return -1
	}
}

// defaultTimes maps each frequency to its default schedule
var defaultTimes = map[Frequency][]string{
	FrequencyDaily:       {"08:00"},
	FrequencyTwiceDaily:  {"08:00", "20:00"},
	FrequencyThriceDaily: {"08:00", "14:00", "20:00"},
	FrequencyWeekly:      {"09:00"},
	FrequencyAsNeeded:    {},
}

// DefaultTimes returns a copy of the default times-of-day for f
func DefaultTimes(f Frequency) []string {
	times := defaultTimes[f]
	out := make([]string, len(times))
	copy(out, times)
	return out
}

// Alarm sound identifiers
const (
	SoundClassic = "classic"
	SoundChime   = "chime"
	SoundBeep    = "beep"
	SoundUrgent  = "urgent"
)

var timeOfDayRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidTimeOfDay reports whether s is a zero-padded 24-hour HH:MM string
func ValidTimeOfDay(s string) bool {
	return timeOfDayRe.MatchString(s)
}

// Reminder represents a recurring medicine schedule
type Reminder struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"index"`

	Name         string    `json:"name"`
	Dosage       string    `json:"dosage,omitempty"`
	Frequency    Frequency `json:"frequency"`
	Times        []string  `json:"times" gorm:"-"`
	TimesJSON    string    `json:"-" gorm:"type:text"`
	Active       bool      `json:"active" gorm:"default:true"`
	Instructions string    `json:"instructions,omitempty"`
	SourceDoc    string    `json:"source_doc,omitempty"`

	// Alarm options
	Sound          string `json:"sound"`
	Vibrate        bool   `json:"vibrate"`
	RepeatUntilAck bool   `json:"repeat_until_ack"`
	SnoozeMinutes  int    `json:"snooze_minutes"`

	LastTakenAt *time.Time `json:"last_taken_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the reminder is well-formed before it enters the active set.
// The alarm engine assumes validated reminders.
func (r *Reminder) Validate() error {
	if r.Name == "" {
		return errors.ErrReminderInvalid
	}
	if !r.Frequency.Valid() {
		return errors.ErrReminderInvalid
	}

	seen := make(map[string]bool, len(r.Times))
	for _, t := range r.Times {
		if !ValidTimeOfDay(t) {
			return errors.ErrInvalidTimeOfDay
		}
		if seen[t] {
			return errors.ErrTimesFrequencyMismatch
		}
		seen[t] = true
	}

	switch want := r.Frequency.DoseCount(); {
	case r.Frequency == FrequencyAsNeeded:
		// any number of times, including none
	case want >= 1 && len(r.Times) != want:
		return errors.ErrTimesFrequencyMismatch
	case want == -1 && len(r.Times) == 0:
		// weekly still needs at least one time of day
		return errors.ErrTimesFrequencyMismatch
	}

	if r.SnoozeMinutes < 0 {
		return errors.ErrReminderInvalid
	}
	return nil
}

// HasSlot reports whether the reminder schedules the given HH:MM slot
func (r *Reminder) HasSlot(slot string) bool {
	for _, t := range r.Times {
		if t == slot {
			return true
		}
	}
	return false
}

// Dose log statuses
const (
	StatusTaken   = "taken"
	StatusSkipped = "skipped"
	StatusMissed  = "missed" // written only by the nightly sweeper
)

// DoseLog records how one scheduled occurrence was resolved
type DoseLog struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"index"`

	// ReminderID is cleared when the reminder is later deleted; the name is
	// denormalized so history survives deletion.
	ReminderID   *string `json:"reminder_id,omitempty" gorm:"index:idx_dose_key,unique"`
	ReminderName string  `json:"reminder_name"`

	ScheduledDate string `json:"scheduled_date" gorm:"index:idx_dose_key,unique"` // YYYY-MM-DD
	Slot          string `json:"slot" gorm:"index:idx_dose_key,unique"`           // HH:MM

	Status  string     `json:"status"` // taken, skipped, missed
	TakenAt *time.Time `json:"taken_at,omitempty"`
	Notes   string     `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduledFor combines the entry's date and slot in the given location
func (d *DoseLog) ScheduledFor(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", d.ScheduledDate+" "+d.Slot, loc)
}

// SlotRef identifies one occurrence of one reminder on one day
type SlotRef struct {
	ReminderID string
	Date       string // YYYY-MM-DD
	Slot       string // HH:MM
}

// DayKey formats t's calendar day as used in dose log keys
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// SlotKey formats t's minute as an HH:MM slot string
func SlotKey(t time.Time) string {
	return t.Format("15:04")
}
