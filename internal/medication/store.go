package medication

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/calumw/pilltick/internal/store"
	"gorm.io/gorm"
)

// Store handles reminder and dose log persistence
type Store struct {
	db *gorm.DB
}

// NewStore creates a new medication store
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Reminder{}, &DoseLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate medication schemas: %w", err)
	}
	return &Store{db: db}, nil
}

// ==================== Reminder operations ====================

// CreateReminder validates, fills defaults, and persists a reminder
func (s *Store) CreateReminder(rem *Reminder) error {
	if len(rem.Times) == 0 && rem.Frequency != FrequencyAsNeeded {
		rem.Times = DefaultTimes(rem.Frequency)
	}
	if rem.Sound == "" {
		rem.Sound = SoundClassic
	}
	if rem.SnoozeMinutes == 0 {
		rem.SnoozeMinutes = 5
	}

	if err := rem.Validate(); err != nil {
		return err
	}

	if rem.ID == "" {
		rem.ID = store.NewID("rem")
	}
	serializeTimes(rem)
	rem.CreatedAt = time.Now()
	rem.UpdatedAt = time.Now()
	return s.db.Create(rem).Error
}

// GetReminder returns nil without error when the id is unknown
func (s *Store) GetReminder(id string) (*Reminder, error) {
	var rem Reminder
	err := s.db.Where("id = ?", id).First(&rem).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	deserializeTimes(&rem)
	return &rem, nil
}

func (s *Store) UpdateReminder(rem *Reminder) error {
	if err := rem.Validate(); err != nil {
		return err
	}
	serializeTimes(rem)
	rem.UpdatedAt = time.Now()
	return s.db.Save(rem).Error
}

func (s *Store) DeleteReminder(id string) error {
	// Detach history before removing the reminder row
	if err := s.db.Model(&DoseLog{}).Where("reminder_id = ?", id).
		Update("reminder_id", nil).Error; err != nil {
		return err
	}
	return s.db.Where("id = ?", id).Delete(&Reminder{}).Error
}

func (s *Store) ListReminders(userID string, activeOnly bool) ([]Reminder, error) {
	query := s.db.Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var rems []Reminder
	if err := query.Order("created_at DESC").Find(&rems).Error; err != nil {
		return nil, err
	}
	for i := range rems {
		deserializeTimes(&rems[i])
	}
	return rems, nil
}

// ListActiveReminders returns every active reminder across all users, for the
// alarm engine's in-memory cache.
func (s *Store) ListActiveReminders() ([]Reminder, error) {
	var rems []Reminder
	if err := s.db.Where("active = ?", true).Find(&rems).Error; err != nil {
		return nil, err
	}
	for i := range rems {
		deserializeTimes(&rems[i])
	}
	return rems, nil
}

func (s *Store) SetActive(id string, active bool) error {
	res := s.db.Model(&Reminder{}).Where("id = ?", id).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrReminderNotFound
	}
	return nil
}

func (s *Store) UpdateLastTaken(id string, at time.Time) error {
	return s.db.Model(&Reminder{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_taken_at": &at, "updated_at": time.Now()}).Error
}

// ==================== Dose log operations ====================

// UpsertDoseLog writes the outcome for one (reminder, date, slot) occurrence.
// Re-resolution overwrites the existing row rather than duplicating it.
func (s *Store) UpsertDoseLog(entry *DoseLog) error {
	if entry.ReminderID == nil || entry.ScheduledDate == "" || entry.Slot == "" {
		return apperrors.ErrDoseLogWrite
	}

	var existing DoseLog
	err := s.db.Where("reminder_id = ? AND scheduled_date = ? AND slot = ?",
		*entry.ReminderID, entry.ScheduledDate, entry.Slot).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		if entry.ID == "" {
			entry.ID = store.NewID("dose")
		}
		entry.CreatedAt = time.Now()
		entry.UpdatedAt = time.Now()
		if err := s.db.Create(entry).Error; err != nil {
			return apperrors.Wrap(err, "DOSE_001", "failed to write dose log entry")
		}
		return nil
	case err != nil:
		return apperrors.Wrap(err, "DOSE_001", "failed to write dose log entry")
	}

	existing.Status = entry.Status
	existing.TakenAt = entry.TakenAt
	existing.Notes = entry.Notes
	existing.ReminderName = entry.ReminderName
	existing.UpdatedAt = time.Now()
	if err := s.db.Save(&existing).Error; err != nil {
		return apperrors.Wrap(err, "DOSE_001", "failed to write dose log entry")
	}
	entry.ID = existing.ID
	return nil
}

// GetDoseLog returns the entry for one occurrence, or nil when unresolved
func (s *Store) GetDoseLog(reminderID, date, slot string) (*DoseLog, error) {
	var entry DoseLog
	err := s.db.Where("reminder_id = ? AND scheduled_date = ? AND slot = ?",
		reminderID, date, slot).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) GetDoseLogs(userID, date string) ([]DoseLog, error) {
	query := s.db.Where("user_id = ?", userID)
	if date != "" {
		query = query.Where("scheduled_date = ?", date)
	}
	var entries []DoseLog
	err := query.Order("scheduled_date DESC, slot ASC").Find(&entries).Error
	return entries, err
}

func (s *Store) GetTodayLogs(userID string) ([]DoseLog, error) {
	return s.GetDoseLogs(userID, DayKey(time.Now()))
}

// CountByStatus tallies a user's dose log entries for one day
func (s *Store) CountByStatus(userID, date, status string) (int64, error) {
	var count int64
	err := s.db.Model(&DoseLog{}).
		Where("user_id = ? AND scheduled_date = ? AND status = ?", userID, date, status).
		Count(&count).Error
	return count, err
}

func serializeTimes(rem *Reminder) {
	data, _ := json.Marshal(rem.Times)
	rem.TimesJSON = string(data)
}

func deserializeTimes(rem *Reminder) {
	if rem.TimesJSON != "" {
		json.Unmarshal([]byte(rem.TimesJSON), &rem.Times)
	}
}
