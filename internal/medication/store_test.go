package medication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestStore_CreateReminder(t *testing.T) {
	store := setupTestStore(t)

	rem := &Reminder{
		UserID:    "usr_1",
		Name:      "Lisinopril",
		Dosage:    "10mg",
		Frequency: FrequencyDaily,
		Times:     []string{"08:00"},
		Active:    true,
	}
	require.NoError(t, store.CreateReminder(rem))
	assert.NotEmpty(t, rem.ID)
	assert.Equal(t, SoundClassic, rem.Sound)
	assert.Equal(t, 5, rem.SnoozeMinutes)

	got, err := store.GetReminder(rem.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Lisinopril", got.Name)
	assert.Equal(t, []string{"08:00"}, got.Times)
}

func TestStore_CreateReminder_DefaultTimes(t *testing.T) {
	store := setupTestStore(t)

	rem := &Reminder{
		UserID:    "usr_1",
		Name:      "Metformin",
		Frequency: FrequencyTwiceDaily,
		Active:    true,
	}
	require.NoError(t, store.CreateReminder(rem))
	assert.Equal(t, []string{"08:00", "20:00"}, rem.Times)
}

func TestStore_CreateReminder_Invalid(t *testing.T) {
	store := setupTestStore(t)

	err := store.CreateReminder(&Reminder{
		UserID:    "usr_1",
		Frequency: FrequencyDaily,
		Times:     []string{"08:00"},
	})
	assert.Error(t, err, "empty name must be rejected before entering the active set")

	err = store.CreateReminder(&Reminder{
		UserID:    "usr_1",
		Name:      "X",
		Frequency: FrequencyDaily,
		Times:     []string{"25:00"},
	})
	assert.Error(t, err)
}

func TestStore_ListActiveReminders(t *testing.T) {
	store := setupTestStore(t)

	active := &Reminder{UserID: "usr_1", Name: "A", Frequency: FrequencyDaily, Active: true}
	inactive := &Reminder{UserID: "usr_1", Name: "B", Frequency: FrequencyDaily, Active: false}
	require.NoError(t, store.CreateReminder(active))
	require.NoError(t, store.CreateReminder(inactive))

	rems, err := store.ListActiveReminders()
	require.NoError(t, err)
	require.Len(t, rems, 1)
	assert.Equal(t, "A", rems[0].Name)
	assert.Equal(t, []string{"08:00"}, rems[0].Times)
}

func TestStore_SetActive(t *testing.T) {
	store := setupTestStore(t)

	rem := &Reminder{UserID: "usr_1", Name: "A", Frequency: FrequencyDaily, Active: true}
	require.NoError(t, store.CreateReminder(rem))

	require.NoError(t, store.SetActive(rem.ID, false))
	got, err := store.GetReminder(rem.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.Error(t, store.SetActive("rem_missing", true))
}

func TestStore_UpsertDoseLog_Overwrites(t *testing.T) {
	store := setupTestStore(t)

	rem := &Reminder{UserID: "usr_1", Name: "Metformin", Frequency: FrequencyDaily, Active: true}
	require.NoError(t, store.CreateReminder(rem))

	entry := &DoseLog{
		UserID:        "usr_1",
		ReminderID:    &rem.ID,
		ReminderName:  rem.Name,
		ScheduledDate: "2026-09-01",
		Slot:          "08:00",
		Status:        StatusSkipped,
	}
	require.NoError(t, store.UpsertDoseLog(entry))

	// Re-resolution of the same occurrence overwrites instead of duplicating
	now := time.Now()
	again := &DoseLog{
		UserID:        "usr_1",
		ReminderID:    &rem.ID,
		ReminderName:  rem.Name,
		ScheduledDate: "2026-09-01",
		Slot:          "08:00",
		Status:        StatusTaken,
		TakenAt:       &now,
	}
	require.NoError(t, store.UpsertDoseLog(again))
	assert.Equal(t, entry.ID, again.ID)

	logs, err := store.GetDoseLogs("usr_1", "2026-09-01")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, StatusTaken, logs[0].Status)
	assert.NotNil(t, logs[0].TakenAt)
}

func TestStore_DeleteReminder_DetachesLogs(t *testing.T) {
	store := setupTestStore(t)

	rem := &Reminder{UserID: "usr_1", Name: "Metformin", Frequency: FrequencyDaily, Active: true}
	require.NoError(t, store.CreateReminder(rem))

	entry := &DoseLog{
		UserID:        "usr_1",
		ReminderID:    &rem.ID,
		ReminderName:  rem.Name,
		ScheduledDate: "2026-09-01",
		Slot:          "08:00",
		Status:        StatusTaken,
	}
	require.NoError(t, store.UpsertDoseLog(entry))

	require.NoError(t, store.DeleteReminder(rem.ID))

	got, err := store.GetReminder(rem.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	logs, err := store.GetDoseLogs("usr_1", "2026-09-01")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].ReminderID)
	assert.Equal(t, "Metformin", logs[0].ReminderName)
}

func TestStore_CountByStatus(t *testing.T) {
	store := setupTestStore(t)

	rem := &Reminder{UserID: "usr_1", Name: "A", Frequency: FrequencyTwiceDaily, Active: true}
	require.NoError(t, store.CreateReminder(rem))

	for _, slot := range []string{"08:00", "20:00"} {
		entry := &DoseLog{
			UserID:        "usr_1",
			ReminderID:    &rem.ID,
			ReminderName:  rem.Name,
			ScheduledDate: "2026-09-01",
			Slot:          slot,
			Status:        StatusTaken,
		}
		require.NoError(t, store.UpsertDoseLog(entry))
	}

	count, err := store.CountByStatus("usr_1", "2026-09-01", StatusTaken)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}
