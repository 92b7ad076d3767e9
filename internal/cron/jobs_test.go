package cron

import (
	"testing"
	"time"

	"github.com/calumw/pilltick/internal/config"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMeds(t *testing.T) *medication.Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	meds, err := medication.NewStore(db)
	require.NoError(t, err)
	return meds
}

func TestSummaryCronSpec(t *testing.T) {
	spec, err := summaryCronSpec("07:30")
	require.NoError(t, err)
	assert.Equal(t, "30 7 * * *", spec)

	spec, err = summaryCronSpec("")
	require.NoError(t, err)
	assert.Equal(t, "30 7 * * *", spec)

	spec, err = summaryCronSpec("00:05")
	require.NoError(t, err)
	assert.Equal(t, "5 0 * * *", spec)

	_, err = summaryCronSpec("25:00")
	assert.Error(t, err)
}

func TestSweepMarksOnlyUnresolvedSlots(t *testing.T) {
	meds := setupMeds(t)
	runner := NewRunner(config.JobsConfig{Enabled: true}, meds, zap.NewNop())

	rem := &medication.Reminder{
		UserID:    "usr_1",
		Name:      "Metformin",
		Frequency: medication.FrequencyTwiceDaily,
		Times:     []string{"08:00", "20:00"},
		Active:    true,
	}
	require.NoError(t, meds.CreateReminder(rem))

	day := "2026-03-09"
	taken := time.Date(2026, 3, 9, 8, 1, 0, 0, time.UTC)
	remID := rem.ID
	require.NoError(t, meds.UpsertDoseLog(&medication.DoseLog{
		UserID:        "usr_1",
		ReminderID:    &remID,
		ReminderName:  rem.Name,
		ScheduledDate: day,
		Slot:          "08:00",
		Status:        medication.StatusTaken,
		TakenAt:       &taken,
	}))

	runner.sweepDay(day)

	// The acted-on slot keeps its entry
	entry, err := meds.GetDoseLog(rem.ID, day, "08:00")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, medication.StatusTaken, entry.Status)

	// The untouched slot is marked missed
	entry, err = meds.GetDoseLog(rem.ID, day, "20:00")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, medication.StatusMissed, entry.Status)

	// Sweeping again changes nothing
	runner.sweepDay(day)
	logs, err := meds.GetDoseLogs("usr_1", day)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestSweepSkipsInactiveReminders(t *testing.T) {
	meds := setupMeds(t)
	runner := NewRunner(config.JobsConfig{Enabled: true}, meds, zap.NewNop())

	rem := &medication.Reminder{
		UserID:    "usr_1",
		Name:      "Old med",
		Frequency: medication.FrequencyDaily,
		Times:     []string{"08:00"},
		Active:    false,
	}
	require.NoError(t, meds.CreateReminder(rem))

	runner.sweepDay("2026-03-09")

	entry, err := meds.GetDoseLog(rem.ID, "2026-03-09", "08:00")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

type captureNotifier struct {
	got []string
}

func (n *captureNotifier) Notify(userID, title, body string) error {
	n.got = append(n.got, userID+": "+body)
	return nil
}

func TestMorningSummaryGroupsByUser(t *testing.T) {
	meds := setupMeds(t)
	notifier := &captureNotifier{}
	runner := NewRunner(config.JobsConfig{Enabled: true}, meds, zap.NewNop()).
		WithNotifier(notifier)

	require.NoError(t, meds.CreateReminder(&medication.Reminder{
		UserID: "usr_1", Name: "Metformin", Dosage: "500mg",
		Frequency: medication.FrequencyDaily, Times: []string{"08:00"}, Active: true,
	}))
	require.NoError(t, meds.CreateReminder(&medication.Reminder{
		UserID: "usr_2", Name: "Lisinopril",
		Frequency: medication.FrequencyDaily, Times: []string{"09:00"}, Active: true,
	}))
	// As-needed reminders have no slots and stay out of the summary
	require.NoError(t, meds.CreateReminder(&medication.Reminder{
		UserID: "usr_1", Name: "Ibuprofen",
		Frequency: medication.FrequencyAsNeeded, Active: true,
	}))

	runner.MorningSummary()

	require.Len(t, notifier.got, 2)
	joined := notifier.got[0] + "|" + notifier.got[1]
	assert.Contains(t, joined, "Metformin 500mg at 08:00")
	assert.Contains(t, joined, "Lisinopril at 09:00")
	assert.NotContains(t, joined, "Ibuprofen")
}
