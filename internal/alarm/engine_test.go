package alarm

import (
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock drives engine timers deterministically. Advance fires due timers
// in timestamp order, moving Now to each timer's deadline before invoking it
// so re-armed timers land on the right base.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		if next.when.After(c.now) {
			c.now = next.when
		}
		f := next.f
		c.mu.Unlock()
		f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

type memSource struct {
	mu        sync.Mutex
	reminders []medication.Reminder
	lastTaken map[string]time.Time
}

func (s *memSource) ListActiveReminders() ([]medication.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]medication.Reminder, len(s.reminders))
	copy(out, s.reminders)
	return out, nil
}

func (s *memSource) UpdateLastTaken(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTaken == nil {
		s.lastTaken = make(map[string]time.Time)
	}
	s.lastTaken[id] = at
	return nil
}

func (s *memSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.reminders[:0]
	for _, r := range s.reminders {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.reminders = kept
}

type memRecorder struct {
	mu      sync.Mutex
	entries map[string]*medication.DoseLog
	failAll bool
	writes  int
}

func newMemRecorder() *memRecorder {
	return &memRecorder{entries: make(map[string]*medication.DoseLog)}
}

func doseKey(reminderID, date, slot string) string {
	return fmt.Sprintf("%s|%s|%s", reminderID, date, slot)
}

func (r *memRecorder) UpsertDoseLog(entry *medication.DoseLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.failAll {
		return apperrors.ErrDoseLogWrite
	}
	cp := *entry
	r.entries[doseKey(*entry.ReminderID, entry.ScheduledDate, entry.Slot)] = &cp
	return nil
}

func (r *memRecorder) GetDoseLog(reminderID, date, slot string) (*medication.DoseLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[doseKey(reminderID, date, slot)]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type memJournal struct {
	mu    sync.Mutex
	fired map[string]bool
}

func newMemJournal() *memJournal {
	return &memJournal{fired: make(map[string]bool)}
}

func (j *memJournal) MarkFired(reminderID, day, slot string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	key := reminderID + "/" + day + "/" + slot
	if j.fired[key] {
		return true, nil
	}
	j.fired[key] = true
	return false, nil
}

type countingRinger struct {
	mu    sync.Mutex
	rings []View
}

func (r *countingRinger) Ring(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings = append(r.rings, v)
}

func (r *countingRinger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rings)
}

type collectingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectingSink) byType(t string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type engineFixture struct {
	engine   *Engine
	clock    *fakeClock
	source   *memSource
	recorder *memRecorder
	journal  *memJournal
	ringer   *countingRinger
	sink     *collectingSink
}

func testReminder(id string, times ...string) medication.Reminder {
	return medication.Reminder{
		ID:             id,
		UserID:         "usr_1",
		Name:           "Metformin",
		Dosage:         "500mg",
		Frequency:      medication.FrequencyDaily,
		Times:          times,
		Active:         true,
		Sound:          medication.SoundClassic,
		Vibrate:        true,
		RepeatUntilAck: true,
		SnoozeMinutes:  5,
	}
}

func newEngineFixture(t *testing.T, start time.Time, reminders ...medication.Reminder) *engineFixture {
	t.Helper()
	f := &engineFixture{
		clock:    newFakeClock(start),
		source:   &memSource{reminders: reminders},
		recorder: newMemRecorder(),
		journal:  newMemJournal(),
		ringer:   &countingRinger{},
		sink:     &collectingSink{},
	}
	f.engine = NewEngine(f.source, f.recorder, f.journal, zap.NewNop()).
		WithClock(f.clock).
		WithRinger(f.ringer).
		WithEvents(f.sink).
		WithMetrics(metrics.New())
	require.NoError(t, f.engine.Refresh())
	return f
}

var testStart = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func TestPollMatchesScheduledMinute(t *testing.T) {
	f := newEngineFixture(t, testStart.Add(-time.Minute), testReminder("rem_a", "08:00"))

	f.engine.Poll() // 07:59
	assert.Equal(t, 0, f.ringer.count())
	assert.Empty(t, f.engine.ActiveAlarms())

	f.clock.Advance(time.Minute)
	f.engine.Poll() // 08:00
	require.Equal(t, 1, f.ringer.count())

	active := f.engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, "rem_a", active[0].ReminderID)
	assert.Equal(t, "08:00", active[0].Slot)
	assert.Equal(t, StateRinging, active[0].State)
}

func TestNoDoubleTriggerWithinMinute(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))

	f.engine.Poll()
	f.engine.Poll()
	f.engine.Poll()

	assert.Equal(t, 1, f.ringer.count())
	assert.Len(t, f.engine.ActiveAlarms(), 1)
}

func TestJournalBlocksRefireAcrossRestart(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))
	f.engine.Poll()
	require.Equal(t, 1, f.ringer.count())

	// Second engine over the same journal, same minute: the occurrence was
	// already recorded, so it must not ring again.
	ringer2 := &countingRinger{}
	engine2 := NewEngine(f.source, f.recorder, f.journal, zap.NewNop()).
		WithClock(f.clock).
		WithRinger(ringer2).
		WithMetrics(metrics.New())
	require.NoError(t, engine2.Refresh())
	engine2.Poll()

	assert.Equal(t, 0, ringer2.count())
	assert.Empty(t, engine2.ActiveAlarms())
}

func TestRepeatCadence(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))

	f.engine.Poll()
	require.Equal(t, 1, f.ringer.count())

	// Rings at +0s, +30s, +60s, +90s within a 95 second window
	f.clock.Advance(95 * time.Second)
	assert.Equal(t, 4, f.ringer.count())

	require.NoError(t, f.engine.Acknowledge("rem_a", "08:00"))
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 4, f.ringer.count(), "acknowledged alarm must not re-ring")
}

func TestNoRepeatWhenDisabled(t *testing.T) {
	rem := testReminder("rem_a", "08:00")
	rem.RepeatUntilAck = false
	f := newEngineFixture(t, testStart, rem)

	f.engine.Poll()
	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, f.ringer.count())
}

func TestAcknowledgeWritesTakenAndIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))
	f.engine.Poll()

	require.NoError(t, f.engine.Acknowledge("rem_a", "08:00"))
	assert.Empty(t, f.engine.ActiveAlarms())

	entry, err := f.recorder.GetDoseLog("rem_a", "2026-03-10", "08:00")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, medication.StatusTaken, entry.Status)
	assert.Equal(t, "Metformin", entry.ReminderName)
	require.NotNil(t, entry.TakenAt)
	assert.Equal(t, testStart, *entry.TakenAt)
	assert.Equal(t, testStart, f.source.lastTaken["rem_a"])

	// Resolved occurrence: a repeated acknowledge is a no-op, not an error
	require.NoError(t, f.engine.Acknowledge("rem_a", "08:00"))
	assert.Equal(t, 1, f.recorder.count())
}

func TestAcknowledgeUnknownSlot(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))

	err := f.engine.Acknowledge("rem_a", "08:00")
	assert.ErrorIs(t, err, apperrors.ErrAlarmNotOpen)

	err = f.engine.Snooze("rem_a", "08:00", 5)
	assert.ErrorIs(t, err, apperrors.ErrAlarmNotOpen)
}

func TestSnoozeRoundTrip(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))
	f.engine.Poll()

	require.NoError(t, f.engine.Snooze("rem_a", "08:00", 5))
	active := f.engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, StateSnoozed, active[0].State)

	// Snoozed alarms are silent: no repeat rings during the window
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.ringer.count())

	// Snoozing an already snoozed alarm is rejected
	err := f.engine.Snooze("rem_a", "08:00", 3)
	assert.ErrorIs(t, err, apperrors.ErrAlarmNotRinging)

	// Window expires: same occurrence re-enters RINGING and rings again
	f.clock.Advance(3 * time.Minute)
	assert.Equal(t, 2, f.ringer.count())
	active = f.engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, StateRinging, active[0].State)

	// Resolving the re-rung occurrence still yields exactly one entry
	require.NoError(t, f.engine.Acknowledge("rem_a", "08:00"))
	assert.Equal(t, 1, f.recorder.count())
	assert.Len(t, f.sink.byType(EventSnoozed), 1)
}

func TestSnoozeFallsBackToReminderSetting(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))
	f.engine.Poll()

	// minutes <= 0 uses the reminder's own snooze setting (5 minutes)
	require.NoError(t, f.engine.Snooze("rem_a", "08:00", 0))
	f.clock.Advance(4 * time.Minute)
	assert.Equal(t, 1, f.ringer.count())
	f.clock.Advance(time.Minute)
	assert.Equal(t, 2, f.ringer.count())
}

func TestSkipWritesSkippedEntry(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))
	f.engine.Poll()

	require.NoError(t, f.engine.Skip("rem_a", "08:00", "felt nauseous"))
	assert.Empty(t, f.engine.ActiveAlarms())

	entry, err := f.recorder.GetDoseLog("rem_a", "2026-03-10", "08:00")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, medication.StatusSkipped, entry.Status)
	assert.Nil(t, entry.TakenAt)
	assert.Equal(t, "felt nauseous", entry.Notes)
	assert.NotContains(t, f.source.lastTaken, "rem_a")

	// Repeat timer is dead
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.ringer.count())
}

func TestDeleteCancelsWithoutDoseLog(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))
	f.engine.Poll()
	require.Len(t, f.engine.ActiveAlarms(), 1)

	f.source.remove("rem_a")
	require.NoError(t, f.engine.Refresh())

	assert.Empty(t, f.engine.ActiveAlarms())
	assert.Equal(t, 0, f.recorder.count(), "cancellation must leave no dose log")
	assert.Len(t, f.sink.byType(EventCancelled), 1)

	// Timers were stopped with the instance
	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, f.ringer.count())
}

func TestSlotEditCancelsOnlyRemovedSlot(t *testing.T) {
	rem := testReminder("rem_a", "08:00")
	rem.Frequency = medication.FrequencyTwiceDaily
	rem.Times = []string{"08:00", "20:00"}
	f := newEngineFixture(t, testStart, rem)
	f.engine.Poll()
	require.Len(t, f.engine.ActiveAlarms(), 1)

	f.source.mu.Lock()
	f.source.reminders[0].Times = []string{"09:00", "20:00"}
	f.source.mu.Unlock()
	require.NoError(t, f.engine.Refresh())

	assert.Empty(t, f.engine.ActiveAlarms())
	assert.Equal(t, 0, f.recorder.count())
}

func TestSaveFailureIsSoft(t *testing.T) {
	f := newEngineFixture(t, testStart, testReminder("rem_a", "08:00"))
	f.engine.Poll()
	f.recorder.failAll = true

	// The user's acknowledgment wins even when the write fails
	require.NoError(t, f.engine.Acknowledge("rem_a", "08:00"))
	assert.Empty(t, f.engine.ActiveAlarms())
	assert.Equal(t, 1, f.recorder.writes)

	failures := f.sink.byType(EventSaveFailed)
	require.Len(t, failures, 1)
	assert.NotEmpty(t, failures[0].Error)

	// The alarm must not re-arm to retry the write
	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, f.ringer.count())
}

func TestTwoRemindersSameSlot(t *testing.T) {
	a := testReminder("rem_a", "08:00")
	b := testReminder("rem_b", "08:00")
	b.Name = "Lisinopril"
	f := newEngineFixture(t, testStart, a, b)

	f.engine.Poll()
	assert.Equal(t, 2, f.ringer.count())
	assert.Len(t, f.engine.ActiveAlarms(), 2)

	require.NoError(t, f.engine.Acknowledge("rem_a", "08:00"))
	active := f.engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, "rem_b", active[0].ReminderID)
}
