// Package alarm implements the medicine alarm engine: a minute-granularity
// clock poller over the active reminder set, a per-occurrence state machine
// (ringing, snoozed, resolved), and the acknowledgment handler that turns user
// actions into dose log entries.
package alarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/metrics"
	"go.uber.org/zap"
)

// ReminderSource supplies the active reminder set and receives last-taken
// updates. *medication.Store satisfies it.
type ReminderSource interface {
	ListActiveReminders() ([]medication.Reminder, error)
	UpdateLastTaken(id string, at time.Time) error
}

// DoseRecorder persists occurrence outcomes. *medication.Store satisfies it.
type DoseRecorder interface {
	UpsertDoseLog(entry *medication.DoseLog) error
	GetDoseLog(reminderID, date, slot string) (*medication.DoseLog, error)
}

// Ringer fans an alarm out to the alert channels. Implementations must be
// non-blocking and must not call back into the engine synchronously; Ring is
// invoked while the engine lock is held so that no channel can fire for an
// instance that has already reached a terminal state.
type Ringer interface {
	Ring(v View)
}

// EventSink receives lifecycle events for the in-app overlay
type EventSink interface {
	Publish(ev Event)
}

type noopRinger struct{}

func (noopRinger) Ring(View) {}

type noopSink struct{}

func (noopSink) Publish(Event) {}

// Config holds engine timing parameters
type Config struct {
	PollInterval   time.Duration // clock poller cadence
	RepeatInterval time.Duration // re-ring cadence while RINGING with repeat-until-acknowledged
	DefaultSnooze  time.Duration // snooze fallback when the reminder carries none
}

// DefaultConfig returns the standard timings: poll every minute, repeat every
// 30 seconds, snooze 5 minutes.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Minute,
		RepeatInterval: 30 * time.Second,
		DefaultSnooze:  5 * time.Minute,
	}
}

// Engine owns the open-instance set and all alarm timers. All mutations happen
// under a single mutex; timer callbacks re-enter through locked methods, so
// transitions of one instance never race.
type Engine struct {
	cfg     Config
	clock   Clock
	source  ReminderSource
	doses   DoseRecorder
	journal Journal
	ringer  Ringer
	events  EventSink
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	open  map[Key]*instance
	cache []medication.Reminder

	running  bool
	stopCh   chan struct{}
	notifyCh chan struct{}
	wg       sync.WaitGroup
}

// NewEngine creates an engine with the default clock and timings. Wire the
// alert fan-out with WithRinger/WithEvents before Start.
func NewEngine(source ReminderSource, doses DoseRecorder, journal Journal, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      DefaultConfig(),
		clock:    SystemClock(),
		source:   source,
		doses:    doses,
		journal:  journal,
		ringer:   noopRinger{},
		events:   noopSink{},
		logger:   logger,
		metrics:  metrics.Default(),
		open:     make(map[Key]*instance),
		notifyCh: make(chan struct{}, 1),
	}
}

// WithConfig overrides the engine timings
func (e *Engine) WithConfig(cfg Config) *Engine {
	if cfg.PollInterval > 0 {
		e.cfg.PollInterval = cfg.PollInterval
	}
	if cfg.RepeatInterval > 0 {
		e.cfg.RepeatInterval = cfg.RepeatInterval
	}
	if cfg.DefaultSnooze > 0 {
		e.cfg.DefaultSnooze = cfg.DefaultSnooze
	}
	return e
}

// WithClock replaces the wall clock (tests)
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// WithRinger sets the alert channel fan-out
func (e *Engine) WithRinger(r Ringer) *Engine {
	e.ringer = r
	return e
}

// WithEvents sets the overlay event sink
func (e *Engine) WithEvents(s EventSink) *Engine {
	e.events = s
	return e
}

// WithMetrics replaces the metrics instance (tests)
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// Start loads the reminder cache and runs the poll loop until ctx is cancelled
// or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("alarm engine already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	if err := e.Refresh(); err != nil {
		e.logger.Warn("Initial reminder load failed", zap.Error(err))
	}

	e.logger.Info("Alarm engine started",
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.Duration("repeat_interval", e.cfg.RepeatInterval),
	)

	e.wg.Add(1)
	go e.run(ctx)
	return nil
}

// Stop halts the poll loop and tears down every open instance's timers
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	for _, in := range e.open {
		in.stopTimers()
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Alarm engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	// A suspended process resumes here with a late tick; Poll always matches
	// against the current minute, so a scheduled minute reached during the
	// gap still fires once on resume.
	e.Poll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Poll()
		case <-e.notifyCh:
			e.Poll()
		}
	}
}

// notify wakes the poll loop without waiting for the next tick. Non-blocking
// when a wake-up is already pending.
func (e *Engine) notify() {
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
}

// Refresh reloads the active reminder cache. Open instances whose reminder was
// deleted, deactivated, or whose slot was edited away are cancelled: timers
// stopped, channels torn down, no dose log written.
func (e *Engine) Refresh() error {
	rems, err := e.source.ListActiveReminders()
	if err != nil {
		return err
	}

	now := e.clock.Now()

	e.mu.Lock()
	e.cache = rems

	byID := make(map[string]medication.Reminder, len(rems))
	for _, rem := range rems {
		byID[rem.ID] = rem
	}

	for key, in := range e.open {
		rem, ok := byID[key.ReminderID]
		if !ok || !rem.HasSlot(key.Slot) {
			e.cancelLocked(key, in, now)
			continue
		}
		// Pick up edited alarm options for future repeats
		in.reminder = rem
	}
	e.mu.Unlock()

	if e.isRunning() {
		e.notify()
	}
	return nil
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Poll compares the current minute against every cached reminder's schedule
// and triggers an alarm for each matching slot with no open instance.
func (e *Engine) Poll() {
	now := e.clock.Now()
	slot := medication.SlotKey(now)
	day := medication.DayKey(now)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rem := range e.cache {
		if !rem.HasSlot(slot) {
			continue
		}
		e.triggerLocked(rem, slot, day, now)
	}
}

func (e *Engine) triggerLocked(rem medication.Reminder, slot, day string, now time.Time) {
	key := Key{ReminderID: rem.ID, Slot: slot}

	// Double-trigger guard: an open instance for this key makes the trigger
	// a no-op, never an error.
	if _, ok := e.open[key]; ok {
		return
	}

	if e.journal != nil {
		already, err := e.journal.MarkFired(rem.ID, day, slot)
		if err != nil {
			// Journal trouble must not suppress the alarm
			e.logger.Warn("Fired-slot journal error",
				zap.String("reminder_id", rem.ID), zap.Error(err))
		} else if already {
			return
		}
	}

	in := &instance{
		key:      key,
		reminder: rem,
		state:    StatePending,
		day:      day,
	}
	e.open[key] = in
	e.metrics.RecordAlarmTriggered()
	e.metrics.SetActiveAlarms(len(e.open))

	e.logger.Info("Alarm triggered",
		zap.String("reminder_id", rem.ID),
		zap.String("name", rem.Name),
		zap.String("slot", slot),
	)

	// Trigger implies immediate ring; PENDING has no observable duration
	e.ringLocked(in, now)
}

// ringLocked moves the instance into RINGING, fires the channels once, and
// arms the repeat timer when configured.
func (e *Engine) ringLocked(in *instance, now time.Time) {
	in.state = StateRinging
	in.ringingSince = now

	v := in.view()
	e.events.Publish(Event{Type: EventRinging, Alarm: v, At: now})
	e.ringer.Ring(v)

	if in.reminder.RepeatUntilAck {
		key := in.key
		in.repeatTimer = e.clock.AfterFunc(e.cfg.RepeatInterval, func() {
			e.onRepeat(key)
		})
	}
}

func (e *Engine) onRepeat(key Key) {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.open[key]
	if !ok || in.state != StateRinging {
		return
	}

	in.repeatCount++
	v := in.view()
	e.events.Publish(Event{Type: EventRinging, Alarm: v, At: now})
	e.ringer.Ring(v)

	in.repeatTimer = e.clock.AfterFunc(e.cfg.RepeatInterval, func() {
		e.onRepeat(key)
	})
}

// Acknowledge resolves an open alarm as taken. Calling it again after the
// instance reached a terminal state is a no-op; acknowledging a slot that
// never rang is an error.
func (e *Engine) Acknowledge(reminderID, slot string) error {
	now := e.clock.Now()
	key := Key{ReminderID: reminderID, Slot: slot}

	e.mu.Lock()
	in, ok := e.open[key]
	if !ok {
		e.mu.Unlock()
		return e.terminalNoop(reminderID, slot, now)
	}

	in.stopTimers()
	in.state = StateAcknowledged
	delete(e.open, key)
	v := in.view()
	e.metrics.SetActiveAlarms(len(e.open))
	e.events.Publish(Event{Type: EventResolved, Alarm: v, At: now})
	e.mu.Unlock()

	e.logger.Info("Alarm acknowledged",
		zap.String("reminder_id", reminderID), zap.String("slot", slot))

	e.persistOutcome(v, medication.StatusTaken, &now, "")
	return nil
}

// Snooze silences a ringing alarm for the given number of minutes, after which
// it re-enters RINGING for the same occurrence.
func (e *Engine) Snooze(reminderID, slot string, minutes int) error {
	now := e.clock.Now()
	key := Key{ReminderID: reminderID, Slot: slot}

	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.open[key]
	if !ok {
		return apperrors.ErrAlarmNotOpen
	}
	if in.state != StateRinging {
		return apperrors.ErrAlarmNotRinging
	}

	delay := e.snoozeDuration(in, minutes)

	in.stopTimers()
	in.state = StateSnoozed
	in.snoozeTimer = e.clock.AfterFunc(delay, func() {
		e.onSnoozeExpired(key)
	})

	e.events.Publish(Event{Type: EventSnoozed, Alarm: in.view(), At: now})
	e.logger.Info("Alarm snoozed",
		zap.String("reminder_id", reminderID),
		zap.String("slot", slot),
		zap.Duration("delay", delay),
	)
	return nil
}

func (e *Engine) snoozeDuration(in *instance, minutes int) time.Duration {
	if minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	if in.reminder.SnoozeMinutes > 0 {
		return time.Duration(in.reminder.SnoozeMinutes) * time.Minute
	}
	return e.cfg.DefaultSnooze
}

func (e *Engine) onSnoozeExpired(key Key) {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.open[key]
	if !ok || in.state != StateSnoozed {
		// Acknowledged or cancelled during the snooze window
		return
	}
	in.snoozeTimer = nil
	e.ringLocked(in, now)
}

// Skip resolves an open alarm as skipped (user dismissal or explicit skip).
// Idempotent after the instance reached a terminal state.
func (e *Engine) Skip(reminderID, slot, reason string) error {
	now := e.clock.Now()
	key := Key{ReminderID: reminderID, Slot: slot}

	e.mu.Lock()
	in, ok := e.open[key]
	if !ok {
		e.mu.Unlock()
		return e.terminalNoop(reminderID, slot, now)
	}

	in.stopTimers()
	in.state = StateSkipped
	delete(e.open, key)
	v := in.view()
	e.metrics.SetActiveAlarms(len(e.open))
	e.events.Publish(Event{Type: EventResolved, Alarm: v, At: now})
	e.mu.Unlock()

	e.logger.Info("Alarm skipped",
		zap.String("reminder_id", reminderID), zap.String("slot", slot))

	e.persistOutcome(v, medication.StatusSkipped, nil, reason)
	return nil
}

// terminalNoop distinguishes "already resolved today" (idempotent no-op) from
// "never rang" (caller error).
func (e *Engine) terminalNoop(reminderID, slot string, now time.Time) error {
	entry, err := e.doses.GetDoseLog(reminderID, medication.DayKey(now), slot)
	if err == nil && entry != nil {
		return nil
	}
	return apperrors.ErrAlarmNotOpen
}

// persistOutcome writes the dose log entry and, for taken doses, the
// reminder's last-taken timestamp. The in-memory transition has already
// committed; write failures are logged, counted, and surfaced as an advisory
// overlay event. The alarm is never re-armed after the user acted.
func (e *Engine) persistOutcome(v View, status string, takenAt *time.Time, notes string) {
	reminderID := v.ReminderID
	entry := &medication.DoseLog{
		UserID:        v.UserID,
		ReminderID:    &reminderID,
		ReminderName:  v.Name,
		ScheduledDate: v.Day,
		Slot:          v.Slot,
		Status:        status,
		TakenAt:       takenAt,
		Notes:         notes,
	}

	if err := e.doses.UpsertDoseLog(entry); err != nil {
		e.logger.Error("Dose log write failed",
			zap.String("reminder_id", v.ReminderID),
			zap.String("slot", v.Slot),
			zap.Error(err),
		)
		e.metrics.RecordDoseWriteError()
		e.events.Publish(Event{
			Type:  EventSaveFailed,
			Alarm: v,
			Error: "couldn't save, will not block your dose confirmation",
			At:    e.clock.Now(),
		})
		return
	}
	e.metrics.RecordDoseLogged(status)

	if status == medication.StatusTaken && takenAt != nil {
		if err := e.source.UpdateLastTaken(v.ReminderID, *takenAt); err != nil {
			e.logger.Warn("Last-taken update failed",
				zap.String("reminder_id", v.ReminderID), zap.Error(err))
		}
	}
}

func (e *Engine) cancelLocked(key Key, in *instance, now time.Time) {
	in.stopTimers()
	delete(e.open, key)
	e.metrics.SetActiveAlarms(len(e.open))
	e.events.Publish(Event{Type: EventCancelled, Alarm: in.view(), At: now})
	e.logger.Info("Alarm cancelled",
		zap.String("reminder_id", key.ReminderID), zap.String("slot", key.Slot))
}

// ActiveAlarms returns a snapshot of every open instance, oldest first
func (e *Engine) ActiveAlarms() []View {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]View, 0, len(e.open))
	for _, in := range e.open {
		views = append(views, in.view())
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].RingingSince.Equal(views[j].RingingSince) {
			return views[i].ReminderID < views[j].ReminderID
		}
		return views[i].RingingSince.Before(views[j].RingingSince)
	})
	return views
}

// ActiveAlarmsForUser filters the snapshot to one user's alarms
func (e *Engine) ActiveAlarmsForUser(userID string) []View {
	all := e.ActiveAlarms()
	out := all[:0]
	for _, v := range all {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	return out
}
