// Package cron runs the background jobs: the nightly missed-dose sweeper and
// the morning schedule summary.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/calumw/pilltick/internal/config"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/metrics"
	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Notifier receives the morning summary text. The alert layer's push
// channels satisfy it via a small adapter in cmd/pilltick.
type Notifier interface {
	Notify(userID, title, body string) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, string, string) error { return nil }

// Runner schedules and executes the background jobs
type Runner struct {
	cfg      config.JobsConfig
	meds     *medication.Store
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	cron     *cronlib.Cron
}

func NewRunner(cfg config.JobsConfig, meds *medication.Store, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		meds:     meds,
		notifier: noopNotifier{},
		logger:   logger,
		metrics:  metrics.Default(),
		cron:     cronlib.New(),
	}
}

// WithNotifier sets the summary delivery target
func (r *Runner) WithNotifier(n Notifier) *Runner {
	r.notifier = n
	return r
}

// Start registers the jobs and starts the scheduler
func (r *Runner) Start() error {
	if !r.cfg.Enabled {
		r.logger.Info("Background jobs disabled")
		return nil
	}

	sweep := r.cfg.SweepSchedule
	if sweep == "" {
		sweep = "5 0 * * *"
	}
	if _, err := r.cron.AddFunc(sweep, r.SweepMissed); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", sweep, err)
	}

	summarySpec, err := summaryCronSpec(r.cfg.SummaryTime)
	if err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(summarySpec, r.MorningSummary); err != nil {
		return fmt.Errorf("invalid summary schedule: %w", err)
	}

	r.cron.Start()
	r.logger.Info("Background jobs started",
		zap.String("sweep", sweep), zap.String("summary", summarySpec))
	return nil
}

// Stop halts the scheduler, waiting for a running job to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// summaryCronSpec turns an HH:MM time of day into a daily cron spec
func summaryCronSpec(hhmm string) (string, error) {
	if hhmm == "" {
		hhmm = "07:30"
	}
	if !medication.ValidTimeOfDay(hhmm) {
		return "", fmt.Errorf("invalid summary time %q, want HH:MM", hhmm)
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("invalid summary time %q: %w", hhmm, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// SweepMissed marks every unresolved slot of the previous day as missed.
// Slots the user acted on keep their entry; the upsert path is never reached
// for those.
func (r *Runner) SweepMissed() {
	yesterday := medication.DayKey(time.Now().AddDate(0, 0, -1))
	r.sweepDay(yesterday)
}

func (r *Runner) sweepDay(day string) {
	reminders, err := r.meds.ListActiveReminders()
	if err != nil {
		r.logger.Error("Sweep failed to list reminders", zap.Error(err))
		return
	}

	swept := 0
	for _, rem := range reminders {
		for _, slot := range rem.Times {
			entry, err := r.meds.GetDoseLog(rem.ID, day, slot)
			if err != nil {
				r.logger.Warn("Sweep lookup failed",
					zap.String("reminder_id", rem.ID), zap.Error(err))
				continue
			}
			if entry != nil {
				continue
			}

			reminderID := rem.ID
			missed := &medication.DoseLog{
				UserID:        rem.UserID,
				ReminderID:    &reminderID,
				ReminderName:  rem.Name,
				ScheduledDate: day,
				Slot:          slot,
				Status:        medication.StatusMissed,
			}
			if err := r.meds.UpsertDoseLog(missed); err != nil {
				r.logger.Warn("Sweep write failed",
					zap.String("reminder_id", rem.ID), zap.Error(err))
				continue
			}
			r.metrics.RecordDoseLogged(medication.StatusMissed)
			swept++
		}
	}

	if swept > 0 {
		r.logger.Info("Missed-dose sweep complete",
			zap.String("day", day), zap.Int("marked", swept))
	}
}

// MorningSummary pushes each user's schedule for the day
func (r *Runner) MorningSummary() {
	reminders, err := r.meds.ListActiveReminders()
	if err != nil {
		r.logger.Error("Summary failed to list reminders", zap.Error(err))
		return
	}

	byUser := make(map[string][]medication.Reminder)
	for _, rem := range reminders {
		if len(rem.Times) == 0 {
			continue
		}
		byUser[rem.UserID] = append(byUser[rem.UserID], rem)
	}

	for userID, rems := range byUser {
		var b strings.Builder
		for _, rem := range rems {
			line := rem.Name
			if rem.Dosage != "" {
				line += " " + rem.Dosage
			}
			b.WriteString(fmt.Sprintf("%s at %s\n", line, strings.Join(rem.Times, ", ")))
		}

		if err := r.notifier.Notify(userID, "Today's medication plan", b.String()); err != nil {
			r.logger.Warn("Summary delivery failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
}
