// Package alert fans ringing alarms out to the configured delivery channels:
// speaker audio, paired-device haptics, push notifications, and the in-app
// overlay. Channels are best effort; one failing channel never blocks another.
package alert

import (
	"sync"
	"time"

	"github.com/calumw/pilltick/internal/alarm"
	"github.com/calumw/pilltick/internal/metrics"
	"go.uber.org/zap"
)

// Channel delivers one alarm activation. Implementations are called on their
// own goroutine and may block briefly; errors are logged and counted, never
// propagated to the alarm engine.
type Channel interface {
	Name() string
	Deliver(v alarm.View) error
}

// Multiplexer fans one alarm out to every enabled channel. It satisfies
// alarm.Ringer and returns before delivery completes.
type Multiplexer struct {
	channels []Channel
	logger   *zap.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

// NewMultiplexer builds the fan-out over the given channels
func NewMultiplexer(logger *zap.Logger, channels ...Channel) *Multiplexer {
	return &Multiplexer{
		channels: channels,
		logger:   logger,
		metrics:  metrics.Default(),
	}
}

// WithMetrics replaces the metrics instance (tests)
func (m *Multiplexer) WithMetrics(mx *metrics.Metrics) *Multiplexer {
	m.metrics = mx
	return m
}

// Ring dispatches the alarm to every channel concurrently and returns
// immediately. A panicking channel is contained and counted as a failure.
func (m *Multiplexer) Ring(v alarm.View) {
	for _, ch := range m.channels {
		ch := ch
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.deliver(ch, v)
		}()
	}
}

func (m *Multiplexer) deliver(ch Channel, v alarm.View) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordChannelFailure(ch.Name())
			m.logger.Error("Alert channel panicked",
				zap.String("channel", ch.Name()),
				zap.String("reminder_id", v.ReminderID),
				zap.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if err := ch.Deliver(v); err != nil {
		m.metrics.RecordChannelFailure(ch.Name())
		m.logger.Warn("Alert channel failed",
			zap.String("channel", ch.Name()),
			zap.String("reminder_id", v.ReminderID),
			zap.Error(err),
		)
		return
	}
	m.metrics.RecordChannelRing(ch.Name())
	m.logger.Debug("Alert delivered",
		zap.String("channel", ch.Name()),
		zap.String("reminder_id", v.ReminderID),
		zap.Duration("took", time.Since(start)),
	)
}

// Wait blocks until in-flight deliveries finish (tests, shutdown)
func (m *Multiplexer) Wait() {
	m.wg.Wait()
}
