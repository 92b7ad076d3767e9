package alarm

import "time"

// Timer is a cancellable scheduled callback. Stop is safe to call more than
// once and on timers that already fired.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall-clock sampling and one-shot timers so the engine can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns the real wall clock
func SystemClock() Clock { return systemClock{} }
