package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs a function once after a delay.
// The returned stop function cancels the call if it has not run yet.
type Scheduler interface {
	After(delay time.Duration, execute func()) (stop func())
}

// TimerScheduler is a Scheduler backed by the runtime timers.
type TimerScheduler struct{}

func (TimerScheduler) After(delay time.Duration, execute func()) func() {
	t := time.AfterFunc(delay, execute)
	return func() { t.Stop() }
}

var _ Scheduler = TimerScheduler{}

// Every executes a function at each run time of a cron expression
// until ctx is done. It blocks, so callers usually run it in a goroutine.
func Every(ctx context.Context, spec string, execute func(ctx context.Context)) error {
	cron, err := ParseCron(spec)
	if err != nil {
		return err
	}

	for {
		next := cron.Next(time.Now())
		if next.IsZero() {
			slog.Warn("cron expression has no upcoming run times", "cron", cron.String())
			return nil
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			execute(ctx)
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}
