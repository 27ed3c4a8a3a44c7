// Package schedule provides utilities for cron expression handling and deferred execution.
//
// ParseCron validates a cron expression once and computes upcoming run times.
// Every runs a function on a cron schedule, and Scheduler abstracts one-shot
// delays so callers can be tested without waiting on real timers.
package schedule
