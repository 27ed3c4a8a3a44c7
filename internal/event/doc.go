// Package event carries external happenings (speaking updates, decoded frames,
// socket activity, shutdown requests) to the single goroutine that owns the
// bridge state. Producers may run on any goroutine; only the dispatcher reads.
package event
