// Package bridge runs the single-threaded dispatcher that ties the voice
// session, the stream registry, the relay channel and the reply player
// together, and owns startup and graceful shutdown.
package bridge
