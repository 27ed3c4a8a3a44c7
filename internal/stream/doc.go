// Package stream keeps one decode pipeline per speaking user.
//
// A Speaker owns a compressed-audio Subscription and the Decoder reading it.
// A pump goroutine decodes packets and posts FrameDecoded events; the Registry,
// which is only touched by the dispatcher goroutine, forwards a frame only if
// the Speaker that produced it is still registered. Removing a Speaker
// therefore stops forwarding immediately, before its resources are released.
package stream
