// Package opus handles Opus audio in both directions of the voice relay.
//
// Inbound, PCMDecoder turns the Opus packets received from a speaker into
// 16-bit little-endian PCM frames.
//
// Outbound, Encode transcodes a reply (usually WAV) to Opus via FFmpeg and
// produces length-prefixed frames ([uint16 LE length][opus bytes]), which
// FrameReader reads back and StreamToVoice sends to a voice connection.
package opus
