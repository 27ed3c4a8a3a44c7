package stream

// SpeakerResolved carries the result of a label lookup back to the dispatcher.
type SpeakerResolved struct {
	SpeakerID string
	Label     string
	Err       error
}

func (SpeakerResolved) Kind() string { return "speaker_resolved" }

// FrameDecoded is one decoded frame from the Speaker with the given generation.
type FrameDecoded struct {
	SpeakerID  string
	Generation uint64
	Frame      []byte
}

func (FrameDecoded) Kind() string { return "frame_decoded" }

// StreamEnded reports end-of-stream for the Speaker with the given generation.
type StreamEnded struct {
	SpeakerID  string
	Generation uint64
}

func (StreamEnded) Kind() string { return "stream_ended" }
