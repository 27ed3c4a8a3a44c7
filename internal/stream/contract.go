package stream

import "context"

// Subscription is a compressed-audio feed for one speaker.
// Packets is closed when the feed reaches end-of-stream.
type Subscription interface {
	Packets() <-chan []byte
	Close() error
}

// Source opens subscriptions. It is implemented by the voice session.
type Source interface {
	Subscribe(speakerID string, policy EndPolicy) (Subscription, error)
}

// Decoder turns one compressed packet into one raw audio frame.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
	Close() error
}

type DecoderFactory func() (Decoder, error)

// Resolver maps a speaker ID to the label attached to outbound frames.
type Resolver interface {
	ResolveLabel(ctx context.Context, speakerID string) (string, error)
}

// Forwarder sends a labelled frame to the relay. It reports whether the frame was sent.
type Forwarder interface {
	Send(label string, frame []byte) bool
}
