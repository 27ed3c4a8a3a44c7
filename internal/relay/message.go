package relay

import (
	"encoding/json"
	"fmt"
)

// Command is a decoded inbound message: SpeakReply or Shutdown.
type Command interface {
	command()
}

// SpeakReply asks for Audio to be played into the voice channel.
type SpeakReply struct {
	Speaker string
	Audio   []byte
	Format  string
}

func (SpeakReply) command() {}

// Shutdown asks the bridge to stop.
type Shutdown struct {
	RequestedBy string
}

func (Shutdown) command() {}

const (
	typeShutdown = "shutdown"
	typeSpeak    = "speak"
	formatWAV    = "wav"
)

type outboundFrame struct {
	User  string `json:"user"`
	Audio []byte `json:"audio"`
}

type inboundMessage struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Audio  []byte `json:"audio"`
	Format string `json:"format"`
}

// EncodeFrame builds the outbound message for one frame.
// The audio is base64 encoded by the JSON encoding of []byte.
func EncodeFrame(label string, frame []byte) ([]byte, error) {
	return json.Marshal(outboundFrame{User: label, Audio: frame})
}

// MalformedMessageError is returned for inbound payloads that cannot be
// decoded, or that look like a known command but lack required fields.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed relay message: %s: %v", e.Reason, e.Err)
	}
	return "malformed relay message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

var _ error = (*MalformedMessageError)(nil)

// ParseCommand decodes an inbound payload. Payloads of an unrecognized
// shape return a nil Command and a nil error.
func ParseCommand(raw []byte) (Command, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &MalformedMessageError{Reason: "invalid json", Err: err}
	}

	switch msg.Type {
	case typeShutdown:
		return Shutdown{RequestedBy: msg.User}, nil
	case typeSpeak, "":
		if msg.Type == "" && msg.Audio == nil && msg.Format == "" {
			return nil, nil
		}
		if msg.User == "" {
			return nil, &MalformedMessageError{Reason: "speak message without user"}
		}
		if len(msg.Audio) == 0 {
			return nil, &MalformedMessageError{Reason: "speak message without audio"}
		}
		if msg.Format != formatWAV {
			return nil, &MalformedMessageError{Reason: fmt.Sprintf("unsupported audio format %q", msg.Format)}
		}
		return SpeakReply{Speaker: msg.User, Audio: msg.Audio, Format: msg.Format}, nil
	default:
		return nil, nil
	}
}
