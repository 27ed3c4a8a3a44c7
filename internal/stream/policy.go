package stream

import (
	"fmt"
	"time"
)

// EndBehavior decides when a speaker's subscription reaches end-of-stream.
type EndBehavior int

const (
	// EndManual keeps the subscription open until it is released.
	EndManual EndBehavior = iota
	// EndAfterSilence ends the subscription after a trailing silence.
	EndAfterSilence
)

func ParseEndBehavior(s string) (EndBehavior, error) {
	switch s {
	case "manual":
		return EndManual, nil
	case "silence":
		return EndAfterSilence, nil
	default:
		return EndManual, fmt.Errorf("unknown end behavior %q", s)
	}
}

func (b EndBehavior) String() string {
	switch b {
	case EndManual:
		return "manual"
	case EndAfterSilence:
		return "silence"
	default:
		return fmt.Sprintf("EndBehavior(%d)", int(b))
	}
}

type EndPolicy struct {
	Behavior EndBehavior
	// SilenceTimeout only applies to EndAfterSilence.
	SilenceTimeout time.Duration
}
