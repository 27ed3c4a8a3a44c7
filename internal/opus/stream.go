package opus

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrVoiceConnClosed = errors.New("voice connection send timeout")

// sendTimeout bounds how long a single frame may wait for the voice connection.
const sendTimeout = 5 * time.Second

// StreamToVoice reads Opus frames from source and sends them to a voice
// connection's send channel. started is called once, after the first frame
// has been accepted. It blocks until all frames are sent, ctx is done, or
// an error occurs, and returns nil on clean EOF.
func StreamToVoice(ctx context.Context, source *FrameReader, send chan<- []byte, started func()) error {
	first := true
	for {
		frame, err := source.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		timer := time.NewTimer(sendTimeout)
		select {
		case send <- frame:
			timer.Stop()
		case <-timer.C:
			return ErrVoiceConnClosed
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		if first {
			first = false
			if started != nil {
				started()
			}
		}
	}
}
