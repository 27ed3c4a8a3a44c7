package opus

import (
	"encoding/binary"
	"fmt"
	"io"

	hraban "gopkg.in/hraban/opus.v2"
)

// FrameReader reads length-prefixed Opus frames from an io.Reader.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader returns a new FrameReader that reads from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame reads and returns the next raw Opus frame.
// Returns io.EOF when there are no more frames.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var size uint16
	if err := binary.Read(f.r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// Discord voice receive format.
const (
	SampleRate = 48000
	Channels   = 1
	FrameSize  = 960
)

// maxFrameSamples is 120ms at 48kHz, the longest packet Opus allows.
const maxFrameSamples = 5760

// PCMDecoder decodes one speaker's Opus packets to s16le PCM.
// It is not safe for concurrent use.
type PCMDecoder struct {
	dec      *hraban.Decoder
	channels int
	pcm      []int16
}

func NewPCMDecoder(sampleRate, channels int) (*PCMDecoder, error) {
	dec, err := hraban.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &PCMDecoder{
		dec:      dec,
		channels: channels,
		pcm:      make([]int16, maxFrameSamples*channels),
	}, nil
}

// Decode returns a freshly allocated PCM frame for packet.
func (d *PCMDecoder) Decode(packet []byte) ([]byte, error) {
	if d.dec == nil {
		return nil, fmt.Errorf("decoder is closed")
	}
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, err
	}
	return samplesToBytes(d.pcm[:n*d.channels]), nil
}

// Close drops the decoder state. Further Decode calls fail.
func (d *PCMDecoder) Close() error {
	d.dec = nil
	return nil
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
