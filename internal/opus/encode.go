package opus

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os/exec"

	"github.com/jonas747/ogg"
)

// Encode takes any audio as an io.Reader, runs FFmpeg to transcode it to
// 48kHz stereo Opus, and returns an io.ReadCloser producing length-prefixed
// Opus frames. Canceling ctx kills FFmpeg. The returned io.ReadCloser must be
// closed to clean up the FFmpeg process.
func Encode(ctx context.Context, r io.Reader) (io.ReadCloser, error) {
	ffmpeg := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-vn",
		"-map", "0:a",
		"-acodec", "libopus",
		"-f", "ogg",
		"-vbr", "on",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", "64000",
		"-application", "voip",
		"-frame_duration", "20",
		"pipe:1",
	)

	ffmpeg.Stdin = r

	stdout, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := ffmpeg.Start(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		defer ffmpeg.Wait()

		if err := writeFrames(pw, ogg.NewPacketDecoder(ogg.NewDecoder(stdout))); err != nil {
			pw.CloseWithError(err)
		}
	}()

	return &encodeCloser{ReadCloser: pr, cmd: ffmpeg}, nil
}

// writeFrames copies Ogg packets to w as length-prefixed frames,
// skipping the OpusHead and OpusTags header packets.
func writeFrames(w io.Writer, decoder *ogg.PacketDecoder) error {
	skip := 2
	for {
		packet, _, err := decoder.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if skip > 0 {
			skip--
			continue
		}

		if err := WriteFrame(w, packet); err != nil {
			return err
		}
	}
}

// WriteFrame writes one length-prefixed frame, the inverse of FrameReader.ReadFrame.
func WriteFrame(w io.Writer, frame []byte) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// encodeCloser wraps the pipe reader and ensures the FFmpeg process is cleaned up.
type encodeCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (e *encodeCloser) Close() error {
	err := e.ReadCloser.Close()
	// Kill FFmpeg if still running (e.g. playback interrupted).
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	return err
}
