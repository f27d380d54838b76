package audio

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Frame is a fixed-duration unit of outbound audio. PTS counts samples at
// SampleRate and advances by Samples per frame, starting at zero.
type Frame struct {
	Data       []byte // s16le mono
	Samples    int
	SampleRate int
	PTS        int64
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	return time.Duration(float64(f.Samples) / float64(f.SampleRate) * float64(time.Second))
}

// PacedEmitter reassembles the model's audio byte stream into 20ms frames
// and pushes them onto the outbound queue paced to real time: after each
// frame it waits one frame duration so the transport is never fed faster
// than playback. The running PTS counter spans the whole connection.
//
// The frame size follows each payload's declared sample rate; a rate change
// mid-stream is accepted and simply changes the frame size from then on.
type PacedEmitter struct {
	out *FrameQueue

	buf []byte
	pts atomic.Int64
}

// NewPacedEmitter creates an emitter producing into out.
func NewPacedEmitter(out *FrameQueue) *PacedEmitter {
	return &PacedEmitter{out: out}
}

// Push appends one payload and emits every full frame it completes.
// Blocks for the pacing delay after each emitted frame; cancelling ctx
// interrupts the delay and returns immediately.
func (e *PacedEmitter) Push(ctx context.Context, payload []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	e.buf = append(e.buf, payload...)

	samples := SamplesPerFrame(sampleRate)
	frameBytes := samples * 2 // s16

	for len(e.buf) >= frameBytes {
		data := make([]byte, frameBytes)
		copy(data, e.buf[:frameBytes])
		e.buf = e.buf[frameBytes:]

		frame := Frame{
			Data:       data,
			Samples:    samples,
			SampleRate: sampleRate,
			PTS:        e.pts.Load(),
		}
		e.pts.Add(int64(samples))

		if err := e.out.Put(frame); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(frame.Duration()):
		}
	}

	return nil
}

// Buffered returns the number of bytes awaiting a full frame.
func (e *PacedEmitter) Buffered() int {
	return len(e.buf)
}

// PTS returns the running timestamp counter in samples.
func (e *PacedEmitter) PTS() int64 {
	return e.pts.Load()
}
