package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggarber/rt-proxy/internal/audio"
)

func drain(t *testing.T, q *audio.FrameQueue) []audio.Frame {
	t.Helper()
	var frames []audio.Frame
	for q.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		f, err := q.Get(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestPacedEmitter_FramesAndTimestamps(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue()
	e := audio.NewPacedEmitter(q)

	// 1920 bytes @ 24kHz: exactly two 20ms frames of 480 samples.
	if err := e.Push(context.Background(), make([]byte, 1920), 24000); err != nil {
		t.Fatalf("Push: %v", err)
	}

	frames := drain(t, q)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if f.Samples != 480 {
			t.Errorf("frame %d: samples=%d, want 480", i, f.Samples)
		}
		if f.SampleRate != 24000 {
			t.Errorf("frame %d: rate=%d, want 24000", i, f.SampleRate)
		}
		if len(f.Data) != 960 {
			t.Errorf("frame %d: len(data)=%d, want 960", i, len(f.Data))
		}
	}
	if frames[0].PTS != 0 || frames[1].PTS != 480 {
		t.Errorf("PTS=%d,%d, want 0,480", frames[0].PTS, frames[1].PTS)
	}
	if e.Buffered() != 0 {
		t.Errorf("Buffered()=%d, want 0", e.Buffered())
	}
}

func TestPacedEmitter_PartialPayloadIsBuffered(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue()
	e := audio.NewPacedEmitter(q)
	ctx := context.Background()

	// One frame @ 16kHz is 320 samples = 640 bytes.
	if err := e.Push(ctx, make([]byte, 100), 16000); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len=%d after partial payload, want 0", q.Len())
	}
	if e.Buffered() != 100 {
		t.Fatalf("Buffered()=%d, want 100", e.Buffered())
	}

	if err := e.Push(ctx, make([]byte, 600), 16000); err != nil {
		t.Fatalf("Push: %v", err)
	}
	frames := drain(t, q)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if e.Buffered() != 60 {
		t.Errorf("Buffered()=%d, want 60", e.Buffered())
	}
	if e.Buffered() >= 640 {
		t.Errorf("accumulator holds %d bytes, want fewer than one frame (640)", e.Buffered())
	}
}

func TestPacedEmitter_TimestampsAccumulateAcrossPushes(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue()
	e := audio.NewPacedEmitter(q)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.Push(ctx, make([]byte, 640), 16000); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	frames := drain(t, q)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		want := int64(i) * 320
		if f.PTS != want {
			t.Errorf("frame %d: PTS=%d, want %d", i, f.PTS, want)
		}
	}
	if got := e.PTS(); got != 960 {
		t.Errorf("PTS()=%d, want 960", got)
	}
}

func TestPacedEmitter_RateChangeAdaptsFrameSize(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue()
	e := audio.NewPacedEmitter(q)
	ctx := context.Background()

	if err := e.Push(ctx, make([]byte, 640), 16000); err != nil {
		t.Fatalf("Push 16k: %v", err)
	}
	if err := e.Push(ctx, make([]byte, 960), 24000); err != nil {
		t.Fatalf("Push 24k: %v", err)
	}

	frames := drain(t, q)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Samples != 320 || frames[0].SampleRate != 16000 {
		t.Errorf("frame 0: %d samples @ %d, want 320 @ 16000", frames[0].Samples, frames[0].SampleRate)
	}
	if frames[1].Samples != 480 || frames[1].SampleRate != 24000 {
		t.Errorf("frame 1: %d samples @ %d, want 480 @ 24000", frames[1].Samples, frames[1].SampleRate)
	}
	// The counter keeps running across the rate change.
	if frames[1].PTS != 320 {
		t.Errorf("frame 1: PTS=%d, want 320", frames[1].PTS)
	}
}

func TestPacedEmitter_PacesToRealTime(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue()
	e := audio.NewPacedEmitter(q)

	start := time.Now()
	// Three frames @ 16kHz arriving all at once.
	if err := e.Push(context.Background(), make([]byte, 3*640), 16000); err != nil {
		t.Fatalf("Push: %v", err)
	}
	elapsed := time.Since(start)

	if want := 2 * 20 * time.Millisecond; elapsed < want {
		t.Errorf("3 frames emitted in %v, want at least %v", elapsed, want)
	}
	if q.Len() != 3 {
		t.Errorf("queue len=%d, want 3", q.Len())
	}
}

func TestPacedEmitter_CancelInterruptsPacing(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue()
	e := audio.NewPacedEmitter(q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Push(ctx, make([]byte, 10*640), 16000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Push with cancelled ctx: err=%v, want context.Canceled", err)
	}
	// The first frame was already handed off before the pacing delay.
	if q.Len() != 1 {
		t.Errorf("queue len=%d, want 1", q.Len())
	}
}

func TestPacedEmitter_InvalidRate(t *testing.T) {
	t.Parallel()

	e := audio.NewPacedEmitter(audio.NewFrameQueue())
	if err := e.Push(context.Background(), make([]byte, 640), 0); err == nil {
		t.Fatal("Push with rate 0: err=nil, want error")
	}
}
