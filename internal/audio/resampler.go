package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	soxr "github.com/zaf/resample"
)

const (
	// TargetSampleRate is the canonical rate audio is converted to before
	// being sent to the model.
	TargetSampleRate = 16000

	// FramePTime is the duration of one frame in seconds (20ms).
	FramePTime = 0.02
)

// SamplesPerFrame returns the number of samples in one 20ms frame at rate.
func SamplesPerFrame(rate int) int {
	return int(float64(rate) * FramePTime)
}

// MIMEType returns the PCM mime type declaring rate, as expected by the
// live session ("audio/pcm;rate=16000").
func MIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// PCMFrame is one decoded inbound audio frame of arbitrary rate and layout.
// Interleaved s16 samples.
type PCMFrame struct {
	Data       []int16
	SampleRate int
	Channels   int
}

// Chunk is a unit of canonical audio handed to the live session.
type Chunk struct {
	Data       []byte // s16le mono
	SampleRate int
	MIMEType   string
}

// FrameResampler converts inbound PCM frames of arbitrary sample rate and
// channel layout into fixed-size 20ms chunks of 16kHz mono s16le audio.
// Resampling state persists across calls for the lifetime of one connection;
// samples left over after chunking are carried into the next call.
type FrameResampler struct {
	targetRate int

	inRate    int
	resampler *soxr.Resampler
	buf       *bytes.Buffer

	remaining []int16
	inBytes   []byte
	closed    bool
}

// NewFrameResampler creates a resampler targeting the given output rate.
func NewFrameResampler(targetRate int) *FrameResampler {
	return &FrameResampler{
		targetRate: targetRate,
		buf:        &bytes.Buffer{},
		remaining:  make([]int16, 0, SamplesPerFrame(targetRate)),
	}
}

// Process converts one inbound frame and returns all full 20ms chunks now
// available. The soxr filter may withhold samples near frame boundaries;
// those surface on later calls or on Flush.
func (r *FrameResampler) Process(frame PCMFrame) ([]Chunk, error) {
	if r.closed {
		return nil, fmt.Errorf("resampler is closed")
	}
	if len(frame.Data) == 0 {
		return nil, nil
	}
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		return nil, fmt.Errorf("invalid frame: rate=%d channels=%d", frame.SampleRate, frame.Channels)
	}

	mono := downmix(frame.Data, frame.Channels)

	out, err := r.resample(mono, frame.SampleRate)
	if err != nil {
		return nil, err
	}

	r.remaining = append(r.remaining, out...)
	return r.drainChunks(), nil
}

// Flush drains the soxr filter tail and returns any final full chunks.
// The resampler cannot be used after Flush.
func (r *FrameResampler) Flush() ([]Chunk, error) {
	if r.closed {
		return nil, nil
	}
	r.closed = true

	if r.resampler != nil {
		// Close flushes remaining samples into the buffer.
		if err := r.resampler.Close(); err != nil {
			return nil, fmt.Errorf("resampler close: %w", err)
		}
		r.resampler = nil
		r.remaining = append(r.remaining, drainBuffer(r.buf)...)
	}

	return r.drainChunks(), nil
}

// Close releases the underlying resampler, discarding buffered samples.
func (r *FrameResampler) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if r.resampler != nil {
		r.resampler.Close()
		r.resampler = nil
	}
}

func (r *FrameResampler) resample(mono []int16, inRate int) ([]int16, error) {
	// Same-rate input needs no filter.
	if inRate == r.targetRate && r.resampler == nil {
		return mono, nil
	}

	// Lazily create the filter; recreate if the input rate changes mid-stream.
	if r.resampler == nil || inRate != r.inRate {
		if r.resampler != nil {
			r.resampler.Close()
			r.remaining = append(r.remaining, drainBuffer(r.buf)...)
		}
		rs, err := soxr.New(r.buf, float64(inRate), float64(r.targetRate), 1, soxr.I16, soxr.HighQ)
		if err != nil {
			return nil, fmt.Errorf("create resampler: %w", err)
		}
		r.resampler = rs
		r.inRate = inRate
	}

	inputSize := len(mono) * 2
	if cap(r.inBytes) < inputSize {
		r.inBytes = make([]byte, inputSize)
	}
	input := r.inBytes[:inputSize]
	for i, sample := range mono {
		binary.LittleEndian.PutUint16(input[i*2:], uint16(sample))
	}

	if _, err := r.resampler.Write(input); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	return drainBuffer(r.buf), nil
}

// drainChunks slices full 20ms chunks off the remaining-samples buffer.
func (r *FrameResampler) drainChunks() []Chunk {
	samples := SamplesPerFrame(r.targetRate)
	var chunks []Chunk
	for len(r.remaining) >= samples {
		data := make([]byte, samples*2)
		for i, sample := range r.remaining[:samples] {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
		}
		chunks = append(chunks, Chunk{
			Data:       data,
			SampleRate: r.targetRate,
			MIMEType:   MIMEType(r.targetRate),
		})
		r.remaining = append(r.remaining[:0], r.remaining[samples:]...)
	}
	return chunks
}

func drainBuffer(buf *bytes.Buffer) []int16 {
	raw := buf.Bytes()
	n := len(raw) / 2
	if n == 0 {
		buf.Reset()
		return nil
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	buf.Reset()
	return out
}

// downmix averages interleaved channels into mono.
func downmix(data []int16, channels int) []int16 {
	if channels == 1 {
		return data
	}
	n := len(data) / channels
	mono := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(data[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}
