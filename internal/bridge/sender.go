package bridge

import (
	"encoding/binary"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/ggarber/rt-proxy/internal/audio"
	"github.com/ggarber/rt-proxy/internal/logging"
)

// runSender is the transport send path: it pulls paced frames off the
// outbound queue, resamples them to the track's 48kHz clock, encodes opus
// and writes 20ms samples to the outbound track. The resampler follows the
// frames' declared rate, so a mid-stream rate change just rebuilds the
// filter.
func (c *Connection) runSender() {
	defer c.wg.Done()
	defer c.cancel()

	encoder, err := opus.NewEncoder(sendRate, 1, opus.AppVoIP)
	if err != nil {
		logging.Error(logging.CategoryEgress, "failed to create opus encoder id=%s: %v", c.id, err)
		return
	}

	resampler := audio.NewFrameResampler(sendRate)
	defer resampler.Close()

	pcm := make([]int16, audio.SamplesPerFrame(sendRate))
	opusBuf := make([]byte, 1400)

	for {
		frame, err := c.queue.Get(c.ctx)
		if err != nil {
			return
		}

		chunks, err := resampler.Process(audio.PCMFrame{
			Data:       samplesFromBytes(frame.Data),
			SampleRate: frame.SampleRate,
			Channels:   1,
		})
		if err != nil {
			logging.Error(logging.CategoryEgress, "resample to track rate failed id=%s: %v", c.id, err)
			return
		}

		for _, chunk := range chunks {
			for i := range pcm {
				pcm[i] = int16(binary.LittleEndian.Uint16(chunk.Data[i*2:]))
			}

			n, err := encoder.Encode(pcm, opusBuf)
			if err != nil {
				logging.Error(logging.CategoryEgress, "opus encode failed id=%s: %v", c.id, err)
				return
			}

			payload := make([]byte, n)
			copy(payload, opusBuf[:n])

			if err := c.sendTrack.WriteSample(media.Sample{
				Data:     payload,
				Duration: 20 * time.Millisecond,
			}); err != nil {
				if c.ctx.Err() == nil {
					logging.Error(logging.CategoryEgress, "failed to write sample id=%s: %v", c.id, err)
					if c.opts.Metrics != nil {
						c.opts.Metrics.PipelineErrors.WithLabelValues("egress").Inc()
					}
				}
				return
			}

			if c.opts.Metrics != nil {
				c.opts.Metrics.EgressFrames.Inc()
			}
		}
	}
}

func samplesFromBytes(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
