// Package bridge owns the per-connection audio bridging pipeline: one
// WebRTC peer connection and one Gemini live session wired together by an
// ingress pipeline (track -> opus decode -> resample -> session) and an
// egress pipeline (session -> paced framing -> queue -> track).
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/ggarber/rt-proxy/internal/audio"
	"github.com/ggarber/rt-proxy/internal/gemini"
	"github.com/ggarber/rt-proxy/internal/logging"
	"github.com/ggarber/rt-proxy/internal/metrics"
)

// ErrNegotiation is returned by HandleOffer when the transport cannot
// produce a local description for the received offer.
var ErrNegotiation = errors.New("negotiation error")

// State is the lifecycle state of a connection.
type State int32

const (
	StateNegotiating State = iota
	StateActive
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const sendRate = 48000 // opus track clock rate

// Options configures a connection.
type Options struct {
	Dialer   gemini.Dialer
	Model    string
	Registry *Registry
	Metrics  *metrics.Metrics
}

// Connection bridges one caller with one live session. It owns the session,
// the outbound queue and both pipeline goroutines; the peer connection's
// lifecycle is driven by negotiation and network events, observed through
// the connection state callback.
type Connection struct {
	id   string
	opts Options

	pc        *webrtc.PeerConnection
	sendTrack *webrtc.TrackLocalStaticSample
	queue     *audio.FrameQueue
	emitter   *audio.PacedEmitter

	sessionMu sync.Mutex
	session   gemini.Session

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce     sync.Once
	trackAccepted atomic.Bool
	wasActive     atomic.Bool

	// closed when the live session is open; ingress holds chunks on it
	sessionReady chan struct{}
}

// NewConnection creates a connection in the negotiating state.
func NewConnection(opts Options) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	queue := audio.NewFrameQueue()
	return &Connection{
		id:           uuid.NewString(),
		opts:         opts,
		queue:        queue,
		emitter:      audio.NewPacedEmitter(queue),
		ctx:          ctx,
		cancel:       cancel,
		sessionReady: make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// HandleOffer negotiates the peer connection from the remote offer and
// returns the local answer SDP. On success the orchestrator starts, opens
// the live session and transitions the connection to active.
func (c *Connection) HandleOffer(ctx context.Context, offerSDP string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		c.fail()
		return "", fmt.Errorf("%w: create peer connection: %v", ErrNegotiation, err)
	}
	c.pc = pc

	// The outbound track must exist before the answer is created so the
	// SDP carries a sendable audio section.
	sendTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: sendRate,
		Channels:  1,
	}, "audio", "rt-proxy")
	if err != nil {
		c.fail()
		return "", fmt.Errorf("%w: create outbound track: %v", ErrNegotiation, err)
	}
	c.sendTrack = sendTrack

	rtpSender, err := pc.AddTrack(sendTrack)
	if err != nil {
		c.fail()
		return "", fmt.Errorf("%w: add outbound track: %v", ErrNegotiation, err)
	}

	// Drain incoming RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(c.handleTrack)
	pc.OnDataChannel(c.handleDataChannel)
	pc.OnConnectionStateChange(c.handleConnectionState)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		c.fail()
		return "", fmt.Errorf("%w: set remote description: %v", ErrNegotiation, err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.fail()
		return "", fmt.Errorf("%w: create answer: %v", ErrNegotiation, err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		c.fail()
		return "", fmt.Errorf("%w: set local description: %v", ErrNegotiation, err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		c.fail()
		return "", fmt.Errorf("%w: gathering interrupted: %v", ErrNegotiation, ctx.Err())
	}

	go c.run()

	logging.Info(logging.CategoryConnection, "connection negotiated id=%s", c.id)
	return pc.LocalDescription().SDP, nil
}

// run is the orchestrator: it opens the live session, starts the egress
// pipelines and supervises the connection until something cancels it.
func (c *Connection) run() {
	session, err := c.opts.Dialer.Dial(c.ctx, c.opts.Model)
	if err != nil {
		logging.Error(logging.CategoryConnection, "failed to open live session id=%s: %v", c.id, err)
		c.fail()
		return
	}

	c.sessionMu.Lock()
	c.session = session
	c.sessionMu.Unlock()
	close(c.sessionReady)

	c.setState(StateActive)
	c.wasActive.Store(true)
	if c.opts.Metrics != nil {
		c.opts.Metrics.ActiveConnections.Inc()
	}
	logging.Info(logging.CategoryConnection, "live session open id=%s model=%s", c.id, c.opts.Model)

	c.wg.Add(2)
	go c.runSender()
	go c.runEgress()

	<-c.ctx.Done()
	c.Close()
}

// handleTrack accepts the first inbound audio track and starts the ingress
// pipeline for it. Subsequent tracks on the same connection are ignored
// (single-track policy); video tracks are ignored outright.
func (c *Connection) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	if !c.acceptTrack(track.Kind()) {
		logging.Warning(logging.CategoryConnection, "ignoring additional audio track id=%s", c.id)
		return
	}

	logging.Info(logging.CategoryConnection, "audio track received id=%s codec=%s", c.id, track.Codec().MimeType)

	c.wg.Add(1)
	go c.runIngress(track)
}

// acceptTrack is the single-track policy: only audio, and only the first
// one on a connection.
func (c *Connection) acceptTrack(kind webrtc.RTPCodecType) bool {
	if kind != webrtc.RTPCodecTypeAudio {
		return false
	}
	return c.trackAccepted.CompareAndSwap(false, true)
}

// handleDataChannel forwards text messages as end-of-turn input to the
// live session, bypassing the audio pipelines.
func (c *Connection) handleDataChannel(dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.forwardText(string(msg.Data))
	})
}

// forwardText sends one text message as a complete user turn. Messages
// arriving before the session opens are dropped.
func (c *Connection) forwardText(text string) {
	c.sessionMu.Lock()
	session := c.session
	c.sessionMu.Unlock()

	if session == nil {
		logging.Debug(logging.CategoryConnection, "dropping data channel message before session open id=%s", c.id)
		return
	}
	if err := session.SendText(text, true); err != nil {
		logging.Warning(logging.CategoryConnection, "failed to forward data channel message id=%s: %v", c.id, err)
	}
}

func (c *Connection) handleConnectionState(s webrtc.PeerConnectionState) {
	logging.Info(logging.CategoryConnection, "connection state id=%s state=%s", c.id, s.String())
	if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
		c.Close()
	}
}

// runIngress reads RTP from the remote track, decodes opus, resamples to
// the canonical format and sends each 20ms chunk to the live session.
func (c *Connection) runIngress(track *webrtc.TrackRemote) {
	defer c.wg.Done()
	defer c.cancel()

	decoder, err := opus.NewDecoder(sendRate, 1)
	if err != nil {
		logging.Error(logging.CategoryIngress, "failed to create opus decoder id=%s: %v", c.id, err)
		return
	}

	resampler := audio.NewFrameResampler(audio.TargetSampleRate)
	defer resampler.Close()

	buf := make([]byte, 1500)
	rtpPacket := &rtp.Packet{}
	pcm := make([]int16, 960) // 960 samples = 20ms @ 48kHz

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if c.ctx.Err() == nil {
				logging.Info(logging.CategoryIngress, "track ended id=%s: %v", c.id, err)
			}
			return
		}

		if err := rtpPacket.Unmarshal(buf[:n]); err != nil {
			logging.Warning(logging.CategoryIngress, "failed to unmarshal RTP packet id=%s: %v", c.id, err)
			continue
		}

		if len(rtpPacket.Payload) == 0 {
			continue // DTX packet
		}

		sampleCount, err := decoder.Decode(rtpPacket.Payload, pcm)
		if err != nil {
			if err.Error() == "opus: no data supplied" {
				continue // DTX packet
			}
			logging.Warning(logging.CategoryIngress, "failed to decode opus id=%s: %v", c.id, err)
			continue
		}
		if sampleCount == 0 {
			continue
		}

		// Live audio cannot be replayed; a transform failure ends the
		// ingress pipeline and with it the connection.
		chunks, err := resampler.Process(audio.PCMFrame{
			Data:       pcm[:sampleCount],
			SampleRate: sendRate,
			Channels:   1,
		})
		if err != nil {
			logging.Error(logging.CategoryIngress, "resample failed id=%s: %v", c.id, err)
			if c.opts.Metrics != nil {
				c.opts.Metrics.PipelineErrors.WithLabelValues("ingress").Inc()
			}
			return
		}

		for _, chunk := range chunks {
			if err := c.sendChunk(chunk); err != nil {
				if c.ctx.Err() == nil {
					logging.Error(logging.CategoryIngress, "failed to send chunk id=%s: %v", c.id, err)
					if c.opts.Metrics != nil {
						c.opts.Metrics.PipelineErrors.WithLabelValues("ingress").Inc()
					}
				}
				return
			}
			if c.opts.Metrics != nil {
				c.opts.Metrics.IngressChunks.Inc()
			}
		}
	}
}

// sendChunk forwards one canonical chunk to the live session. Audio can
// outrun the session dial (ICE and first RTP routinely beat the remote
// handshake), so the chunk is held until the session opens rather than
// failing the pipeline.
func (c *Connection) sendChunk(chunk audio.Chunk) error {
	select {
	case <-c.sessionReady:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.sessionMu.Lock()
	session := c.session
	c.sessionMu.Unlock()

	if session == nil {
		return fmt.Errorf("live session not open")
	}
	return session.SendAudio(chunk.Data, chunk.MIMEType)
}

// runEgress reads the live session's response stream and feeds audio
// payloads through the paced emitter into the outbound queue. Responses
// with no audio payload are logged and skipped.
func (c *Connection) runEgress() {
	defer c.wg.Done()
	defer c.cancel()

	c.sessionMu.Lock()
	session := c.session
	c.sessionMu.Unlock()

	for {
		msg, err := session.Receive()
		if err != nil {
			if c.ctx.Err() == nil {
				logging.Info(logging.CategoryEgress, "session stream ended id=%s: %v", c.id, err)
				if c.opts.Metrics != nil {
					c.opts.Metrics.PipelineErrors.WithLabelValues("egress").Inc()
				}
			}
			return
		}

		if !msg.HasAudio() {
			logging.Info(logging.CategoryEgress, "server message id=%s: %s", c.id, msg.Desc)
			if c.opts.Metrics != nil {
				c.opts.Metrics.NonAudioResponses.Inc()
			}
			continue
		}

		rate, err := gemini.ParseRate(msg.MIMEType)
		if err != nil {
			logging.Warning(logging.CategoryEgress, "skipping response id=%s: %v", c.id, err)
			continue
		}

		if err := c.emitter.Push(c.ctx, msg.Audio, rate); err != nil {
			if c.ctx.Err() == nil {
				logging.Error(logging.CategoryEgress, "failed to emit frames id=%s: %v", c.id, err)
			}
			return
		}
	}
}

// Close tears the connection down: both the live session and the peer
// connection are closed best-effort, the connection is removed from the
// registry and both pipelines are waited for. Idempotent and safe to call
// concurrently from the state-change handler and the failure paths.
func (c *Connection) Close() {
	c.shutdown(StateClosed)
}

func (c *Connection) fail() {
	c.shutdown(StateFailed)
}

func (c *Connection) shutdown(terminal State) {
	c.closeOnce.Do(func() {
		// A connection that never went active fails straight out of
		// negotiating; the closing state only applies to live connections.
		if c.wasActive.Load() {
			c.setState(StateClosing)
		}
		c.cancel()
		c.queue.Close()

		c.sessionMu.Lock()
		session := c.session
		c.session = nil
		c.sessionMu.Unlock()

		if session != nil {
			if err := session.Close(); err != nil {
				logging.Warning(logging.CategoryConnection, "failed to close live session id=%s: %v", c.id, err)
			}
		}
		if c.pc != nil {
			if err := c.pc.Close(); err != nil {
				logging.Warning(logging.CategoryConnection, "failed to close peer connection id=%s: %v", c.id, err)
			}
		}

		if c.opts.Registry != nil {
			c.opts.Registry.Unregister(c)
		}

		// Pipelines exit on cancellation or on their resource closing; a
		// stuck pipeline is a defect, so don't block teardown on it.
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			logging.Warning(logging.CategoryConnection, "timeout waiting for pipelines to stop id=%s", c.id)
		}

		c.setState(terminal)
		if c.opts.Metrics != nil {
			c.opts.Metrics.ConnectionsClosed.Inc()
			if c.wasActive.Load() {
				c.opts.Metrics.ActiveConnections.Dec()
			}
		}
		logging.Info(logging.CategoryConnection, "connection stopped id=%s state=%s", c.id, terminal)
	})
}
