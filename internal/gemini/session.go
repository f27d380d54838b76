// Package gemini wraps the Gemini live API behind a narrow session
// interface so the bridge only depends on "send audio, send text, receive
// responses" and tests can substitute a fake session.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// ServerMessage is one item from the live session's response stream.
// Audio is nil for server messages carrying no audio payload (setup
// acknowledgements, turn boundaries); those are logged and skipped by the
// egress pipeline, never treated as errors.
type ServerMessage struct {
	Audio    []byte
	MIMEType string
	Desc     string
}

// HasAudio reports whether the message carries an audio payload.
func (m *ServerMessage) HasAudio() bool {
	return len(m.Audio) > 0
}

// Session is a live conversational session. Audio chunks go in via
// SendAudio, text turns via SendText, and the model's reply stream comes
// back one message at a time from Receive.
type Session interface {
	SendAudio(data []byte, mimeType string) error
	SendText(text string, endOfTurn bool) error
	Receive() (*ServerMessage, error)
	Close() error
}

// Dialer opens live sessions.
type Dialer interface {
	Dial(ctx context.Context, model string) (Session, error)
}

// Client dials Gemini live sessions configured for audio responses.
type Client struct {
	client *genai.Client
}

// NewClient creates a Gemini client for the live API.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1alpha"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: c}, nil
}

// Dial opens a live session with response modality audio.
func (c *Client) Dial(ctx context.Context, model string) (Session, error) {
	s, err := c.client.Live.Connect(ctx, model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	})
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}
	return &liveSession{session: s}, nil
}

type liveSession struct {
	session *genai.Session
}

func (s *liveSession) SendAudio(data []byte, mimeType string) error {
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (s *liveSession) SendText(text string, endOfTurn bool) error {
	return s.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: &endOfTurn,
	})
}

func (s *liveSession) Receive() (*ServerMessage, error) {
	msg, err := s.session.Receive()
	if err != nil {
		return nil, err
	}
	return fromServerMessage(msg), nil
}

// fromServerMessage flattens one live server message. A model turn can
// spread its audio over several parts; their payloads are concatenated
// into a single chunk.
func fromServerMessage(msg *genai.LiveServerMessage) *ServerMessage {
	if msg.ServerContent != nil && msg.ServerContent.ModelTurn != nil {
		var data []byte
		var mimeType string
		for _, part := range msg.ServerContent.ModelTurn.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			data = append(data, part.InlineData.Data...)
			if mimeType == "" {
				mimeType = part.InlineData.MIMEType
			}
		}
		if len(data) > 0 {
			return &ServerMessage{Audio: data, MIMEType: mimeType}
		}
	}

	return &ServerMessage{Desc: describe(msg)}
}

func (s *liveSession) Close() error {
	return s.session.Close()
}

func describe(msg *genai.LiveServerMessage) string {
	switch {
	case msg.SetupComplete != nil:
		return "setup complete"
	case msg.ToolCall != nil:
		return "tool call"
	case msg.ServerContent != nil && msg.ServerContent.Interrupted:
		return "interrupted"
	case msg.ServerContent != nil && msg.ServerContent.TurnComplete:
		return "turn complete"
	default:
		return "server message"
	}
}
