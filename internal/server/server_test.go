package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ggarber/rt-proxy/internal/bridge"
	"github.com/ggarber/rt-proxy/internal/config"
	"github.com/ggarber/rt-proxy/internal/gemini"
)

type fakeSession struct {
	done      chan struct{}
	closeOnce sync.Once
}

func (s *fakeSession) SendAudio(data []byte, mimeType string) error { return nil }
func (s *fakeSession) SendText(text string, endOfTurn bool) error   { return nil }

func (s *fakeSession) Receive() (*gemini.ServerMessage, error) {
	<-s.done
	return nil, io.EOF
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

type fakeDialer struct{}

func (d *fakeDialer) Dial(ctx context.Context, model string) (gemini.Session, error) {
	return &fakeSession{done: make(chan struct{})}, nil
}

func newTestServer(t *testing.T) (*Server, *bridge.Registry) {
	t.Helper()
	cfg := &config.Config{
		Host:         "127.0.0.1",
		Port:         0,
		Model:        "test-model",
		DrainTimeout: time.Second,
	}
	registry := bridge.NewRegistry()
	s := New(cfg, &fakeDialer{}, registry, nil)
	t.Cleanup(s.CloseAllConnections)
	return s, registry
}

func newOffer(t *testing.T) string {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("create offer peer: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("add audio transceiver: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local description: %v", err)
	}
	<-gatherComplete

	return pc.LocalDescription().SDP
}

func TestHandleOffer_ReturnsAnswer(t *testing.T) {
	s, registry := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(newOffer(t)))
	s.httpSrv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200; body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/sdp" {
		t.Errorf("Content-Type=%q, want application/sdp", got)
	}
	if w.Body.Len() == 0 {
		t.Error("empty answer body")
	}
	if got := registry.Len(); got != 1 {
		t.Errorf("registry Len()=%d, want 1", got)
	}

	s.CloseAllConnections()
	if got := registry.Len(); got != 0 {
		t.Errorf("registry Len()=%d after CloseAllConnections, want 0", got)
	}
}

func TestHandleOffer_EmptyBody(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	s.httpSrv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
}

func TestHandleOffer_InvalidSDP(t *testing.T) {
	s, registry := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("garbage"))
	s.httpSrv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
	if got := registry.Len(); got != 0 {
		t.Errorf("registry Len()=%d, want 0", got)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.httpSrv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
}
