package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// WebRTCSource gathers local ICE candidates from a throwaway peer connection
type WebRTCSource struct {
	STUNServers []string
}

// NewWebRTCSource creates a WebRTCSource. STUN servers are optional; host candidates
// carry the LAN addresses.
func NewWebRTCSource(stunServers []string) *WebRTCSource {
	return &WebRTCSource{STUNServers: stunServers}
}

// Open creates a peer connection with one data channel and sets a local offer,
// which starts ICE gathering.
func (s *WebRTCSource) Open(ctx context.Context) (CandidateSession, error) {
	cfg := webrtc.Configuration{}
	if len(s.STUNServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: s.STUNServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	sess := &webrtcSession{pc: pc, out: make(chan string, 32)}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			sess.finish()
			return
		}
		sess.send(c.ToJSON().Candidate)
	})

	if _, err := pc.CreateDataChannel("discovery", nil); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	if err := ctx.Err(); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

type webrtcSession struct {
	pc  *webrtc.PeerConnection
	out chan string

	mu       sync.Mutex
	finished bool
}

func (s *webrtcSession) Candidates() <-chan string {
	return s.out
}

// send drops candidates once the buffer is full; only the first match matters
func (s *webrtcSession) send(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	select {
	case s.out <- c:
	default:
	}
}

func (s *webrtcSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finished = true
		close(s.out)
	}
}

func (s *webrtcSession) Close() error {
	s.finish()
	return s.pc.Close()
}
