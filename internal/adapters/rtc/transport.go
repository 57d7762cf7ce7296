// Package rtc adapts pion/webrtc to the core.Transport capability surface.
package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/ice"
)

var errUnsupportedTrack = errors.New("track was not produced by this adapter")

// Config maps fetched ICE servers onto the pion configuration.
func Config(servers []ice.Server) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

// Transport wraps one webrtc.PeerConnection. Callbacks are dispatched on
// their own goroutines so pion internals never re-enter session locks.
type Transport struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	closed      bool
	onCandidate func(core.Candidate)
	onState     func(core.TransportState)
}

// NewTransport builds a Transport; usable as an orch.TransportFactory.
func NewTransport(servers []ice.Server) (core.Transport, error) {
	pc, err := webrtc.NewPeerConnection(Config(servers))
	if err != nil {
		return nil, err
	}
	t := &Transport{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		out := core.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			out.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			out.SDPMLineIndex = *init.SDPMLineIndex
		}
		t.mu.Lock()
		cb := t.onCandidate
		t.mu.Unlock()
		if cb != nil {
			go cb(out)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		t.mu.Lock()
		cb := t.onState
		t.mu.Unlock()
		if cb != nil {
			go cb(mapState(s))
		}
	})

	return t, nil
}

func mapState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	default:
		return core.TransportClosed
	}
}

func (t *Transport) CreateOffer(_ context.Context, iceRestart bool) (string, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return "", err
	}
	// Trickle ICE: do not wait for gathering, candidates follow separately.
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *Transport) CreateAnswer(_ context.Context, remoteOffer string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteOffer}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *Transport) AcceptAnswer(remoteAnswer string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remoteAnswer,
	})
}

func (t *Transport) AddRemoteCandidate(c core.Candidate) error {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return t.pc.AddICECandidate(init)
}

func (t *Transport) OnLocalCandidate(fn func(core.Candidate)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// AddTrack attaches a synthetic local track and returns its sender slot.
func (t *Transport) AddTrack(tr core.Track) (core.Sender, error) {
	lt, ok := tr.(*LocalTrack)
	if !ok {
		return nil, errUnsupportedTrack
	}
	rtpSender, err := t.pc.AddTrack(lt.rtpTrack)
	if err != nil {
		return nil, err
	}
	return &sender{rtpSender: rtpSender, current: lt}, nil
}

// Close releases the peer connection. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.pc.Close()
}

// sender is one outbound slot; replacement swaps the RTP track in place and
// never renegotiates.
type sender struct {
	rtpSender *webrtc.RTPSender

	mu      sync.Mutex
	current *LocalTrack
}

func (s *sender) Track() core.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *sender) ReplaceTrack(tr core.Track) error {
	lt, ok := tr.(*LocalTrack)
	if !ok {
		return errUnsupportedTrack
	}
	if err := s.rtpSender.ReplaceTrack(lt.rtpTrack); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = lt
	s.mu.Unlock()
	return nil
}
