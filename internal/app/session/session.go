// Package session implements the per-participant negotiation state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/media"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/metrics"
)

// Config bounds the negotiation and recovery behavior.
type Config struct {
	NegotiationTimeout time.Duration
	RetryBudget        int
	RetryBackoff       time.Duration
	DeviceTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 15 * time.Second
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = 30 * time.Second
	}
	return c
}

// Session governs one participant's connection to a room: offer/answer
// exchange, trickle ICE, in-call track changes, failure recovery, teardown.
// Each session runs as an independent goroutine; no session blocks another.
type Session struct {
	id     domain.ParticipantID
	roomID domain.RoomID

	endpoint  core.Endpoint
	transport core.Transport
	coord     *media.Coordinator
	events    <-chan core.RoomEvent
	cfg       Config
	logger    zerolog.Logger
	initiator bool
	onClosed  func(error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	machine      *fsm.FSM
	peerID       domain.ParticipantID
	offerPending bool
	retries      int
	negTimer     *time.Timer
	retryTimer   *time.Timer
	closed       bool
	closeErr     error
	trace        []string
}

// New builds a session around an admitted endpoint. initiator marks the
// joining (second-arrival) side, which by convention creates the offer.
// onClosed fires exactly once when the session reaches Closed.
func New(
	id domain.ParticipantID,
	roomID domain.RoomID,
	endpoint core.Endpoint,
	events <-chan core.RoomEvent,
	transport core.Transport,
	devices core.Devices,
	initiator bool,
	cfg Config,
	onClosed func(error),
	logger zerolog.Logger,
) *Session {
	s := &Session{
		id:        id,
		roomID:    roomID,
		endpoint:  endpoint,
		events:    events,
		transport: transport,
		cfg:       cfg.withDefaults(),
		initiator: initiator,
		onClosed:  onClosed,
		machine:   newSessionFSM(),
		done:      make(chan struct{}),
		logger: logger.With().Str("module", "session").
			Str("room", string(roomID)).Str("participant", string(id)).Logger(),
	}
	s.coord = media.NewCoordinator(devices, s.addTrack, s.logger)
	return s
}

// Start wires the transport callbacks and launches the session loop.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	metrics.SessionsActive.Inc()

	s.transport.OnLocalCandidate(func(c core.Candidate) {
		s.mu.Lock()
		to, closed := s.peerID, s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		if err := s.endpoint.Send(core.Message{Type: core.MessageCandidate, To: to, Candidate: &c}); err != nil {
			s.logger.Debug().Err(err).Msg("candidate send failed")
		}
	})
	s.transport.OnStateChange(s.handleTransportState)

	inbox := s.endpoint.Subscribe()
	go s.run(inbox)
}

func (s *Session) run(inbox <-chan core.Message) {
	devCtx, devCancel := context.WithTimeout(s.ctx, s.cfg.DeviceTimeout)
	err := s.coord.PublishDefaults(devCtx)
	devCancel()
	if err != nil {
		s.logger.Warn().Err(err).Msg("publishing default tracks failed")
	}

	if s.initiator {
		s.mu.Lock()
		terminal := s.startNegotiationLocked(false)
		s.mu.Unlock()
		if terminal != nil {
			s.Close(terminal)
			return
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			s.Close(nil)
			return
		case ev, ok := <-s.events:
			if !ok {
				s.Close(nil)
				return
			}
			if terminal, terminate := s.handleRoomEvent(ev); terminate {
				s.Close(terminal)
				return
			}
		case msg, ok := <-inbox:
			if !ok {
				// Channel torn down under a live session.
				s.Close(core.ErrPeerDisconnected)
				return
			}
			terminal, terminate := s.handleMessage(msg)
			s.endpoint.Ack(msg.From, msg.Seq)
			if terminate {
				s.Close(terminal)
				return
			}
		}
	}
}

func (s *Session) handleRoomEvent(ev core.RoomEvent) (error, bool) {
	switch ev.Type {
	case core.EventParticipantJoined:
		s.logger.Info().Str("peer", string(ev.Participant)).Msg("peer joined")
		return nil, false
	case core.EventParticipantLeft:
		s.mu.Lock()
		isPeer := ev.Participant == s.peerID || s.peerID == ""
		connected := s.machine.Current() == StateConnected || s.machine.Current() == StateRenegotiating
		s.mu.Unlock()
		if !isPeer {
			return nil, false
		}
		s.logger.Info().Str("peer", string(ev.Participant)).Msg("peer left")
		if connected {
			return core.ErrPeerDisconnected, true
		}
		return nil, true
	case core.EventRoomClosed:
		return nil, true
	default:
		return nil, false
	}
}

func (s *Session) handleMessage(msg core.Message) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}

	switch msg.Type {
	case core.MessageOffer:
		return s.handleOfferLocked(msg)
	case core.MessageAnswer:
		return s.handleAnswerLocked(msg)
	case core.MessageCandidate:
		if msg.Candidate == nil {
			return nil, false
		}
		if err := s.transport.AddRemoteCandidate(*msg.Candidate); err != nil {
			s.logger.Debug().Err(err).Msg("remote candidate rejected")
		}
		return nil, false
	case core.MessageBye:
		s.logger.Info().Str("peer", string(msg.From)).Msg("bye received")
		return nil, true
	default:
		s.logger.Warn().Str("type", string(msg.Type)).Msg("unknown signal")
		return nil, false
	}
}

func (s *Session) handleOfferLocked(msg core.Message) (error, bool) {
	if s.offerPending {
		// Glare: both sides offered. The lexicographically smaller id
		// yields and answers the other's offer.
		if s.id < msg.From {
			s.logger.Info().Str("peer", string(msg.From)).Msg("glare, yielding to remote offer")
			s.offerPending = false
		} else {
			s.logger.Info().Str("peer", string(msg.From)).Msg("glare, ignoring remote offer")
			return nil, false
		}
	}

	switch s.machine.Current() {
	case StateIdle, StateFailed:
		s.fire("negotiate", "retry")
	case StateConnected:
		s.fire("renegotiate")
	}
	s.peerID = msg.From

	answer, err := s.transport.CreateAnswer(s.ctx, msg.SDP)
	if err != nil {
		terminal := s.failLocked(fmt.Errorf("%w: create answer: %v", core.ErrIceFailure, err))
		return terminal, terminal != nil
	}
	s.armNegotiationTimerLocked()
	if err := s.endpoint.Send(core.Message{Type: core.MessageAnswer, To: msg.From, SDP: answer}); err != nil {
		return core.ErrPeerDisconnected, true
	}
	return nil, false
}

func (s *Session) handleAnswerLocked(msg core.Message) (error, bool) {
	if !s.offerPending {
		// An answer with no outstanding offer is invalid and dropped.
		s.logger.Warn().Str("peer", string(msg.From)).Msg("unsolicited answer dropped")
		return nil, false
	}
	if err := s.transport.AcceptAnswer(msg.SDP); err != nil {
		terminal := s.failLocked(fmt.Errorf("%w: accept answer: %v", core.ErrIceFailure, err))
		return terminal, terminal != nil
	}
	s.offerPending = false
	s.peerID = msg.From
	return nil, false
}

// startNegotiationLocked drives the state machine into a fresh offer cycle.
// A non-nil return is a terminal error the caller must Close with.
func (s *Session) startNegotiationLocked(iceRestart bool) error {
	switch s.machine.Current() {
	case StateIdle:
		s.fire("negotiate")
	case StateFailed:
		s.fire("retry")
	case StateConnected:
		s.fire("renegotiate")
	case StateClosed:
		return nil
	}

	sdp, err := s.transport.CreateOffer(s.ctx, iceRestart)
	if err != nil {
		return s.failLocked(fmt.Errorf("%w: create offer: %v", core.ErrIceFailure, err))
	}
	s.offerPending = true
	s.armNegotiationTimerLocked()
	if err := s.endpoint.Send(core.Message{Type: core.MessageOffer, To: s.peerID, SDP: sdp, Restart: iceRestart}); err != nil {
		if errors.Is(err, core.ErrChannelClosed) {
			return core.ErrPeerDisconnected
		}
		return fmt.Errorf("%w: %v", core.ErrCallFailed, err)
	}
	return nil
}

// failLocked moves to Failed and schedules one bounded ICE-restart retry.
// A non-nil return means the retry budget is exhausted and the session must
// close with that terminal error.
func (s *Session) failLocked(cause error) error {
	if s.closed {
		return nil
	}
	if !s.fire("fail") {
		return nil
	}
	s.offerPending = false
	s.stopNegTimerLocked()
	if s.retries >= s.cfg.RetryBudget {
		s.logger.Error().Err(cause).Msg("retry budget exhausted")
		return fmt.Errorf("%w: %v", core.ErrCallFailed, cause)
	}
	s.retries++
	metrics.NegotiationRetries.Inc()
	s.logger.Warn().Err(cause).Int("attempt", s.retries).Msg("negotiation failed, scheduling ice restart")
	s.retryTimer = time.AfterFunc(s.cfg.RetryBackoff, s.retryNow)
	return nil
}

func (s *Session) retryNow() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	terminal := s.startNegotiationLocked(true)
	s.mu.Unlock()
	if terminal != nil {
		s.Close(terminal)
	}
}

func (s *Session) handleTransportState(st core.TransportState) {
	switch st {
	case core.TransportConnected:
		s.mu.Lock()
		if s.closed || s.machine.Current() == StateConnected {
			s.mu.Unlock()
			return
		}
		if s.fire("connected") {
			s.retries = 0
			s.offerPending = false
			s.stopNegTimerLocked()
		}
		s.mu.Unlock()
	case core.TransportFailed:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		terminal := s.failLocked(core.ErrIceFailure)
		s.mu.Unlock()
		if terminal != nil {
			s.Close(terminal)
		}
	case core.TransportDisconnected:
		s.logger.Warn().Msg("transport disconnected, waiting for recovery or failure")
	default:
	}
}

func (s *Session) onNegotiationTimeout() {
	s.mu.Lock()
	cur := s.machine.Current()
	if s.closed || cur == StateConnected {
		s.mu.Unlock()
		return
	}
	terminal := s.failLocked(core.ErrNegotiationTimeout)
	s.mu.Unlock()
	if terminal != nil {
		s.Close(terminal)
	}
}

func (s *Session) armNegotiationTimerLocked() {
	s.stopNegTimerLocked()
	s.negTimer = time.AfterFunc(s.cfg.NegotiationTimeout, s.onNegotiationTimeout)
}

func (s *Session) stopNegTimerLocked() {
	if s.negTimer != nil {
		s.negTimer.Stop()
		s.negTimer = nil
	}
}

// addTrack is the coordinator's hook for brand-new outbound tracks. Adding
// a track to a connected transport needs a fresh offer/answer cycle;
// replacement on an existing slot never comes through here.
func (s *Session) addTrack(t core.Track) (core.Sender, error) {
	sender, err := s.transport.AddTrack(t)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	var terminal error
	if !s.closed && s.machine.Current() == StateConnected {
		terminal = s.startNegotiationLocked(false)
	}
	s.mu.Unlock()
	if terminal != nil {
		go s.Close(terminal)
	}
	return sender, nil
}

// Close is the canonical teardown. Safe to invoke multiple times and from
// racing paths (user action, peer bye, unmount cleanup); tracks are released
// and the registry is notified exactly once.
func (s *Session) Close(terminal error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = terminal
	s.stopNegTimerLocked()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.fire("close")
	s.mu.Unlock()

	// Best effort: tell the room we are gone before detaching.
	_ = s.endpoint.Send(core.Message{Type: core.MessageBye})

	s.coord.ReleaseAll()
	if err := s.transport.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("transport close")
	}
	s.endpoint.Close()
	if s.cancel != nil {
		s.cancel()
	}

	metrics.SessionsActive.Dec()
	if terminal != nil && errors.Is(terminal, core.ErrCallFailed) {
		metrics.CallsFailed.Inc()
	}
	s.logger.Info().Err(terminal).Msg("session closed")

	if s.onClosed != nil {
		s.onClosed(terminal)
	}
	close(s.done)
}

// fire attempts the first event that produces a transition; unknown or
// invalid events are ignored, which is what makes repeated connectivity
// signals idempotent.
func (s *Session) fire(events ...string) bool {
	for _, ev := range events {
		if err := s.machine.Event(context.Background(), ev); err == nil {
			cur := s.machine.Current()
			s.trace = append(s.trace, cur)
			metrics.SessionTransitions.WithLabelValues(cur).Inc()
			s.logger.Info().Str("state", cur).Msg("state transition")
			return true
		}
	}
	return false
}

func (s *Session) ID() domain.ParticipantID { return s.id }

func (s *Session) RoomID() domain.RoomID { return s.roomID }

func (s *Session) Coordinator() *media.Coordinator { return s.coord }

func (s *Session) Done() <-chan struct{} { return s.done }

// State reports the current machine state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Trace returns the transition history, oldest first.
func (s *Session) Trace() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.trace))
	copy(out, s.trace)
	return out
}

// Err returns the terminal error once Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
