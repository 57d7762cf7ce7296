// Package orch is the top-level call façade composing the registry, the
// signaling channel and per-participant sessions.
package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/admission"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/rooms"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/session"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/ice"
)

// ErrUnknownHandle is returned for operations on a handle that was never
// issued or has already been released.
var ErrUnknownHandle = errors.New("unknown session handle")

// TransportFactory builds the media transport for one session from the ICE
// servers fetched for that join.
type TransportFactory func(servers []ice.Server) (core.Transport, error)

// Handle identifies one joined session to the caller.
type Handle struct {
	ID   string
	sess *session.Session
}

// State exposes the session state for the handle.
func (h *Handle) State() string { return h.sess.State() }

// Room reports which room the handle's session belongs to.
func (h *Handle) Room() domain.RoomID { return h.sess.RoomID() }

// Orchestrator wires admission, ICE config, registry and sessions together
// and translates component errors into the public taxonomy.
type Orchestrator struct {
	Registry     *rooms.Registry
	Ice          *ice.Provider
	Admission    *admission.Client // optional external authorization
	NewTransport TransportFactory
	Devices      core.Devices
	SessionCfg   session.Config

	ctx     context.Context
	mu      sync.Mutex
	handles map[string]*Handle
}

// Start binds session lifetimes to the given root context.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	if o.handles == nil {
		o.handles = make(map[string]*Handle)
	}
	o.mu.Unlock()
}

// Join admits the participant and starts its peer session. The ctx bounds
// only the join itself; a cancellation after admission compensates with an
// implicit remove so no stale roster entry survives.
func (o *Orchestrator) Join(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, role domain.Role) (*Handle, error) {
	var servers []ice.Server
	if o.Admission != nil {
		grant, err := o.Admission.Join(ctx, string(roomID))
		if err != nil {
			return nil, err
		}
		if grant.RoomID != "" {
			roomID = domain.RoomID(grant.RoomID)
		}
		if grant.ParticipantID != "" {
			participantID = domain.ParticipantID(grant.ParticipantID)
		}
		servers = grant.IceServers
	}
	if len(servers) == 0 && o.Ice != nil {
		servers = o.Ice.ServersForJoin(ctx)
	}
	servers = ice.EnsureSTUN(servers)

	p, err := domain.NewParticipant(participantID, role)
	if err != nil {
		return nil, err
	}

	adm, err := o.Registry.Admit(roomID, p)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		// Join cancelled between admission and session start.
		o.Registry.Remove(roomID, p.ID)
		return nil, ctx.Err()
	}

	transport, err := o.NewTransport(servers)
	if err != nil {
		o.Registry.Remove(roomID, p.ID)
		return nil, err
	}

	h := &Handle{ID: uuid.NewString()}
	logger := log.With().Str("handle", h.ID).Logger()

	// By convention the joining (second-arrival) side creates the offer.
	initiator := len(adm.Roster) > 1

	h.sess = session.New(
		p.ID, roomID,
		adm.Endpoint, adm.Events,
		transport, o.Devices,
		initiator, o.SessionCfg,
		func(terminal error) {
			o.Registry.Remove(roomID, p.ID)
			o.drop(h.ID)
			if terminal != nil {
				log.Warn().Err(terminal).Str("module", "orch").Str("handle", h.ID).Msg("session ended with error")
			}
		},
		logger,
	)

	o.mu.Lock()
	o.handles[h.ID] = h
	o.mu.Unlock()

	h.sess.Start(o.rootCtx())
	log.Info().Str("module", "orch").Str("room", string(roomID)).
		Str("participant", string(p.ID)).Bool("initiator", initiator).Msg("joined")
	return h, nil
}

// Leave is the user-initiated exit; same canonical cleanup as EndCall.
func (o *Orchestrator) Leave(h *Handle) error { return o.EndCall(h) }

// EndCall tears the session down. Reentrant-safe: a second call, or a call
// racing the peer's own teardown, is a no-op.
func (o *Orchestrator) EndCall(h *Handle) error {
	if h == nil || h.sess == nil {
		return ErrUnknownHandle
	}
	h.sess.Close(nil)
	return nil
}

// ToggleVideo flips the camera flag; reports the new value.
func (o *Orchestrator) ToggleVideo(h *Handle) (bool, error) {
	if h == nil || h.sess == nil {
		return false, ErrUnknownHandle
	}
	return h.sess.Coordinator().ToggleCamera()
}

// ToggleAudio flips the microphone flag; reports the new value.
func (o *Orchestrator) ToggleAudio(h *Handle) (bool, error) {
	if h == nil || h.sess == nil {
		return false, ErrUnknownHandle
	}
	return h.sess.Coordinator().ToggleMic()
}

// ToggleScreenShare starts the share when idle and stops it when active.
// Reports whether a share is active afterwards.
func (o *Orchestrator) ToggleScreenShare(ctx context.Context, h *Handle) (bool, error) {
	if h == nil || h.sess == nil {
		return false, ErrUnknownHandle
	}
	coord := h.sess.Coordinator()
	if coord.Sharing() {
		return false, coord.StopScreenShare()
	}
	if err := coord.StartScreenShare(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Lookup resolves a handle id issued by Join, for transport adapters that
// address calls by id.
func (o *Orchestrator) Lookup(id string) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[id]
	return h, ok
}

// Session returns the handle's session, for status surfaces.
func (o *Orchestrator) Session(id string) (*session.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[id]
	if !ok {
		return nil, false
	}
	return h.sess, true
}

func (o *Orchestrator) drop(id string) {
	o.mu.Lock()
	delete(o.handles, id)
	o.mu.Unlock()
}

func (o *Orchestrator) rootCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}
