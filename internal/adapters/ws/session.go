package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/rooms"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

func (ctl *Controller) handleJoin(ctx context.Context, cl *client, data []byte) {
	type joinPayload struct {
		Type string `json:"type"`
		Room string `json:"room"`
		Role string `json:"role,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad join payload")
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(cl.id) {
		log.Warn().Str("module", "ws").Str("participant", string(cl.id)).Msg("join rate limited")
		ctl.sendError(cl.conn, "too_many_joins")
		return
	}

	role := domain.RoleStudent
	if p.Role == string(domain.RoleTutor) {
		role = domain.RoleTutor
	}
	participant, err := domain.NewParticipant(cl.id, role)
	if err != nil {
		ctl.sendError(cl.conn, "bad_participant")
		return
	}

	roomID := domain.RoomID(p.Room)
	adm, err := ctl.Registry.Admit(roomID, participant)
	if errors.Is(err, core.ErrAlreadyJoined) {
		// Same participant reconnecting: resume the existing endpoint so
		// unacked signals replay instead of being lost.
		adm, err = ctl.Registry.Reattach(roomID, cl.id)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("room", p.Room).Str("participant", string(cl.id)).Msg("join refused")
		ctl.sendError(cl.conn, joinErrorCode(err))
		return
	}

	ctl.bind(ctx, cl, roomID, adm)

	log.Info().Str("module", "ws").Str("participant", string(cl.id)).Str("room", p.Room).Msg("join")
	ctl.sendJSON(cl.conn, struct {
		Type     string                `json:"type"`
		Room     domain.RoomID         `json:"room"`
		Self     domain.ParticipantID  `json:"self"`
		Roster   []core.ParticipantDTO `json:"roster"`
		Capacity int                   `json:"capacity"`
	}{
		Type:     "room_state",
		Room:     adm.Room.ID,
		Self:     cl.id,
		Roster:   adm.Roster,
		Capacity: adm.Room.Capacity,
	})
}

// bind swaps the client onto the admitted room and restarts its relay loop.
func (ctl *Controller) bind(ctx context.Context, cl *client, roomID domain.RoomID, adm *rooms.Admission) {
	cl.mu.Lock()
	if cl.stopRelay != nil {
		cl.stopRelay()
	}
	relayCtx, cancel := context.WithCancel(ctx)
	cl.roomID = roomID
	cl.endpoint = adm.Endpoint
	cl.stopRelay = cancel
	cl.mu.Unlock()

	go ctl.relay(relayCtx, cl, adm.Endpoint.Subscribe(), adm.Events)
}

// relay pumps inbound signals and roster events to the socket. Acks are the
// client's responsibility, so an unacked backlog survives a reconnect.
func (ctl *Controller) relay(ctx context.Context, cl *client, inbox <-chan core.Message, events <-chan core.RoomEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				ctl.sendJSON(cl.conn, map[string]any{"type": "channel_closed"})
				return
			}
			ctl.sendJSON(cl.conn, msg)
		case ev, ok := <-events:
			if !ok {
				return
			}
			ctl.sendJSON(cl.conn, ev)
		}
	}
}

func (ctl *Controller) handleLeave(cl *client) {
	log.Info().Str("module", "ws").Str("participant", string(cl.id)).Msg("leave")
	ctl.dropFromRoom(cl)
	ctl.sendJSON(cl.conn, map[string]any{"type": "left"})
}

func (ctl *Controller) handleAck(cl *client, data []byte) {
	var p struct {
		From domain.ParticipantID `json:"from"`
		Seq  uint64               `json:"seq"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	cl.mu.Lock()
	ep := cl.endpoint
	cl.mu.Unlock()
	if ep == nil {
		ctl.sendError(cl.conn, "not_joined")
		return
	}
	ep.Ack(p.From, p.Seq)
}

// handleRelay forwards an offer/answer/candidate/bye envelope into the room
// channel. The client's own seq is kept so retried sends deduplicate.
func (ctl *Controller) handleRelay(cl *client, data []byte) {
	var msg core.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	cl.mu.Lock()
	ep := cl.endpoint
	cl.mu.Unlock()
	if ep == nil {
		ctl.sendError(cl.conn, "not_joined")
		return
	}
	if err := ep.Send(msg); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("participant", string(cl.id)).
			Str("type", string(msg.Type)).Msg("relay failed")
		ctl.sendError(cl.conn, "channel_closed")
	}
}

// dropFromRoom removes the client from its room, if any. Idempotent.
func (ctl *Controller) dropFromRoom(cl *client) {
	cl.mu.Lock()
	roomID := cl.roomID
	stop := cl.stopRelay
	cl.roomID = ""
	cl.endpoint = nil
	cl.stopRelay = nil
	cl.mu.Unlock()

	if stop != nil {
		stop()
	}
	if roomID != "" {
		ctl.Registry.Remove(roomID, cl.id)
	}
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrRoomFull):
		return "room_full"
	case errors.Is(err, core.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, core.ErrAlreadyJoined):
		return "already_joined"
	default:
		return "join_failed"
	}
}
