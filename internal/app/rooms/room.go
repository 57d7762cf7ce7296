// Package rooms tracks room lifecycle, membership and capacity.
package rooms

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/signal"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

// member pairs participant meta with its registry-owned event stream.
type member struct {
	meta   *domain.Participant
	events chan core.RoomEvent
}

// room is a threadsafe in-memory room. All membership mutations are
// serialized on its mutex so two racing joins cannot both take the last
// slot.
type room struct {
	mu      sync.Mutex
	meta    domain.Room
	channel *signal.Channel
	members map[domain.ParticipantID]*member
	order   []domain.ParticipantID
}

func newRoom(meta domain.Room) *room {
	return &room{
		meta:    meta,
		channel: signal.NewChannel(meta.ID),
		members: make(map[domain.ParticipantID]*member),
	}
}

func (r *room) admit(p *domain.Participant) (*Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.meta.Status == domain.RoomEnded {
		return nil, core.ErrRoomNotFound
	}
	if _, ok := r.members[p.ID]; ok {
		return nil, core.ErrAlreadyJoined
	}
	if len(r.members) >= r.meta.Capacity {
		return nil, core.ErrRoomFull
	}

	m := &member{meta: p, events: make(chan core.RoomEvent, 16)}
	r.members[p.ID] = m
	r.order = append(r.order, p.ID)
	r.meta.Status = domain.RoomLive

	r.emitLocked(core.RoomEvent{
		Type:        core.EventParticipantJoined,
		Room:        r.meta.ID,
		Participant: p.ID,
	}, p.ID)

	log.Info().Str("module", "rooms").Str("room", string(r.meta.ID)).
		Str("participant", string(p.ID)).Int("count", len(r.members)).Msg("participant admitted")

	return &Admission{
		Room:     r.meta,
		Endpoint: r.channel.Attach(p.ID),
		Roster:   r.rosterLocked(),
		Events:   m.events,
	}, nil
}

// reattach re-issues the admission of an existing member, keeping its
// signaling endpoint (and therefore its unacked backlog) intact.
func (r *room) reattach(id domain.ParticipantID) (*Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta.Status == domain.RoomEnded {
		return nil, core.ErrRoomNotFound
	}
	m, ok := r.members[id]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return &Admission{
		Room:     r.meta,
		Endpoint: r.channel.Attach(id),
		Roster:   r.rosterLocked(),
		Events:   m.events,
	}, nil
}

// remove is idempotent; removing a non-member is a no-op. The second return
// reports whether the roster became empty.
func (r *room) remove(id domain.ParticipantID) (removed, empty bool) {
	r.mu.Lock()
	m, ok := r.members[id]
	if !ok {
		r.mu.Unlock()
		return false, false
	}
	delete(r.members, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	close(m.events)
	r.emitLocked(core.RoomEvent{
		Type:        core.EventParticipantLeft,
		Room:        r.meta.ID,
		Participant: id,
	}, id)
	empty = len(r.members) == 0
	r.mu.Unlock()

	r.channel.Detach(id)
	log.Info().Str("module", "rooms").Str("room", string(r.meta.ID)).
		Str("participant", string(id)).Bool("empty", empty).Msg("participant removed")
	return true, empty
}

// end reports whether the room actually transitioned; ending an already
// ended room is a no-op.
func (r *room) end() bool {
	r.mu.Lock()
	if r.meta.Status == domain.RoomEnded {
		r.mu.Unlock()
		return false
	}
	r.meta.Status = domain.RoomEnded
	stale := r.members
	r.members = make(map[domain.ParticipantID]*member)
	r.order = nil
	for id, m := range stale {
		r.emitTo(m, core.RoomEvent{Type: core.EventRoomClosed, Room: r.meta.ID, Participant: id})
		close(m.events)
	}
	r.mu.Unlock()

	r.channel.Close()
	log.Info().Str("module", "rooms").Str("room", string(r.meta.ID)).Msg("room ended")
	return true
}

// emitLocked fans an event out to every member except the subject.
func (r *room) emitLocked(ev core.RoomEvent, except domain.ParticipantID) {
	for id, m := range r.members {
		if id == except {
			continue
		}
		r.emitTo(m, ev)
	}
}

// emitTo never blocks; a member that stopped draining its events loses them.
func (r *room) emitTo(m *member, ev core.RoomEvent) {
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("module", "rooms").Str("room", string(r.meta.ID)).
			Str("participant", string(m.meta.ID)).Str("event", string(ev.Type)).Msg("event dropped, slow consumer")
	}
}

func (r *room) rosterLocked() []core.ParticipantDTO {
	out := make([]core.ParticipantDTO, 0, len(r.order))
	for _, id := range r.order {
		if m, ok := r.members[id]; ok {
			out = append(out, core.ParticipantDTO{ID: m.meta.ID, Role: m.meta.Role})
		}
	}
	return out
}

func (r *room) metaCopy() domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

func (r *room) info() core.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.RoomInfo{
		ID:               r.meta.ID,
		Status:           r.meta.Status,
		StatusName:       r.meta.Status.String(),
		Capacity:         r.meta.Capacity,
		ParticipantCount: len(r.members),
	}
}
