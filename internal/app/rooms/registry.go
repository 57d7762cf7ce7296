package rooms

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/metrics"
)

// Admission is what a successful admit hands back to the caller.
type Admission struct {
	Room     domain.Room
	Endpoint core.Endpoint
	Roster   []core.ParticipantDTO
	Events   <-chan core.RoomEvent
}

// Registry owns every room. Rooms are created either up front for a
// scheduled session or on first join when auto-create is on, and move to
// Ended when the last participant leaves.
type Registry struct {
	mu              sync.RWMutex
	rooms           map[domain.RoomID]*room
	defaultCapacity int
	autoCreate      bool
}

func NewRegistry(defaultCapacity int, autoCreate bool) *Registry {
	if defaultCapacity <= 0 {
		defaultCapacity = 2
	}
	return &Registry{
		rooms:           make(map[domain.RoomID]*room),
		defaultCapacity: defaultCapacity,
		autoCreate:      autoCreate,
	}
}

// CreateRoom registers a scheduled room ahead of its first join.
func (g *Registry) CreateRoom(id domain.RoomID, capacity int) domain.Room {
	if capacity <= 0 {
		capacity = g.defaultCapacity
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r.metaCopy()
	}
	r := newRoom(domain.Room{ID: id, Capacity: capacity, Status: domain.RoomScheduled})
	g.rooms[id] = r
	metrics.RoomsActive.Inc()
	log.Info().Str("module", "rooms").Str("room", string(id)).Int("capacity", capacity).Msg("room created")
	return r.meta
}

// Admit validates capacity and registers the participant, returning the
// signaling endpoint, roster snapshot and the member's event stream.
func (g *Registry) Admit(roomID domain.RoomID, p *domain.Participant) (*Admission, error) {
	r, err := g.lookupOrCreate(roomID)
	if err != nil {
		return nil, err
	}
	return r.admit(p)
}

// Reattach resumes the admission of a member that is still on the roster,
// for signaling clients that reconnect without leaving.
func (g *Registry) Reattach(roomID domain.RoomID, id domain.ParticipantID) (*Admission, error) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return r.reattach(id)
}

// Remove is idempotent. When the roster becomes empty the room is ended and
// its channel closed.
func (g *Registry) Remove(roomID domain.RoomID, id domain.ParticipantID) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	removed, empty := r.remove(id)
	if removed && empty && r.end() {
		metrics.RoomsActive.Dec()
	}
}

// End force-closes a room regardless of roster state.
func (g *Registry) End(roomID domain.RoomID) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	if r.end() {
		metrics.RoomsActive.Dec()
	}
}

// Status is a read-only lifecycle lookup.
func (g *Registry) Status(roomID domain.RoomID) (domain.RoomStatus, error) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return 0, core.ErrRoomNotFound
	}
	return r.info().Status, nil
}

// Roster returns the current membership snapshot.
func (g *Registry) Roster(roomID domain.RoomID) ([]core.ParticipantDTO, error) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked(), nil
}

func (g *Registry) List() []core.RoomInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r.info())
	}
	return out
}

func (g *Registry) lookupOrCreate(roomID domain.RoomID) (*room, error) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if ok {
		return r, nil
	}
	if !g.autoCreate {
		return nil, core.ErrRoomNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok = g.rooms[roomID]; ok {
		return r, nil
	}
	r = newRoom(domain.Room{ID: roomID, Capacity: g.defaultCapacity, Status: domain.RoomScheduled})
	g.rooms[roomID] = r
	metrics.RoomsActive.Inc()
	log.Info().Str("module", "rooms").Str("room", string(roomID)).Msg("room auto-created on first join")
	return r, nil
}
