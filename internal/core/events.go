package core

import "github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"

// RoomEventType tags membership-change notifications.
type RoomEventType string

const (
	EventParticipantJoined RoomEventType = "participant-joined"
	EventParticipantLeft   RoomEventType = "participant-left"
	EventRoomClosed        RoomEventType = "room-closed"
)

// RoomEvent is fanned out to every remaining member when the roster changes.
// Peer sessions consume these to decide whether to keep negotiating or close.
type RoomEvent struct {
	Type        RoomEventType        `json:"type"`
	Room        domain.RoomID        `json:"room"`
	Participant domain.ParticipantID `json:"participant,omitempty"`
}

// ParticipantDTO is a read-only roster view for APIs (no transport fields).
type ParticipantDTO struct {
	ID   domain.ParticipantID `json:"id"`
	Role domain.Role          `json:"role"`
}

// RoomInfo is the list view of a room.
type RoomInfo struct {
	ID               domain.RoomID     `json:"id"`
	Status           domain.RoomStatus `json:"-"`
	StatusName       string            `json:"status"`
	Capacity         int               `json:"capacity"`
	ParticipantCount int               `json:"participant_count"`
}
