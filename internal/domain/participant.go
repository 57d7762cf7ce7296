package domain

import (
	"errors"
	"time"
)

const MaxParticipantIDLen = 36

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
)

type ParticipantID string

// Role is the display role of a participant inside a session.
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Participant is a room member. It holds a weak back-reference to its room
// via RoomID only; the room owns the membership, not the other way around.
type Participant struct {
	ID       ParticipantID `json:"id"`
	Role     Role          `json:"role"`
	JoinedAt time.Time     `json:"joined_at"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, role Role) (*Participant, error) {
	if len(id) == 0 {
		return nil, ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return nil, ErrParticipantIDTooLong
	}
	if role == "" {
		role = RoleStudent
	}
	return &Participant{ID: id, Role: role, JoinedAt: time.Now()}, nil
}
