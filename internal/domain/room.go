// Package domain contains entities without logic, just meta-data.
package domain

type RoomID string

// RoomStatus is the lifecycle phase of a room.
type RoomStatus int

const (
	RoomScheduled RoomStatus = iota
	RoomLive
	RoomEnded
)

func (s RoomStatus) String() string {
	switch s {
	case RoomScheduled:
		return "scheduled"
	case RoomLive:
		return "live"
	case RoomEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Room is the registry-owned meta of a live session room.
type Room struct {
	ID       RoomID
	Capacity int
	Status   RoomStatus
}
