package core

import "github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"

// MessageType tags the signaling payload union.
type MessageType string

const (
	MessageOffer     MessageType = "offer"
	MessageAnswer    MessageType = "answer"
	MessageCandidate MessageType = "candidate"
	MessageBye       MessageType = "bye"
)

// Candidate is a trickled ICE candidate in wire form.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// Message is the signaling wire envelope. Seq is per-sender monotonically
// increasing within a room; an empty To means room broadcast.
// Messages are ephemeral, they exist only in transit.
type Message struct {
	Type      MessageType          `json:"type"`
	Seq       uint64               `json:"seq"`
	From      domain.ParticipantID `json:"from"`
	To        domain.ParticipantID `json:"to,omitempty"`
	SDP       string               `json:"sdp,omitempty"`
	Restart   bool                 `json:"restart,omitempty"`
	Candidate *Candidate           `json:"candidate,omitempty"`
}

// Endpoint is one participant's handle on a room's signaling channel.
// Owned by the registry admit path; Close is idempotent.
type Endpoint interface {
	// Send relays a message to its recipient (or the whole room when
	// msg.To is empty). A zero Seq is assigned by the channel; a caller
	// retrying with an explicit Seq is deduplicated at delivery.
	Send(msg Message) error
	// Subscribe returns the inbound stream. Resubscribing resumes from
	// the last acked sequence numbers, not from zero.
	Subscribe() <-chan Message
	// Ack marks everything from the given sender up to seq as consumed.
	Ack(from domain.ParticipantID, seq uint64)
	Close()
}
