package core

import (
	"context"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

// TransportState mirrors the connectivity of the underlying media transport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Track is an opaque handle on a local capture source.
// Owned by the media coordinator that acquired it; no other component may
// mutate a track directly.
type Track interface {
	Kind() domain.TrackKind
	Source() domain.TrackSource
	Enabled() bool
	// SetEnabled flips the live flag without detaching the track, so the
	// remote side sees a disabled indicator rather than a dropped stream.
	SetEnabled(bool)
	// Stop releases the capture source. Idempotent.
	Stop()
}

// Sender is one outbound slot on the transport.
type Sender interface {
	Track() Track
	// ReplaceTrack swaps the published track in place on the same slot.
	// It never triggers renegotiation.
	ReplaceTrack(t Track) error
}

// Transport is the media transport under one peer session. The concrete
// implementation is injected so the negotiation logic stays testable
// without network or hardware.
type Transport interface {
	// CreateOffer produces a local offer SDP; iceRestart flags the offer
	// as an ICE restart for failure recovery.
	CreateOffer(ctx context.Context, iceRestart bool) (string, error)
	// CreateAnswer applies the remote offer and produces the answer SDP.
	CreateAnswer(ctx context.Context, remoteOffer string) (string, error)
	// AcceptAnswer applies the remote answer to a pending local offer.
	AcceptAnswer(remoteAnswer string) error
	AddRemoteCandidate(c Candidate) error
	// OnLocalCandidate sets the trickle callback for gathered candidates.
	OnLocalCandidate(func(Candidate))
	// OnStateChange sets the connectivity callback.
	OnStateChange(func(TransportState))
	// AddTrack attaches a new outbound track and returns its sender slot.
	AddTrack(t Track) (Sender, error)
	// Close releases the transport. Idempotent.
	Close() error
}

// Devices is the platform media-capture surface. Acquisition may suspend
// until the user grants or declines, which is why every call takes a ctx.
type Devices interface {
	AcquireCamera(ctx context.Context) (Track, error)
	AcquireMicrophone(ctx context.Context) (Track, error)
	AcquireScreen(ctx context.Context) (Track, error)
}
