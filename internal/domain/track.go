package domain

// TrackKind is the media kind carried by a track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackSource names the local device a track captures from.
type TrackSource string

const (
	SourceCamera     TrackSource = "camera"
	SourceMicrophone TrackSource = "microphone"
	SourceScreen     TrackSource = "screen"
)

// TrackInfo is a read-only view of one outbound track (no capture fields).
type TrackInfo struct {
	Kind    TrackKind   `json:"kind"`
	Source  TrackSource `json:"source"`
	Enabled bool        `json:"enabled"`
}
