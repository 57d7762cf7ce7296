package rtc

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

const (
	opusPacketInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
	opusClockRate      = 48000
	videoClockRate     = 90000
)

// SyntheticDevices serves generated tracks in place of real hardware. The
// server process has no camera or display, so each acquired track pushes a
// keepalive RTP stream through its slot.
type SyntheticDevices struct{}

func NewSyntheticDevices() *SyntheticDevices { return &SyntheticDevices{} }

func (d *SyntheticDevices) AcquireCamera(_ context.Context) (core.Track, error) {
	return newLocalTrack(domain.TrackKindVideo, domain.SourceCamera)
}

func (d *SyntheticDevices) AcquireMicrophone(_ context.Context) (core.Track, error) {
	return newLocalTrack(domain.TrackKindAudio, domain.SourceMicrophone)
}

func (d *SyntheticDevices) AcquireScreen(_ context.Context) (core.Track, error) {
	return newLocalTrack(domain.TrackKindVideo, domain.SourceScreen)
}

// LocalTrack is a generated capture source bound to a TrackLocalStaticRTP.
type LocalTrack struct {
	kind     domain.TrackKind
	source   domain.TrackSource
	rtpTrack *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	enabled bool
	stopped bool
	stop    chan struct{}
}

func newLocalTrack(kind domain.TrackKind, source domain.TrackSource) (*LocalTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
	if kind == domain.TrackKindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate}
	}
	rtpTrack, err := webrtc.NewTrackLocalStaticRTP(capability, string(source), uuid.NewString())
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{
		kind:     kind,
		source:   source,
		rtpTrack: rtpTrack,
		enabled:  true,
		stop:     make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

// pump writes a steady RTP stream while the track is enabled. Write errors
// mean no sender is bound yet; the packet is simply dropped.
func (t *LocalTrack) pump() {
	interval := opusPacketInterval
	step := uint32(opusClockRate / 50)
	payloadType := uint8(111)
	if t.kind == domain.TrackKindVideo {
		interval = videoFrameInterval
		step = uint32(videoClockRate / 30)
		payloadType = 96
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := uint16(rand.Uint32())
	ts := rand.Uint32()
	ssrc := rand.Uint32()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
		if !t.Enabled() {
			ts += step
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    payloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: make([]byte, 16),
		}
		if err := t.rtpTrack.WriteRTP(pkt); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("source", string(t.source)).Msg("rtp write dropped")
		}
		seq++
		ts += step
	}
}

func (t *LocalTrack) Kind() domain.TrackKind     { return t.kind }
func (t *LocalTrack) Source() domain.TrackSource { return t.source }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Stop halts the generator. Idempotent.
func (t *LocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stop)
}
