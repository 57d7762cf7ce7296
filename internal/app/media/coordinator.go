// Package media governs the outbound track set of one peer session.
package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

// AddTrackFunc attaches a brand-new outbound track to the transport. Adding
// a track is what may force a renegotiation, so the session owns this step;
// in-place replacement never goes through it.
type AddTrackFunc func(core.Track) (core.Sender, error)

// Coordinator owns the local capture tracks (camera, microphone, screen)
// and enforces the camera-XOR-screen publish rule: at most one outbound
// video track is enabled at any time. All operations are serialized on one
// mutex, so a second toggle queues behind the first instead of interleaving.
type Coordinator struct {
	mu       sync.Mutex
	devices  core.Devices
	addTrack AddTrackFunc
	logger   zerolog.Logger

	camera core.Track
	mic    core.Track
	screen core.Track

	audioSender core.Sender
	videoSender core.Sender

	sharing          bool
	cameraWasEnabled bool
}

func NewCoordinator(devices core.Devices, addTrack AddTrackFunc, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		devices:  devices,
		addTrack: addTrack,
		logger:   logger.With().Str("module", "media").Logger(),
	}
}

// PublishDefaults acquires microphone and camera and publishes them. A
// missing device is not fatal to the call; the corresponding toggle will
// report DeviceUnavailable later.
func (c *Coordinator) PublishDefaults(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mic == nil {
		mic, err := c.devices.AcquireMicrophone(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("microphone unavailable")
		} else {
			sender, err := c.addTrack(mic)
			if err != nil {
				mic.Stop()
				return err
			}
			c.mic = mic
			c.audioSender = sender
		}
	}
	if c.camera == nil {
		cam, err := c.devices.AcquireCamera(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("camera unavailable")
		} else {
			sender, err := c.addTrack(cam)
			if err != nil {
				cam.Stop()
				return err
			}
			c.camera = cam
			c.videoSender = sender
		}
	}
	return nil
}

// SetCameraEnabled flips the camera flag without detaching the track.
func (c *Coordinator) SetCameraEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.camera == nil {
		return core.ErrDeviceUnavailable
	}
	if c.sharing {
		// Camera is paused behind the screen share; remember the wish
		// so StopScreenShare restores it.
		c.cameraWasEnabled = enabled
		return nil
	}
	c.camera.SetEnabled(enabled)
	c.logger.Debug().Bool("enabled", enabled).Msg("camera toggled")
	return nil
}

// SetMicEnabled flips the microphone flag without detaching the track.
func (c *Coordinator) SetMicEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic == nil {
		return core.ErrDeviceUnavailable
	}
	c.mic.SetEnabled(enabled)
	c.logger.Debug().Bool("enabled", enabled).Msg("microphone toggled")
	return nil
}

// StartScreenShare acquires a screen capture and swaps it into the published
// video slot in place. The camera track is paused, not destroyed, so
// StopScreenShare can restore it with the same replacement.
func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sharing {
		return core.ErrAlreadySharing
	}

	screen, err := c.devices.AcquireScreen(ctx)
	if err != nil {
		return err
	}

	if c.videoSender == nil {
		// No camera was ever published; the share opens the video slot.
		sender, err := c.addTrack(screen)
		if err != nil {
			screen.Stop()
			return err
		}
		c.videoSender = sender
	} else {
		if err := c.videoSender.ReplaceTrack(screen); err != nil {
			screen.Stop()
			return err
		}
	}

	if c.camera != nil {
		c.cameraWasEnabled = c.camera.Enabled()
		c.camera.SetEnabled(false)
	}
	c.screen = screen
	c.sharing = true
	c.logger.Info().Msg("screen share started")
	return nil
}

// StopScreenShare restores the camera into the published slot. Idempotent
// when no share is active.
func (c *Coordinator) StopScreenShare() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sharing {
		return nil
	}

	if c.camera != nil {
		if err := c.videoSender.ReplaceTrack(c.camera); err != nil {
			return err
		}
		c.camera.SetEnabled(c.cameraWasEnabled)
	}
	if c.screen != nil {
		c.screen.Stop()
		c.screen = nil
	}
	c.sharing = false
	c.logger.Info().Msg("screen share stopped")
	return nil
}

// ToggleCamera inverts the camera flag atomically and reports the new value.
func (c *Coordinator) ToggleCamera() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.camera == nil {
		return false, core.ErrDeviceUnavailable
	}
	if c.sharing {
		c.cameraWasEnabled = !c.cameraWasEnabled
		return c.cameraWasEnabled, nil
	}
	next := !c.camera.Enabled()
	c.camera.SetEnabled(next)
	c.logger.Debug().Bool("enabled", next).Msg("camera toggled")
	return next, nil
}

// ToggleMic inverts the microphone flag atomically and reports the new value.
func (c *Coordinator) ToggleMic() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic == nil {
		return false, core.ErrDeviceUnavailable
	}
	next := !c.mic.Enabled()
	c.mic.SetEnabled(next)
	c.logger.Debug().Bool("enabled", next).Msg("microphone toggled")
	return next, nil
}

// Sharing reports whether a screen share is active.
func (c *Coordinator) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// Tracks is a read-only snapshot of the outbound set.
func (c *Coordinator) Tracks() []domain.TrackInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.TrackInfo
	for _, t := range []core.Track{c.mic, c.camera, c.screen} {
		if t != nil {
			out = append(out, domain.TrackInfo{Kind: t.Kind(), Source: t.Source(), Enabled: t.Enabled()})
		}
	}
	return out
}

// EnabledVideoCount counts enabled outbound video tracks; the coordinator
// keeps this at most 1.
func (c *Coordinator) EnabledVideoCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range []core.Track{c.camera, c.screen} {
		if t != nil && t.Enabled() {
			n++
		}
	}
	return n
}

// ReleaseAll stops every owned track. Idempotent; used by session teardown.
func (c *Coordinator) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range []core.Track{c.mic, c.camera, c.screen} {
		if t != nil {
			t.Stop()
		}
	}
	c.mic, c.camera, c.screen = nil, nil, nil
	c.audioSender, c.videoSender = nil, nil
	c.sharing = false
	c.logger.Debug().Msg("all tracks released")
}
