package orch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/admission"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/rooms"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/session"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/ice"
)

type nopTransport struct {
	mu      sync.Mutex
	stateCB func(core.TransportState)
}

func (f *nopTransport) CreateOffer(context.Context, bool) (string, error) { return "offer", nil }
func (f *nopTransport) CreateAnswer(context.Context, string) (string, error) {
	return "answer", nil
}
func (f *nopTransport) AcceptAnswer(string) error               { return nil }
func (f *nopTransport) AddRemoteCandidate(core.Candidate) error { return nil }
func (f *nopTransport) OnLocalCandidate(func(core.Candidate))   {}
func (f *nopTransport) OnStateChange(fn func(core.TransportState)) {
	f.mu.Lock()
	f.stateCB = fn
	f.mu.Unlock()
}
func (f *nopTransport) AddTrack(t core.Track) (core.Sender, error) { return &nopSender{track: t}, nil }
func (f *nopTransport) Close() error                               { return nil }

type nopSender struct{ track core.Track }

func (s *nopSender) Track() core.Track             { return s.track }
func (s *nopSender) ReplaceTrack(core.Track) error { return nil }

type nopTrack struct {
	kind    domain.TrackKind
	source  domain.TrackSource
	enabled atomic.Bool
}

func (t *nopTrack) Kind() domain.TrackKind     { return t.kind }
func (t *nopTrack) Source() domain.TrackSource { return t.source }
func (t *nopTrack) Enabled() bool              { return t.enabled.Load() }
func (t *nopTrack) SetEnabled(v bool)          { t.enabled.Store(v) }
func (t *nopTrack) Stop()                      {}

type nopDevices struct{}

func (nopDevices) AcquireCamera(context.Context) (core.Track, error) {
	t := &nopTrack{kind: domain.TrackKindVideo, source: domain.SourceCamera}
	t.enabled.Store(true)
	return t, nil
}

func (nopDevices) AcquireMicrophone(context.Context) (core.Track, error) {
	t := &nopTrack{kind: domain.TrackKindAudio, source: domain.SourceMicrophone}
	t.enabled.Store(true)
	return t, nil
}

func (nopDevices) AcquireScreen(context.Context) (core.Track, error) {
	t := &nopTrack{kind: domain.TrackKindVideo, source: domain.SourceScreen}
	t.enabled.Store(true)
	return t, nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o := &Orchestrator{
		Registry:     rooms.NewRegistry(2, true),
		NewTransport: func([]ice.Server) (core.Transport, error) { return &nopTransport{}, nil },
		Devices:      nopDevices{},
		SessionCfg: session.Config{
			NegotiationTimeout: 2 * time.Second,
			RetryBudget:        1,
			RetryBackoff:       20 * time.Millisecond,
			DeviceTimeout:      time.Second,
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o.Start(ctx)
	return o
}

func TestJoinAndEndCall(t *testing.T) {
	o := newTestOrchestrator(t)

	h, err := o.Join(context.Background(), "r1", "tutor-1", domain.RoleTutor)
	require.NoError(t, err)
	require.NotNil(t, h)

	roster, err := o.Registry.Roster("r1")
	require.NoError(t, err)
	assert.Len(t, roster, 1)

	require.NoError(t, o.EndCall(h))
	status, err := o.Registry.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomEnded, status)

	// Ending an already-ended call is a no-op.
	assert.NoError(t, o.EndCall(h))
}

func TestEndCallOnNilHandle(t *testing.T) {
	o := newTestOrchestrator(t)
	assert.ErrorIs(t, o.EndCall(nil), ErrUnknownHandle)
}

func TestRoomFullOnThirdJoin(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Join(context.Background(), "r1", "tutor-1", domain.RoleTutor)
	require.NoError(t, err)
	_, err = o.Join(context.Background(), "r1", "student-1", domain.RoleStudent)
	require.NoError(t, err)

	_, err = o.Join(context.Background(), "r1", "student-2", domain.RoleStudent)
	assert.ErrorIs(t, err, core.ErrRoomFull)
}

func TestCancelledJoinLeavesNoRosterEntry(t *testing.T) {
	o := newTestOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Join(ctx, "r1", "tutor-1", domain.RoleTutor)
	require.ErrorIs(t, err, context.Canceled)

	// The compensating remove ended the briefly-live room.
	status, err := o.Registry.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomEnded, status)
}

func TestInvalidParticipantID(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Join(context.Background(), "r1", domain.ParticipantID(""), domain.RoleStudent)
	assert.ErrorIs(t, err, domain.ErrParticipantIDEmpty)
}

func TestAdmissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	o := newTestOrchestrator(t)
	o.Admission = admission.NewClient(srv.URL, time.Second)

	_, err := o.Join(context.Background(), "r1", "tutor-1", domain.RoleTutor)
	assert.ErrorIs(t, err, core.ErrAdmissionDenied)

	_, err = o.Registry.Status("r1")
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
}

func TestAdmissionGrantOverridesRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"roomId":"granted-room","participantId":"granted-id"}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t)
	o.Admission = admission.NewClient(srv.URL, time.Second)

	h, err := o.Join(context.Background(), "requested-room", "tutor-1", domain.RoleTutor)
	require.NoError(t, err)

	roster, err := o.Registry.Roster("granted-room")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, domain.ParticipantID("granted-id"), roster[0].ID)
	require.NoError(t, o.EndCall(h))
}

func TestMediaToggles(t *testing.T) {
	o := newTestOrchestrator(t)

	h, err := o.Join(context.Background(), "r1", "tutor-1", domain.RoleTutor)
	require.NoError(t, err)

	// Default tracks publish enabled; wait for the session loop to finish
	// device acquisition.
	require.Eventually(t, func() bool {
		sess, ok := o.Session(h.ID)
		return ok && len(sess.Coordinator().Tracks()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	on, err := o.ToggleVideo(h)
	require.NoError(t, err)
	assert.False(t, on)
	on, err = o.ToggleVideo(h)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = o.ToggleAudio(h)
	require.NoError(t, err)
	assert.False(t, on)

	sharing, err := o.ToggleScreenShare(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, sharing)
	sharing, err = o.ToggleScreenShare(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, sharing)

	require.NoError(t, o.Leave(h))
}

func TestLeaveReleasesHandle(t *testing.T) {
	o := newTestOrchestrator(t)

	h, err := o.Join(context.Background(), "r1", "tutor-1", domain.RoleTutor)
	require.NoError(t, err)
	require.NoError(t, o.Leave(h))

	_, ok := o.Session(h.ID)
	assert.False(t, ok)
}
