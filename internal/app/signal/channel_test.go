package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

func recv(t *testing.T, ch <-chan core.Message) core.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return core.Message{}
}

func expectNone(t *testing.T, ch <-chan core.Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendAssignsIncreasingSeq(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")
	b := ch.Attach("bob")

	inbox := b.Subscribe()
	require.NoError(t, a.Send(core.Message{Type: core.MessageOffer, To: "bob", SDP: "one"}))
	require.NoError(t, a.Send(core.Message{Type: core.MessageCandidate, To: "bob"}))
	require.NoError(t, a.Send(core.Message{Type: core.MessageCandidate, To: "bob"}))

	m1 := recv(t, inbox)
	m2 := recv(t, inbox)
	m3 := recv(t, inbox)
	assert.Equal(t, uint64(1), m1.Seq)
	assert.Equal(t, uint64(2), m2.Seq)
	assert.Equal(t, uint64(3), m3.Seq)
	assert.Equal(t, domain.ParticipantID("alice"), m1.From)
}

func TestStaleAndDuplicateSeqDropped(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")
	b := ch.Attach("bob")

	inbox := b.Subscribe()
	require.NoError(t, a.Send(core.Message{Type: core.MessageOffer, To: "bob", Seq: 5, SDP: "first"}))
	// Retry of the same message and an older one must both vanish.
	require.NoError(t, a.Send(core.Message{Type: core.MessageOffer, To: "bob", Seq: 5, SDP: "dup"}))
	require.NoError(t, a.Send(core.Message{Type: core.MessageOffer, To: "bob", Seq: 4, SDP: "stale"}))
	require.NoError(t, a.Send(core.Message{Type: core.MessageOffer, To: "bob", Seq: 6, SDP: "second"}))

	assert.Equal(t, "first", recv(t, inbox).SDP)
	assert.Equal(t, "second", recv(t, inbox).SDP)
	expectNone(t, inbox)
}

func TestResubscribeResumesFromLastAck(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")
	b := ch.Attach("bob")

	inbox := b.Subscribe()
	require.NoError(t, a.Send(core.Message{Type: core.MessageCandidate, To: "bob"}))
	require.NoError(t, a.Send(core.Message{Type: core.MessageCandidate, To: "bob"}))
	require.NoError(t, a.Send(core.Message{Type: core.MessageCandidate, To: "bob"}))

	recv(t, inbox)
	recv(t, inbox)
	recv(t, inbox)
	b.Ack("alice", 2)

	// A resubscribe replays only what was never acknowledged.
	inbox2 := b.Subscribe()
	replayed := recv(t, inbox2)
	assert.Equal(t, uint64(3), replayed.Seq)
	expectNone(t, inbox2)
}

func TestBroadcastSkipsSender(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")
	b := ch.Attach("bob")
	c := ch.Attach("carol")

	inboxA := a.Subscribe()
	inboxB := b.Subscribe()
	inboxC := c.Subscribe()

	require.NoError(t, a.Send(core.Message{Type: core.MessageBye}))
	assert.Equal(t, core.MessageBye, recv(t, inboxB).Type)
	assert.Equal(t, core.MessageBye, recv(t, inboxC).Type)
	expectNone(t, inboxA)
}

func TestUnicastToMissingRecipient(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")

	err := a.Send(core.Message{Type: core.MessageOffer, To: "ghost"})
	assert.ErrorIs(t, err, core.ErrChannelClosed)
}

func TestSendAfterChannelClose(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")
	ch.Close()

	err := a.Send(core.Message{Type: core.MessageOffer})
	assert.ErrorIs(t, err, core.ErrChannelClosed)
}

func TestSubscribeAfterCloseYieldsClosedStream(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")
	ch.Close()

	_, ok := <-a.Subscribe()
	assert.False(t, ok)
}

func TestDetachedEndpointStopsReceiving(t *testing.T) {
	ch := NewChannel("r1")
	a := ch.Attach("alice")
	b := ch.Attach("bob")

	inbox := b.Subscribe()
	ch.Detach("bob")

	_, ok := <-inbox
	assert.False(t, ok)
	assert.ErrorIs(t, a.Send(core.Message{Type: core.MessageOffer, To: "bob"}), core.ErrChannelClosed)
}
