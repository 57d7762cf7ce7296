// Package signal implements the per-room ordered signaling relay.
package signal

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/metrics"
)

// Channel relays signaling messages between the participants of one room.
// Delivery per (sender, recipient) pair is in strictly increasing sequence
// order; duplicates and stale sequence numbers are dropped at delivery, so a
// sender may retry a send after a transport hiccup without duplicating
// anything on the receiving side.
type Channel struct {
	roomID domain.RoomID

	mu        sync.Mutex
	closed    bool
	endpoints map[domain.ParticipantID]*endpoint
	nextSeq   map[domain.ParticipantID]uint64
}

func NewChannel(roomID domain.RoomID) *Channel {
	return &Channel{
		roomID:    roomID,
		endpoints: make(map[domain.ParticipantID]*endpoint),
		nextSeq:   make(map[domain.ParticipantID]uint64),
	}
}

// Attach creates (or returns) the endpoint for a participant.
func (c *Channel) Attach(id domain.ParticipantID) core.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.endpoints[id]; ok && !e.isClosed() {
		return e
	}
	e := newEndpoint(c, id)
	c.endpoints[id] = e
	log.Debug().Str("module", "signal").Str("room", string(c.roomID)).Str("participant", string(id)).Msg("endpoint attached")
	return e
}

// Detach closes and removes a participant's endpoint.
func (c *Channel) Detach(id domain.ParticipantID) {
	c.mu.Lock()
	e, ok := c.endpoints[id]
	if ok {
		delete(c.endpoints, id)
	}
	c.mu.Unlock()
	if ok {
		e.close()
	}
}

// Close tears down the channel and every endpoint. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	eps := make([]*endpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		eps = append(eps, e)
	}
	c.endpoints = make(map[domain.ParticipantID]*endpoint)
	c.mu.Unlock()

	for _, e := range eps {
		e.close()
	}
	log.Debug().Str("module", "signal").Str("room", string(c.roomID)).Msg("channel closed")
}

// send relays msg on behalf of an endpoint. A zero Seq is assigned from the
// sender's counter; an explicit Seq is taken as-is and deduplicated at
// delivery.
func (c *Channel) send(from domain.ParticipantID, msg core.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrChannelClosed
	}
	sender, ok := c.endpoints[from]
	if !ok || sender.isClosed() {
		c.mu.Unlock()
		return core.ErrChannelClosed
	}
	msg.From = from
	if msg.Seq == 0 {
		c.nextSeq[from]++
		msg.Seq = c.nextSeq[from]
	} else if msg.Seq > c.nextSeq[from] {
		c.nextSeq[from] = msg.Seq
	}

	var targets []*endpoint
	if msg.To != "" {
		dst, ok := c.endpoints[msg.To]
		if !ok || dst.isClosed() {
			c.mu.Unlock()
			return core.ErrChannelClosed
		}
		targets = []*endpoint{dst}
	} else {
		for id, e := range c.endpoints {
			if id == from {
				continue
			}
			targets = append(targets, e)
		}
	}
	c.mu.Unlock()

	for _, dst := range targets {
		dst.deliver(msg)
	}
	return nil
}

// endpoint is one participant's end of the channel. Undelivered and unacked
// messages are buffered here, which is what makes a resubscribe resume from
// the last acknowledged sequence number instead of replaying from zero.
type endpoint struct {
	ch *Channel
	id domain.ParticipantID

	mu     sync.Mutex
	cond   *sync.Cond
	closed bool

	pending  []core.Message
	cursor   int // index of the next pending message to hand to the pump
	lastSeen map[domain.ParticipantID]uint64
	lastAck  map[domain.ParticipantID]uint64

	gen  uint64
	stop chan struct{}
}

func newEndpoint(ch *Channel, id domain.ParticipantID) *endpoint {
	e := &endpoint{
		ch:       ch,
		id:       id,
		lastSeen: make(map[domain.ParticipantID]uint64),
		lastAck:  make(map[domain.ParticipantID]uint64),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *endpoint) Send(msg core.Message) error {
	if e.isClosed() {
		return core.ErrChannelClosed
	}
	return e.ch.send(e.id, msg)
}

// Subscribe starts (or restarts) the inbound stream. A previous subscription
// is cancelled; unacked messages are replayed first.
func (e *endpoint) Subscribe() <-chan core.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stop != nil {
		close(e.stop)
	}
	e.gen++
	e.stop = make(chan struct{})
	e.cursor = 0
	e.cond.Broadcast()

	out := make(chan core.Message, 16)
	if e.closed {
		close(out)
		return out
	}
	go e.pump(e.gen, out, e.stop)
	return out
}

func (e *endpoint) pump(gen uint64, out chan<- core.Message, stop <-chan struct{}) {
	defer close(out)
	e.mu.Lock()
	for {
		if e.closed || e.gen != gen {
			e.mu.Unlock()
			return
		}
		if e.cursor < len(e.pending) {
			msg := e.pending[e.cursor]
			e.cursor++
			e.mu.Unlock()
			select {
			case out <- msg:
				metrics.SignalsRelayed.Inc()
			case <-stop:
				return
			}
			e.mu.Lock()
			continue
		}
		e.cond.Wait()
	}
}

// deliver enforces per-sender ordering: anything at or below the highest
// sequence number already seen from that sender is dropped.
func (e *endpoint) deliver(msg core.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if msg.Seq <= e.lastSeen[msg.From] {
		metrics.SignalsDropped.Inc()
		log.Debug().Str("module", "signal").Str("participant", string(e.id)).
			Str("from", string(msg.From)).Uint64("seq", msg.Seq).Msg("dropped stale signal")
		return
	}
	e.lastSeen[msg.From] = msg.Seq
	e.pending = append(e.pending, msg)
	e.cond.Broadcast()
}

// Ack prunes everything from the given sender up to seq.
func (e *endpoint) Ack(from domain.ParticipantID, seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq > e.lastAck[from] {
		e.lastAck[from] = seq
	}
	kept := e.pending[:0]
	cursor := e.cursor
	for i, m := range e.pending {
		if m.From == from && m.Seq <= seq {
			if i < e.cursor {
				cursor--
			}
			continue
		}
		kept = append(kept, m)
	}
	e.pending = kept
	e.cursor = cursor
}

func (e *endpoint) Close() { e.ch.Detach(e.id) }

func (e *endpoint) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
