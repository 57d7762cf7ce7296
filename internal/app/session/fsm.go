package session

import "github.com/looplab/fsm"

// Peer session states.
//
// idle          – admitted, nothing exchanged yet;
// negotiating   – offer/answer and trickle ICE in flight;
// connected     – transport reports connectivity;
// renegotiating – outbound track set changed in a way the transport cannot
//                 absorb, fresh offer/answer cycle in flight;
// failed        – ICE failure or negotiation timeout, retry may follow;
// closed        – terminal, all resources released.
const (
	StateIdle          = "idle"
	StateNegotiating   = "negotiating"
	StateConnected     = "connected"
	StateRenegotiating = "renegotiating"
	StateFailed        = "failed"
	StateClosed        = "closed"
)

// Events: negotiate, connected, renegotiate, fail, retry, close.
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "negotiate", Src: []string{StateIdle}, Dst: StateNegotiating},
			{Name: "connected", Src: []string{StateNegotiating, StateRenegotiating}, Dst: StateConnected},
			{Name: "renegotiate", Src: []string{StateConnected}, Dst: StateRenegotiating},
			{Name: "fail", Src: []string{StateNegotiating, StateConnected, StateRenegotiating}, Dst: StateFailed},
			{Name: "retry", Src: []string{StateFailed}, Dst: StateNegotiating},
			{Name: "close", Src: []string{StateIdle, StateNegotiating, StateConnected, StateRenegotiating, StateFailed}, Dst: StateClosed},
		}, nil,
	)
}
