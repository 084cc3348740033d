package rtc

import (
	"github.com/pion/webrtc/v4"
)

// negotiationState is the per-peer sub-state of the signaling handshake.
// Out-of-order messages are rejected against it instead of relying on
// incidental nil checks.
type negotiationState int

const (
	stateNew negotiationState = iota
	stateOfferSent
	stateAnswered
	stateConnected
	stateFailed
)

func (s negotiationState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateOfferSent:
		return "offer-sent"
	case stateAnswered:
		return "answered"
	case stateConnected:
		return "connected"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PeerStatus is what the embedding application sees of a remote peer's
// connection.
type PeerStatus int

const (
	PeerConnecting PeerStatus = iota
	PeerConnected
	// PeerFailed is terminal: the single ICE restart has been spent and no
	// further automatic reconnection is attempted.
	PeerFailed
	PeerGone
)

// peer is one remote participant's connection entry: at most one per remote
// id at any time.
type peer struct {
	id string
	pc *webrtc.PeerConnection

	state       negotiationState
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	// Candidates that arrived before the remote description; applied once
	// it is set.
	pendingCandidates []webrtc.ICECandidateInit

	// A connection gets exactly one ICE restart. If that also fails the
	// entry stays failed and the UI shows the peer as disconnected.
	restarted bool
}

func (p *peer) flushCandidates() error {
	for _, c := range p.pendingCandidates {
		if err := p.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	p.pendingCandidates = nil
	return nil
}
