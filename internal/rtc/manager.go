// Package rtc owns the set of per-peer WebRTC connections for the local
// participant: offer/answer negotiation, ICE relay wiring, in-band mute and
// screen-share track replacement.
package rtc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/classlive/classroom-rtc/internal/media"
	"github.com/classlive/classroom-rtc/internal/protocol"
)

// Default delay between consecutive offers when joining a populated room.
// Initiating N simultaneous negotiations is legal but a short stagger keeps
// the signaling channel from bursting.
const DefaultOfferStagger = 150 * time.Millisecond

// SignalSender delivers envelopes to the signaling server. Satisfied by
// signaling.Client.
type SignalSender interface {
	Send(env *protocol.Envelope)
}

// Manager maintains one connection per remote participant in the room and
// keeps them synchronized with the local media state.
type Manager struct {
	localID string
	sender  SignalSender
	rtcCfg  webrtc.Configuration

	mu     sync.Mutex
	peers  map[string]*peer
	local  *media.Bundle
	screen *media.Bundle
	closed bool

	// OnRemoteTrack is invoked for every media track a remote peer sends.
	OnRemoteTrack func(peerID string, track *webrtc.TrackRemote)
	// OnPeerStatus is invoked on connection-state transitions visible to
	// the UI.
	OnPeerStatus func(peerID string, status PeerStatus)
}

// NewManager creates a manager seeded with STUN configuration and the local
// media bundle acquired from a Source.
func NewManager(localID string, stunURLs []string, sender SignalSender, local *media.Bundle) *Manager {
	cfg := webrtc.Configuration{}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}
	return &Manager{
		localID: localID,
		sender:  sender,
		rtcCfg:  cfg,
		peers:   make(map[string]*peer),
		local:   local,
	}
}

// Peers returns the ids of all current connection entries.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// ensurePeer returns the entry for remoteID, building the connection if
// absent: local tracks attached, remote-track, ICE and state callbacks
// wired. Caller holds m.mu.
func (m *Manager) ensurePeer(remoteID string) (*peer, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if p, ok := m.peers[remoteID]; ok {
		return p, nil
	}

	pc, err := webrtc.NewPeerConnection(m.rtcCfg)
	if err != nil {
		return nil, opErr("create peer connection", remoteID, err)
	}

	p := &peer{id: remoteID, pc: pc, state: stateNew}

	if m.local != nil && m.local.Audio != nil {
		sender, err := pc.AddTrack(m.local.Audio.Local())
		if err != nil {
			pc.Close()
			return nil, opErr("add audio track", remoteID, err)
		}
		p.audioSender = sender
	}
	outVideo := m.outgoingVideo()
	if outVideo != nil {
		sender, err := pc.AddTrack(outVideo.Local())
		if err != nil {
			pc.Close()
			return nil, opErr("add video track", remoteID, err)
		}
		p.videoSender = sender
	}

	// Kinds with no local track still negotiate a receive direction, so a
	// view-only participant (no camera or microphone) gets remote media.
	if p.audioSender == nil {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, opErr("add audio transceiver", remoteID, err)
		}
	}
	if p.videoSender == nil {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, opErr("add video transceiver", remoteID, err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Debug("remote track", "peer", remoteID, "kind", track.Kind())
		if m.OnRemoteTrack != nil {
			m.OnRemoteTrack(remoteID, track)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidate, err := json.Marshal(c.ToJSON())
		if err != nil {
			slog.Warn("failed to marshal ICE candidate", "peer", remoteID, "error", err)
			return
		}
		env, err := protocol.NewEnvelope(protocol.TypeICECandidate, protocol.Signal{
			SenderID:  m.localID,
			TargetID:  remoteID,
			Candidate: candidate,
		})
		if err != nil {
			slog.Warn("failed to encode ICE candidate", "peer", remoteID, "error", err)
			return
		}
		m.sender.Send(env)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			m.setStatus(remoteID, stateConnected, PeerConnected)
		case webrtc.PeerConnectionStateFailed:
			go m.handleFailed(remoteID)
		}
	})

	m.peers[remoteID] = p
	return p, nil
}

// outgoingVideo is the track currently feeding peers: the screen share when
// one is active, the camera otherwise. Caller holds m.mu.
func (m *Manager) outgoingVideo() *media.Track {
	if m.screen != nil && m.screen.Video != nil {
		return m.screen.Video
	}
	if m.local != nil {
		return m.local.Video
	}
	return nil
}

func (m *Manager) setStatus(remoteID string, s negotiationState, status PeerStatus) {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	if ok {
		p.state = s
	}
	m.mu.Unlock()
	if ok && m.OnPeerStatus != nil {
		m.OnPeerStatus(remoteID, status)
	}
}

// handleFailed attempts exactly one ICE restart. A second failure leaves the
// entry terminally failed; the UI shows the peer as disconnected and no
// reconnection loop runs, since the remote may simply have left.
func (m *Manager) handleFailed(remoteID string) {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if p.restarted {
		p.state = stateFailed
		m.mu.Unlock()
		slog.Warn("peer connection failed after ICE restart", "peer", remoteID)
		if m.OnPeerStatus != nil {
			m.OnPeerStatus(remoteID, PeerFailed)
		}
		return
	}
	p.restarted = true

	slog.Info("peer connection failed, attempting ICE restart", "peer", remoteID)
	err := m.offerLocked(p, &webrtc.OfferOptions{ICERestart: true})
	m.mu.Unlock()
	if err != nil {
		slog.Warn("ICE restart failed", "peer", remoteID, "error", err)
		m.setStatus(remoteID, stateFailed, PeerFailed)
	}
}

// SendOffer creates the connection for remoteID if absent and sends an SDP
// offer through the relay.
func (m *Manager) SendOffer(remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.ensurePeer(remoteID)
	if err != nil {
		return err
	}
	return m.offerLocked(p, nil)
}

func (m *Manager) offerLocked(p *peer, opts *webrtc.OfferOptions) error {
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return opErr("create offer", p.id, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return opErr("set local description", p.id, err)
	}

	desc, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return opErr("marshal offer", p.id, err)
	}
	env, err := protocol.NewEnvelope(protocol.TypeOffer, protocol.Signal{
		SenderID:    m.localID,
		TargetID:    p.id,
		Description: desc,
	})
	if err != nil {
		return opErr("encode offer", p.id, err)
	}
	m.sender.Send(env)
	p.state = stateOfferSent
	return nil
}

// OfferAll sends offers to every given peer with a stagger delay between
// them. Used when joining a room with existing members; runs asynchronously
// so message processing is never stalled behind negotiation.
func (m *Manager) OfferAll(ctx context.Context, remoteIDs []string, stagger time.Duration) {
	if stagger <= 0 {
		stagger = DefaultOfferStagger
	}
	go func() {
		for i, id := range remoteIDs {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(stagger):
				}
			}
			if err := m.SendOffer(id); err != nil {
				slog.Warn("failed to send offer", "peer", id, "error", err)
			}
		}
	}()
}

// HandleOffer answers an incoming offer, creating the connection if absent.
func (m *Manager) HandleOffer(remoteID string, description []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.ensurePeer(remoteID)
	if err != nil {
		return err
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(description, &offer); err != nil {
		return opErr("parse offer", remoteID, err)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return opErr("set remote description", remoteID, err)
	}
	if err := p.flushCandidates(); err != nil {
		return opErr("apply buffered candidates", remoteID, err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return opErr("create answer", remoteID, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return opErr("set local description", remoteID, err)
	}

	desc, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return opErr("marshal answer", remoteID, err)
	}
	env, err := protocol.NewEnvelope(protocol.TypeAnswer, protocol.Signal{
		SenderID:    m.localID,
		TargetID:    remoteID,
		Description: desc,
	})
	if err != nil {
		return opErr("encode answer", remoteID, err)
	}
	m.sender.Send(env)
	p.state = stateAnswered
	return nil
}

// HandleAnswer applies an answer to the pending offer for remoteID. An
// answer with no connection, or one arriving before any offer was sent, is a
// protocol violation: rejected with an error for the caller to log, never a
// crash.
func (m *Manager) HandleAnswer(remoteID string, description []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[remoteID]
	if !ok {
		return opErr("handle answer", remoteID, ErrNoConnection)
	}
	if p.state != stateOfferSent && p.state != stateConnected {
		return opErr("handle answer", remoteID, ErrUnexpectedState)
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(description, &answer); err != nil {
		return opErr("parse answer", remoteID, err)
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return opErr("set remote description", remoteID, err)
	}
	if err := p.flushCandidates(); err != nil {
		return opErr("apply buffered candidates", remoteID, err)
	}
	if p.state == stateOfferSent {
		p.state = stateAnswered
	}
	return nil
}

// HandleCandidate applies a remote ICE candidate, buffering it if the remote
// description is not set yet.
func (m *Manager) HandleCandidate(remoteID string, candidate []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[remoteID]
	if !ok {
		return opErr("handle candidate", remoteID, ErrNoConnection)
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return opErr("parse candidate", remoteID, err)
	}

	if p.pc.RemoteDescription() == nil {
		p.pendingCandidates = append(p.pendingCandidates, init)
		return nil
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return opErr("add candidate", remoteID, err)
	}
	return nil
}

// ToggleAudio flips the local audio mute state in band and returns the new
// enabled value. No renegotiation happens.
func (m *Manager) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil || m.local.Audio == nil {
		return false
	}
	return m.local.Audio.Toggle()
}

// ToggleVideo flips the local camera mute state in band and returns the new
// enabled value.
func (m *Manager) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil || m.local.Video == nil {
		return false
	}
	return m.local.Video.Toggle()
}

// StartScreenShare opens the display source and swaps its video track into
// every existing connection in place. Track replacement keeps the negotiated
// SDP untouched, so no offer/answer cycle runs. When the share's source ends
// on its own (user stops from the OS picker), the camera is restored
// automatically.
func (m *Manager) StartScreenShare(ctx context.Context, source media.Source) error {
	bundle, err := source.Open(ctx)
	if err != nil {
		return opErr("open screen source", "", err)
	}
	if bundle.Video == nil {
		bundle.Stop()
		return opErr("open screen source", "", media.ErrMediaAccess)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		bundle.Stop()
		return ErrClosed
	}
	prev := m.screen
	m.screen = bundle
	err = m.replaceOutgoingVideo(bundle.Video)
	m.mu.Unlock()

	// Stopped outside the lock: ending a track can fire its OnEnded hook.
	if prev != nil {
		prev.Stop()
	}
	if err != nil {
		m.StopScreenShare()
		return err
	}

	bundle.Video.OnEnded(func() {
		m.stopScreenShareIf(bundle)
	})
	return nil
}

// StopScreenShare reverts every connection to the camera track. Calling it
// without an active share is a no-op.
func (m *Manager) StopScreenShare() {
	m.mu.Lock()
	screen := m.screen
	m.mu.Unlock()
	if screen != nil {
		m.stopScreenShareIf(screen)
	}
}

// stopScreenShareIf ends the share only if it is still the active one, so a
// superseded share's end hook cannot tear down its replacement.
func (m *Manager) stopScreenShareIf(screen *media.Bundle) {
	m.mu.Lock()
	if m.screen != screen {
		m.mu.Unlock()
		return
	}
	m.screen = nil
	var err error
	if m.local != nil && m.local.Video != nil {
		err = m.replaceOutgoingVideo(m.local.Video)
	}
	m.mu.Unlock()

	screen.Stop()
	if err != nil {
		slog.Warn("failed to restore camera track", "error", err)
	}
}

// ScreenSharing reports whether a display source is currently feeding peers.
func (m *Manager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// replaceOutgoingVideo swaps the outbound video track on all senders. Caller
// holds m.mu.
func (m *Manager) replaceOutgoingVideo(track *media.Track) error {
	for _, p := range m.peers {
		if p.videoSender == nil {
			continue
		}
		if err := p.videoSender.ReplaceTrack(track.Local()); err != nil {
			return opErr("replace video track", p.id, err)
		}
	}
	return nil
}

// RemovePeer tears down the entry for a departed participant, closing its
// connection so no ICE timers leak.
func (m *Manager) RemovePeer(remoteID string) {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	delete(m.peers, remoteID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := p.pc.Close(); err != nil {
		slog.Warn("failed to close peer connection", "peer", remoteID, "error", err)
	}
	if m.OnPeerStatus != nil {
		m.OnPeerStatus(remoteID, PeerGone)
	}
}

// Close closes every peer connection and stops local media, in that order.
// The transport is disconnected by the caller afterwards, so no connection
// is left negotiating against a dead signaling channel.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	peers := m.peers
	m.peers = make(map[string]*peer)
	local, screen := m.local, m.screen
	m.screen = nil
	m.mu.Unlock()

	for id, p := range peers {
		if err := p.pc.Close(); err != nil {
			slog.Warn("failed to close peer connection", "peer", id, "error", err)
		}
	}
	screen.Stop()
	local.Stop()
}
