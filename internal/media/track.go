// Package media provides the local media layer for the classroom client:
// track wrappers with in-band mute and sources that feed them, standing in
// for browser getUserMedia/getDisplayMedia.
package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Track wraps a local sample track with an enabled flag and an end hook.
// Disabling a track mutes it in band: samples are dropped at the source, no
// renegotiation happens, and the receiver simply sees the stream go quiet.
type Track struct {
	local *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	ended   atomic.Bool
	fired   atomic.Bool
	onEnded atomic.Pointer[func()]
}

// NewTrack creates an enabled track with the given codec.
func NewTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{local: local}
	t.enabled.Store(true)
	return t, nil
}

// Local returns the underlying track to attach to a peer connection.
func (t *Track) Local() *webrtc.TrackLocalStaticSample { return t.local }

// Kind reports audio or video.
func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }

// Enabled reports whether samples are currently being forwarded.
func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips the mute state and returns the new value.
func (t *Track) SetEnabled(enabled bool) bool {
	t.enabled.Store(enabled)
	return enabled
}

// Toggle inverts the mute state and returns the new value.
func (t *Track) Toggle() bool {
	for {
		old := t.enabled.Load()
		if t.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// WriteSample forwards a sample unless the track is muted.
func (t *Track) WriteSample(s pmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

// OnEnded registers a callback fired once when the source behind this track
// stops producing, e.g. the user ends a screen share from the OS picker.
// Registering on a track that already ended fires the callback immediately,
// so a source that dies between creation and registration is not missed.
func (t *Track) OnEnded(fn func()) {
	t.onEnded.Store(&fn)
	if t.ended.Load() {
		t.fireEnded()
	}
}

// End marks the track as finished and fires the OnEnded callback exactly
// once. Subsequent calls are no-ops, including calls from inside the
// callback itself, so cleanup hooks may safely End the track they watch.
func (t *Track) End() {
	if !t.ended.CompareAndSwap(false, true) {
		return
	}
	t.enabled.Store(false)
	t.fireEnded()
}

func (t *Track) fireEnded() {
	fn := t.onEnded.Load()
	if fn == nil || !t.fired.CompareAndSwap(false, true) {
		return
	}
	(*fn)()
}
