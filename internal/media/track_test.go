package media

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

func newVideoTrack(t *testing.T) *Track {
	t.Helper()
	track, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func TestTrackToggle(t *testing.T) {
	track := newVideoTrack(t)

	if !track.Enabled() {
		t.Fatal("new tracks start enabled")
	}
	if track.Toggle() {
		t.Fatal("first toggle should disable")
	}
	if track.Enabled() {
		t.Fatal("track should report disabled")
	}
	if !track.Toggle() {
		t.Fatal("second toggle should re-enable")
	}
}

func TestMutedTrackDropsSamples(t *testing.T) {
	track := newVideoTrack(t)
	track.SetEnabled(false)

	// A muted track swallows writes; the peer sees silence, not an error.
	if err := track.WriteSample(pmedia.Sample{Data: []byte{0x01}}); err != nil {
		t.Fatalf("muted write should be dropped silently: %v", err)
	}
}

func TestTrackEndFiresOnce(t *testing.T) {
	track := newVideoTrack(t)

	fired := 0
	track.OnEnded(func() { fired++ })

	track.End()
	track.End()

	if fired != 1 {
		t.Fatalf("OnEnded should fire exactly once, got %d", fired)
	}
	if track.Enabled() {
		t.Fatal("an ended track must be disabled")
	}
}

func TestTrackEndFromInsideOwnHook(t *testing.T) {
	track := newVideoTrack(t)

	// The revert path for an ending screen share stops the bundle it was
	// notified about, which re-Ends the very track that fired the hook. That
	// must terminate, not deadlock or recurse.
	fired := 0
	track.OnEnded(func() {
		fired++
		track.End()
	})

	track.End()
	if fired != 1 {
		t.Fatalf("OnEnded should fire exactly once, got %d", fired)
	}
}

func TestOnEndedAfterEnd(t *testing.T) {
	track := newVideoTrack(t)
	track.End()

	fired := 0
	track.OnEnded(func() { fired++ })
	if fired != 1 {
		t.Fatal("registering on an already-ended track should fire the callback")
	}

	track.OnEnded(func() { fired++ })
	track.End()
	if fired != 1 {
		t.Fatalf("the end notification fires once per track, got %d", fired)
	}
}

func TestBundleStopIsNilSafe(t *testing.T) {
	var b *Bundle
	b.Stop()

	(&Bundle{Video: newVideoTrack(t)}).Stop()
}

func TestFileSourceRequiresInput(t *testing.T) {
	_, err := (&FileSource{}).Open(context.Background())
	if !errors.Is(err, ErrMediaAccess) {
		t.Fatalf("a source with no inputs should fail with ErrMediaAccess, got %v", err)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := &FileSource{VideoPath: filepath.Join(t.TempDir(), "absent.ivf")}
	_, err := src.Open(context.Background())
	if !errors.Is(err, ErrMediaAccess) {
		t.Fatalf("a missing file should fail with ErrMediaAccess, got %v", err)
	}
}
