package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// ErrMediaAccess reports that a capture source could not be opened (missing
// device or file, denied permission). It is surfaced to the user with a
// retry path, never swallowed or retried silently.
var ErrMediaAccess = errors.New("media source unavailable")

// Opus frames are paced at a fixed page interval.
const oggPageDuration = 20 * time.Millisecond

// Bundle is the pair of local tracks a participant publishes. Audio or Video
// may be nil for a single-kind source such as a screen share.
type Bundle struct {
	Audio *Track
	Video *Track
}

// Stop ends both tracks.
func (b *Bundle) Stop() {
	if b == nil {
		return
	}
	if b.Audio != nil {
		b.Audio.End()
	}
	if b.Video != nil {
		b.Video.End()
	}
}

// Source produces local media tracks. Open fails with ErrMediaAccess when
// the underlying input cannot be acquired.
type Source interface {
	Open(ctx context.Context) (*Bundle, error)
}

// FileSource streams pre-encoded media from disk: IVF (VP8) for video and
// Ogg (Opus) for audio. Either path may be empty. This is the headless
// client's camera; a looping file makes a stable synthetic feed.
type FileSource struct {
	VideoPath string
	AudioPath string
	Loop      bool

	// StreamID groups the produced tracks; defaults to "classroom".
	StreamID string
}

// Open validates the inputs, creates the tracks and starts the pacing
// goroutines. The tracks end when the files are exhausted (unless looping)
// or the context is cancelled.
func (s *FileSource) Open(ctx context.Context) (*Bundle, error) {
	if s.VideoPath == "" && s.AudioPath == "" {
		return nil, fmt.Errorf("%w: no video or audio input configured", ErrMediaAccess)
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "classroom"
	}

	bundle := &Bundle{}

	if s.VideoPath != "" {
		if _, err := os.Stat(s.VideoPath); err != nil {
			return nil, fmt.Errorf("%w: video input %s: %v", ErrMediaAccess, s.VideoPath, err)
		}
		track, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		bundle.Video = track
		go s.streamVideo(ctx, track)
	}

	if s.AudioPath != "" {
		if _, err := os.Stat(s.AudioPath); err != nil {
			bundle.Stop()
			return nil, fmt.Errorf("%w: audio input %s: %v", ErrMediaAccess, s.AudioPath, err)
		}
		track, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			bundle.Stop()
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		bundle.Audio = track
		go s.streamAudio(ctx, track)
	}

	return bundle, nil
}

// streamVideo paces IVF frames at the file's timebase.
func (s *FileSource) streamVideo(ctx context.Context, track *Track) {
	defer track.End()

	for {
		file, err := os.Open(s.VideoPath)
		if err != nil {
			return
		}

		ivf, header, err := ivfreader.NewWith(file)
		if err != nil {
			file.Close()
			return
		}

		frameDuration := time.Duration(
			(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator)) * float64(time.Second))
		ticker := time.NewTicker(frameDuration)

		err = s.pumpVideo(ctx, ivf, track, ticker)
		ticker.Stop()
		file.Close()

		if err != nil || !s.Loop {
			return
		}
	}
}

func (s *FileSource) pumpVideo(ctx context.Context, ivf *ivfreader.IVFReader, track *Track, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := track.WriteSample(pmedia.Sample{Data: frame, Duration: time.Second}); err != nil {
			return err
		}
	}
}

// streamAudio paces Ogg pages at the Opus page interval.
func (s *FileSource) streamAudio(ctx context.Context, track *Track) {
	defer track.End()

	for {
		file, err := os.Open(s.AudioPath)
		if err != nil {
			return
		}

		ogg, _, err := oggreader.NewWith(file)
		if err != nil {
			file.Close()
			return
		}

		ticker := time.NewTicker(oggPageDuration)
		err = s.pumpAudio(ctx, ogg, track, ticker)
		ticker.Stop()
		file.Close()

		if err != nil || !s.Loop {
			return
		}
	}
}

func (s *FileSource) pumpAudio(ctx context.Context, ogg *oggreader.OggReader, track *Track, ticker *time.Ticker) error {
	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		sampleCount := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(sampleCount) * time.Second / 48000

		if err := track.WriteSample(pmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
