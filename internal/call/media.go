package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MediaSource supplies the local tracks attached to a call. Implementations
// wrap whatever capture pipeline the host application has; Close must stop
// capture and release the underlying devices.
type MediaSource interface {
	Tracks() ([]webrtc.TrackLocal, error)
	Close() error
}

// StaticMediaSource provides static sample tracks (Opus audio, VP8 video)
// with no capture hardware behind them. Used by the probe binary and tests;
// a real client implements MediaSource over its capture stack.
type StaticMediaSource struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

// NewStaticMediaSource creates the static track pair.
func NewStaticMediaSource() (*StaticMediaSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "wellport-audio")
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "wellport-video")
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	return &StaticMediaSource{audio: audio, video: video}, nil
}

func (s *StaticMediaSource) Tracks() ([]webrtc.TrackLocal, error) {
	return []webrtc.TrackLocal{s.audio, s.video}, nil
}

func (s *StaticMediaSource) Close() error { return nil }
