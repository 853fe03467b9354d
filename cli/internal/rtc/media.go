package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrMediaUnavailable is returned when local capture is absent or denied.
var ErrMediaUnavailable = errors.New("local media unavailable")

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = time.Second / 30
	streamID   = "warpcall"
)

// Opus silence and a tiny VP8 key frame header. Receivers get well-formed
// RTP without any real capture device.
var (
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	vp8Frame    = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

// Source acquires local media.
type Source interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
}

// SyntheticSource produces generated audio and video tracks.
type SyntheticSource struct {
	Audio bool
	Video bool
}

// Acquire creates the tracks. With nothing enabled there is no capture
// capability at all.
func (s SyntheticSource) Acquire(ctx context.Context) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Audio && !s.Video {
		return nil, fmt.Errorf("%w: no capture device", ErrMediaUnavailable)
	}

	m := &LocalMedia{}
	if s.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		m.samplers = append(m.samplers, sampler{track: track, frame: opusSilence, every: audioFrame})
	}
	if s.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		m.samplers = append(m.samplers, sampler{track: track, frame: vp8Frame, every: videoFrame})
	}
	return m, nil
}

// DeniedSource always refuses, like a user rejecting a capture prompt.
type DeniedSource struct{}

func (DeniedSource) Acquire(context.Context) (*LocalMedia, error) {
	return nil, fmt.Errorf("%w: capture permission denied", ErrMediaUnavailable)
}

type sampler struct {
	track *webrtc.TrackLocalStaticSample
	frame []byte
	every time.Duration
}

// LocalMedia is the set of local tracks and the goroutines feeding them.
type LocalMedia struct {
	samplers []sampler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Tracks returns the tracks to attach to every peer connection.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(m.samplers))
	for _, s := range m.samplers {
		out = append(out, s.track)
	}
	return out
}

// Kinds lists the track kinds, for display.
func (m *LocalMedia) Kinds() []string {
	out := make([]string, 0, len(m.samplers))
	for _, s := range m.samplers {
		out = append(out, s.track.Kind().String())
	}
	return out
}

// Start begins writing samples. Writes before a track is bound to a
// connection are discarded by the engine.
func (m *LocalMedia) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	for _, s := range m.samplers {
		m.wg.Add(1)
		go func(s sampler) {
			defer m.wg.Done()
			ticker := time.NewTicker(s.every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					// Fails only while a connection is being torn down.
					_ = s.track.WriteSample(media.Sample{Data: s.frame, Duration: s.every})
				}
			}
		}(s)
	}
}

// Stop releases the tracks. Safe to call more than once or without Start.
func (m *LocalMedia) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = func() {}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}
