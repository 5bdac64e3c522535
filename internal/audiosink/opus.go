package audiosink

import (
	"context"
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/ssi-learning/playbackcore/internal/player"
	"github.com/ssi-learning/playbackcore/pkg/audiostore"
)

var _ player.AudioSink = (*OpusSink)(nil)

// Opus audio in this blob store is 48 kHz stereo, 20 ms frames.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	opusFrameSize   = opusSampleRate * opusFrameSizeMs / 1000 // 960 samples/channel/frame
	bytesPerSample  = 2 // int16 PCM
)

// OpusSink is a reference [player.AudioSink] that decodes Opus-encoded
// blob-store payloads into PCM and paces playback to the decoded audio's
// real duration. The browser deployment of this core never touches this
// path — a resolved audio reference there is played directly by an <audio>
// element. OpusSink exists for server-side simulation, golden-file
// rendering, and integration tests that need Play to actually take as long
// as the audio it is "playing" (the S4/S5/S9 timing scenarios).
//
// Each packet in src.Data is assumed length-prefixed: a big-endian uint16
// byte count followed by that many bytes of one Opus frame. This mirrors
// how a blob store would chunk a stream of fixed-size Opus frames without
// needing an Ogg container.
type OpusSink struct {
	unlocked bool

	// Sleep defaults to time.Sleep; tests override it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewOpusSink creates a ready-to-use OpusSink.
func NewOpusSink() *OpusSink {
	return &OpusSink{Sleep: sleepOrDone}
}

// Unlock is a no-op on this headless sink; there is no platform gesture
// gate to satisfy outside a browser.
func (s *OpusSink) Unlock(ctx context.Context) error {
	s.unlocked = true
	return nil
}

// Play decodes src (when it is a blob) and paces the call to the decoded
// PCM's real duration, so that timing-sensitive tests observe realistic
// phase durations. A URL source has nothing to decode locally; Play
// returns immediately since resolving and playing it is the out-of-scope
// browser <audio> element's job.
func (s *OpusSink) Play(ctx context.Context, src audiostore.Source) error {
	if src.Type == audiostore.SourceURL {
		return nil
	}

	pcm, err := decodeOpusStream(src.Data)
	if err != nil {
		return fmt.Errorf("audiosink: decode opus: %w", err)
	}

	samples := len(pcm) / bytesPerSample / opusChannels
	duration := time.Duration(samples) * time.Second / time.Duration(opusSampleRate)
	return s.Sleep(ctx, duration)
}

// decodeOpusStream decodes a sequence of length-prefixed Opus frames into
// one interleaved int16 PCM byte slice.
func decodeOpusStream(data []byte) ([]byte, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	var pcm []byte
	for off := 0; off < len(data); {
		if off+2 > len(data) {
			return nil, fmt.Errorf("truncated frame length prefix at offset %d", off)
		}
		frameLen := int(data[off])<<8 | int(data[off+1])
		off += 2
		if off+frameLen > len(data) {
			return nil, fmt.Errorf("truncated frame body at offset %d (want %d bytes)", off, frameLen)
		}
		frame := data[off : off+frameLen]
		off += frameLen

		samples, err := dec.Decode(frame, opusFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("decode frame at offset %d: %w", off, err)
		}
		pcm = append(pcm, int16SamplesToBytes(samples)...)
	}
	return pcm, nil
}

func int16SamplesToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*bytesPerSample)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// sleepOrDone sleeps for d or returns ctx.Err() if ctx is cancelled first,
// matching the AudioSink contract that cancellation must stop playback
// immediately.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
