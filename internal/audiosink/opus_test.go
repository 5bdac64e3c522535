package audiosink

import (
	"context"
	"testing"
	"time"

	"layeh.com/gopus"

	"github.com/ssi-learning/playbackcore/pkg/audiostore"
)

// encodeOneFrame produces a single length-prefixed Opus frame of silence,
// matching the stream format OpusSink.Play expects.
func encodeOneFrame(t *testing.T) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	silence := make([]int16, opusFrameSize*opusChannels)
	frame, err := enc.Encode(silence, opusFrameSize, len(silence)*bytesPerSample)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := make([]byte, 2+len(frame))
	out[0] = byte(len(frame) >> 8)
	out[1] = byte(len(frame))
	copy(out[2:], frame)
	return out
}

func TestOpusSink_PlayURLSource_ReturnsImmediately(t *testing.T) {
	sink := NewOpusSink()
	var slept time.Duration
	sink.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	if err := sink.Play(context.Background(), audiostore.Source{Type: audiostore.SourceURL, Location: "https://example.com/a.mp3"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if slept != 0 {
		t.Errorf("Sleep called for URL source, want no-op")
	}
}

func TestOpusSink_PlayBlob_PacesToDecodedDuration(t *testing.T) {
	sink := NewOpusSink()
	var got time.Duration
	sink.Sleep = func(ctx context.Context, d time.Duration) error {
		got = d
		return nil
	}

	data := encodeOneFrame(t)
	if err := sink.Play(context.Background(), audiostore.Source{Type: audiostore.SourceBlob, Data: data}); err != nil {
		t.Fatalf("Play: %v", err)
	}

	want := time.Duration(opusFrameSizeMs) * time.Millisecond
	if got != want {
		t.Errorf("paced duration = %v, want %v", got, want)
	}
}

func TestOpusSink_PlayBlob_RespectsCancellation(t *testing.T) {
	sink := NewOpusSink() // real sleepOrDone
	data := encodeOneFrame(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sink.Play(ctx, audiostore.Source{Type: audiostore.SourceBlob, Data: data}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestOpusSink_PlayBlob_TruncatedFrame(t *testing.T) {
	sink := NewOpusSink()
	if err := sink.Play(context.Background(), audiostore.Source{Type: audiostore.SourceBlob, Data: []byte{0, 5, 1, 2}}); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestOpusSink_Unlock(t *testing.T) {
	sink := NewOpusSink()
	if err := sink.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !sink.unlocked {
		t.Error("Unlock did not set unlocked flag")
	}
}
