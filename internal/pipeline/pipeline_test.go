package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/zsiec/framesrc/internal/caption"
	"github.com/zsiec/framesrc/internal/fixture"
	"github.com/zsiec/framesrc/internal/pixstore"
	"github.com/zsiec/framesrc/internal/source"
)

type recordSink struct {
	luma     []byte
	audioPTS []int64
	err      error
}

func (s *recordSink) Video(f *source.DecodedFrame) error {
	s.luma = append(s.luma, f.Picture().Planes[0][0])
	return s.err
}

func (s *recordSink) Audio(f *source.AudioFrame) error {
	s.audioPTS = append(s.audioPTS, f.Packet.PTS)
	return nil
}

func (s *recordSink) Captions(*caption.Frame) {}

func openY4M(t *testing.T, frames int) *source.Source {
	t.Helper()
	path, err := fixture.WriteFile(t.TempDir(), "in.y4m", fixture.Y4M(32, 16, frames))
	if err != nil {
		t.Fatal(err)
	}
	src, err := source.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestRunDecodesEveryFrame(t *testing.T) {
	t.Parallel()

	pool := pixstore.New(nil)
	sink := &recordSink{}
	p := New("test", openY4M(t, 5), pool, sink)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(sink.luma); got != "\x00\x01\x02\x03\x04" {
		t.Errorf("luma: got %v", sink.luma)
	}
	st := p.Stats()
	if st.VideoFrames != 5 {
		t.Errorf("VideoFrames: got %d, want 5", st.VideoFrames)
	}
	if st.LastVideoPTS != 4 {
		t.Errorf("LastVideoPTS: got %d, want 4", st.LastVideoPTS)
	}
	if n := pool.Stats().InFlight(); n != 0 {
		t.Errorf("InFlight: got %d, want 0", n)
	}
}

func TestRunSeekAndLimit(t *testing.T) {
	t.Parallel()

	pool := pixstore.New(nil)
	sink := &recordSink{}
	p := New("test", openY4M(t, 10), pool, sink, WithSeek(3), WithMaxFrames(4))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(sink.luma); got != "\x03\x04\x05\x06" {
		t.Errorf("luma: got %v", sink.luma)
	}
}

func TestRunSinkError(t *testing.T) {
	t.Parallel()

	pool := pixstore.New(nil)
	sink := &recordSink{err: errors.New("disk full")}
	src := openY4M(t, 3)
	p := New("test", src, pool, sink)

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected sink error")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := pool.Stats().InFlight(); n != 0 {
		t.Errorf("InFlight after failed sink: got %d", n)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordSink{}
	p := New("test", openY4M(t, 3), pixstore.New(nil), sink)
	if err := p.Run(ctx); err != nil {
		t.Errorf("Run with cancelled context: %v", err)
	}
	if len(sink.luma) != 0 {
		t.Errorf("decoded %d frames after cancel", len(sink.luma))
	}
}

func TestRunAudioOnly(t *testing.T) {
	t.Parallel()

	path, err := fixture.WriteFile(t.TempDir(), "in.wav",
		fixture.WAV(fixture.WAVParams{SampleRate: 48000, Channels: 1, Bits: 16, Samples: 48000}))
	if err != nil {
		t.Fatal(err)
	}
	src, err := source.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	sink := &recordSink{}
	p := New("test", src, pixstore.New(nil), sink)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.audioPTS) == 0 || sink.audioPTS[0] != 0 {
		t.Fatalf("audio pts: %v", sink.audioPTS)
	}
	for i := 1; i < len(sink.audioPTS); i++ {
		if sink.audioPTS[i] <= sink.audioPTS[i-1] {
			t.Errorf("audio out of order at %d: %v", i, sink.audioPTS)
		}
	}
	if got := p.Stats().AudioFrames; got != int64(len(sink.audioPTS)) {
		t.Errorf("AudioFrames: got %d, want %d", got, len(sink.audioPTS))
	}
}
