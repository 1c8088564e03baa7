package audio

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig() ChunkerConfig {
	return ChunkerConfig{SampleRate: 16000, FrameDuration: 20 * time.Millisecond}
}

func collectFrames(frames *[][]byte) FrameSink {
	return func(frame []byte) {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		*frames = append(*frames, cp)
	}
}

func TestFrameBytes(t *testing.T) {
	if got := testConfig().FrameBytes(); got != 640 {
		t.Errorf("FrameBytes = %d, want 640 (20ms of 16kHz mono 16-bit)", got)
	}
}

func TestChunkerRebuffersArbitraryWrites(t *testing.T) {
	var frames [][]byte
	c := NewChunker(testConfig(), collectFrames(&frames), zerolog.Nop())
	c.Start()

	// 1600 bytes in uneven writes: 2 full frames plus 320 leftover.
	c.Write(make([]byte, 100))
	c.Write(make([]byte, 700))
	c.Write(make([]byte, 800))

	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	for i, f := range frames {
		if len(f) != 640 {
			t.Errorf("frame %d length = %d, want 640", i, len(f))
		}
	}
	if got := c.Stats().Buffered; got != 320 {
		t.Errorf("buffered = %d, want 320", got)
	}
}

func TestChunkerFrameOrderPreserved(t *testing.T) {
	var frames [][]byte
	c := NewChunker(testConfig(), collectFrames(&frames), zerolog.Nop())
	c.Start()

	input := make([]byte, 1280)
	for i := range input {
		input[i] = byte(i % 251)
	}
	c.Write(input[:500])
	c.Write(input[500:])

	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], input[:640]) || !bytes.Equal(frames[1], input[640:]) {
		t.Error("frame content does not match input order")
	}
}

func TestChunkerStopFlushesPaddedTail(t *testing.T) {
	var frames [][]byte
	c := NewChunker(testConfig(), collectFrames(&frames), zerolog.Nop())
	c.Start()

	tail := bytes.Repeat([]byte{0x7f}, 100)
	c.Write(tail)
	c.Stop()

	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 flushed tail", len(frames))
	}
	f := frames[0]
	if len(f) != 640 {
		t.Fatalf("flushed frame length = %d, want 640", len(f))
	}
	if !bytes.Equal(f[:100], tail) {
		t.Error("flushed frame does not start with the tail bytes")
	}
	for i := 100; i < 640; i++ {
		if f[i] != 0 {
			t.Fatalf("byte %d = %#x, want zero padding", i, f[i])
		}
	}
}

func TestChunkerStartStopIdempotent(t *testing.T) {
	var frames [][]byte
	c := NewChunker(testConfig(), collectFrames(&frames), zerolog.Nop())

	c.Start()
	c.Write(make([]byte, 320))
	c.Start() // must not clear the partial buffer
	c.Write(make([]byte, 320))
	if len(frames) != 1 {
		t.Errorf("frames = %d, want 1 (second Start must be a no-op)", len(frames))
	}

	c.Stop()
	c.Stop()
	if got := c.Stats().FramesEmitted; got != 1 {
		t.Errorf("FramesEmitted = %d, want 1 after double Stop with empty buffer", got)
	}
}

func TestChunkerDiscardsInputWhileStopped(t *testing.T) {
	var frames [][]byte
	c := NewChunker(testConfig(), collectFrames(&frames), zerolog.Nop())

	c.Write(make([]byte, 1280))
	if len(frames) != 0 {
		t.Errorf("frames = %d before Start, want 0", len(frames))
	}
	if got := c.Stats().BytesIn; got != 0 {
		t.Errorf("BytesIn = %d, want 0 while stopped", got)
	}
}

func TestPumpDrainsSource(t *testing.T) {
	var frames [][]byte
	c := NewChunker(testConfig(), collectFrames(&frames), zerolog.Nop())
	c.Start()

	src := bytes.NewReader(make([]byte, 640*3))
	if err := Pump(context.Background(), src, c, 0); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(frames) != 3 {
		t.Errorf("frames = %d, want 3", len(frames))
	}
}

func TestPumpHonorsContextCancel(t *testing.T) {
	c := NewChunker(testConfig(), func([]byte) {}, zerolog.Nop())
	c.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := bytes.NewReader(make([]byte, 640*100))
	if err := Pump(ctx, src, c, time.Hour); err == nil {
		t.Error("Pump = nil, want context error")
	}
}
