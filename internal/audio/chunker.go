// Package audio rebuffers trainee microphone input into the fixed-size PCM
// frames the provider adapters expect, and paces pull-based sources to real
// time.
package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const bytesPerSample = 2 // 16-bit mono PCM

// FrameSink receives complete frames from the chunker. The slice is reused
// between calls; sinks that retain it must copy.
type FrameSink func(frame []byte)

// ChunkerConfig sizes the frames.
type ChunkerConfig struct {
	SampleRate    int           // samples per second
	FrameDuration time.Duration // audio per frame
}

// FrameBytes returns the byte length of one frame. 20 ms at 16 kHz mono
// 16-bit is 640 bytes.
func (c ChunkerConfig) FrameBytes() int {
	samples := int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
	return samples * bytesPerSample
}

// ChunkerStats reports chunker counters.
type ChunkerStats struct {
	Running       bool   `json:"running"`
	BytesIn       uint64 `json:"bytes_in"`
	FramesEmitted uint64 `json:"frames_emitted"`
	Buffered      int    `json:"buffered_bytes"`
}

// Chunker slices an incoming PCM byte stream into fixed-size frames and
// hands each complete frame to the sink. Input arrives in whatever sizes the
// transport delivers; output frames are always exactly FrameBytes long.
type Chunker struct {
	cfg  ChunkerConfig
	sink FrameSink
	log  zerolog.Logger

	mu      sync.Mutex
	running bool
	buf     []byte
	frame   []byte

	bytesIn       uint64
	framesEmitted uint64
}

// NewChunker creates a chunker delivering frames to sink.
func NewChunker(cfg ChunkerConfig, sink FrameSink, log zerolog.Logger) *Chunker {
	return &Chunker{
		cfg:   cfg,
		sink:  sink,
		log:   log.With().Str("component", "chunker").Logger(),
		frame: make([]byte, cfg.FrameBytes()),
	}
}

// Start begins accepting input. Calling Start on a running chunker is a
// no-op; the buffer is cleared only on the idle-to-running transition.
func (c *Chunker) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.buf = c.buf[:0]
	c.log.Debug().Int("frame_bytes", len(c.frame)).Msg("chunker started")
}

// Write feeds PCM bytes in. Complete frames are emitted synchronously, in
// order. Input while stopped is discarded.
func (c *Chunker) Write(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.bytesIn += uint64(len(p))
	c.buf = append(c.buf, p...)

	size := len(c.frame)
	for len(c.buf) >= size {
		copy(c.frame, c.buf[:size])
		c.buf = c.buf[size:]
		c.framesEmitted++
		c.sink(c.frame)
	}
}

// Stop flushes any partial trailing frame, zero-padded to full size so the
// tail of an utterance is not lost, then stops accepting input. Idempotent.
func (c *Chunker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false

	if len(c.buf) > 0 {
		copy(c.frame, c.buf)
		for i := len(c.buf); i < len(c.frame); i++ {
			c.frame[i] = 0
		}
		c.buf = c.buf[:0]
		c.framesEmitted++
		c.sink(c.frame)
	}
	c.log.Debug().Uint64("frames", c.framesEmitted).Msg("chunker stopped")
}

// Stats returns current counters.
func (c *Chunker) Stats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChunkerStats{
		Running:       c.running,
		BytesIn:       c.bytesIn,
		FramesEmitted: c.framesEmitted,
		Buffered:      len(c.buf),
	}
}

// Source supplies raw PCM, io.Reader style. The WebSocket ingest pushes
// straight into Write; file and scripted sources are pulled through Pump.
type Source = io.Reader

// Pump reads the source to exhaustion, writing into the chunker at the
// frame cadence so downstream behaves as it would with a live microphone.
// A zero interval disables pacing. Returns nil on io.EOF.
func Pump(ctx context.Context, src Source, c *Chunker, interval time.Duration) error {
	buf := make([]byte, c.cfg.FrameBytes())

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			c.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
