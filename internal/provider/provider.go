// Package provider defines the uniform contract every speech-to-text vendor
// adapter implements: an explicit connection state machine, audio delivery,
// finalization, warm-connection reuse, and asynchronous event emission over
// a typed per-session bus.
package provider

import (
	"context"
	"errors"
	"time"
)

// ID identifies a configured vendor.
type ID string

const (
	ElevenLabs ID = "elevenlabs"
	Deepgram   ID = "deepgram"
)

// Sentinel errors for the adapter taxonomy.
var (
	// ErrConnection covers transport-level failures during connect or send.
	ErrConnection = errors.New("provider: connection failed")
	// ErrSessionStart covers a timeout waiting for the vendor's logical
	// session-start acknowledgment after the socket opened.
	ErrSessionStart = errors.New("provider: session start timed out")
	// ErrProtocol covers unparseable or unrecognized vendor messages.
	// Always local to one provider session, never fatal.
	ErrProtocol = errors.New("provider: protocol error")
)

// Outbound write bounds shared by the adapters. The frame queue absorbs a
// bit over a second of 20ms frames; a vendor that falls further behind gets
// frames dropped instead of backing pressure up into the capture path.
const (
	writeTimeout  = 2 * time.Second
	frameQueueCap = 64
)

// Params are the session parameters an adapter is configured with before
// connecting.
type Params struct {
	SampleRate          int
	Language            string
	Model               string
	SessionStartTimeout time.Duration
}

// WordTiming is one word with millisecond offsets. Deduplicated by the
// aggregator on the exact (word, start, end) triple.
type WordTiming struct {
	Word       string  `json:"word"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Adapter is the uniform vendor contract. One adapter owns one socket and
// one logical session. All methods are safe for concurrent use; event
// emission is asynchronous via the adapter's Bus.
type Adapter interface {
	// ID returns the vendor identifier.
	ID() ID

	// Configure stores the ephemeral credential, endpoint and session
	// parameters. Does not connect.
	Configure(token, endpoint string, params Params)

	// Connect opens the transport and returns only once the vendor has
	// acknowledged a logical session start, or the context/session-start
	// timeout expires. Raw socket-open alone is not enough; sending audio
	// before the vendor is ready would be silently discarded.
	Connect(ctx context.Context) error

	// SendAudio transmits one audio frame in the vendor's wire format.
	// No-op unless the connection is in a listening-capable state.
	SendAudio(frame []byte)

	// EndAudio sends the vendor-specific end-of-audio signal and moves the
	// session to processing. Never blocks on the vendor.
	EndAudio()

	// ResetForNewRecording clears transcript and word-timing state while
	// keeping the transport open, returning a completed or errored session
	// to listening-capable state. This is what makes warm reuse across
	// attempts possible.
	ResetForNewRecording()

	// Disconnect terminates the transport and frees resources
	// unconditionally, even mid-error.
	Disconnect()

	// State returns the current connection state.
	State() State

	// Events returns the adapter's event bus.
	Events() *Bus
}
