package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// elevenLabsMsg is the JSON envelope for both directions of the ElevenLabs
// realtime STT protocol. Outbound carries base64 audio with a commit flag;
// inbound is discriminated by Kind.
type elevenLabsMsg struct {
	Kind        string           `json:"kind"`
	AudioBase64 string           `json:"audio_base64,omitempty"`
	Commit      bool             `json:"commit,omitempty"`
	SampleRate  int              `json:"sample_rate,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	Text        string           `json:"text,omitempty"`
	Words       []elevenLabsWord `json:"words,omitempty"`
	Code        string           `json:"code,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type elevenLabsWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Inbound message kinds.
const (
	elKindSessionStarted     = "session_started"
	elKindPartial            = "partial_transcript"
	elKindCommitted          = "committed_transcript"
	elKindCommittedWithWords = "committed_transcript_with_timestamps"
	elKindInputAudioChunk    = "input_audio_chunk"
)

// elErrorKinds is the family of inbound error kinds. All are non-fatal to
// the session state machine unless the transport itself dies.
var elErrorKinds = map[string]bool{
	"auth_error":     true,
	"quota_exceeded": true,
	"rate_limited":   true,
	"throttled":      true,
	"input_error":    true,
	"error":          true,
}

// ElevenLabsAdapter implements Adapter over the ElevenLabs JSON-envelope
// realtime protocol: audio goes out base64-encoded inside a typed envelope,
// finalization is forced with an explicit commit flag, and the vendor
// acknowledges session start with a session_started message.
type ElevenLabsAdapter struct {
	machine *Machine
	bus     *Bus
	log     zerolog.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	token    string
	endpoint string
	params   Params

	frames     chan []byte
	stopWriter chan struct{}

	sessionReady chan struct{}
	readyOnce    sync.Once
	committed    []string
	finalizing   bool
	closing      bool
}

// NewElevenLabs creates an unconfigured ElevenLabs adapter.
func NewElevenLabs(log zerolog.Logger) *ElevenLabsAdapter {
	bus := NewBus()
	return &ElevenLabsAdapter{
		machine:      NewMachine(ElevenLabs, bus),
		bus:          bus,
		log:          log.With().Str("provider", string(ElevenLabs)).Logger(),
		sessionReady: make(chan struct{}),
	}
}

func (a *ElevenLabsAdapter) ID() ID       { return ElevenLabs }
func (a *ElevenLabsAdapter) Events() *Bus { return a.bus }
func (a *ElevenLabsAdapter) State() State { return a.machine.Current() }

// Configure stores connection parameters without connecting.
func (a *ElevenLabsAdapter) Configure(token, endpoint string, params Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.endpoint = endpoint
	a.params = params
}

// Connect dials the websocket endpoint and waits for the vendor's
// session_started acknowledgment. The socket being open is not enough:
// audio sent before the ack would be discarded by the vendor.
func (a *ElevenLabsAdapter) Connect(ctx context.Context) error {
	if err := a.machine.To(StateConnecting); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	a.mu.Lock()
	endpoint, token, timeout := a.endpoint, a.token, a.params.SessionStartTimeout
	a.sessionReady = make(chan struct{})
	a.readyOnce = sync.Once{}
	a.closing = false
	a.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		a.machine.To(StateError)
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, endpoint, err)
	}

	frames := make(chan []byte, frameQueueCap)
	stop := make(chan struct{})
	a.mu.Lock()
	a.conn = conn
	a.frames = frames
	a.stopWriter = stop
	a.mu.Unlock()

	go a.readLoop(conn)
	go a.writeLoop(frames, stop)

	select {
	case <-a.sessionReady:
	case <-ctx.Done():
		a.teardown(conn)
		a.machine.To(StateError)
		return fmt.Errorf("%w: %v", ErrSessionStart, ctx.Err())
	case <-time.After(timeout):
		a.teardown(conn)
		a.machine.To(StateError)
		return ErrSessionStart
	}

	return nil
}

// SendAudio queues one PCM frame for the writer goroutine. Never blocks:
// when the queue is full the frame is dropped, so a stalled vendor cannot
// back up into the capture loop or the other provider. No-op unless the
// session is listening-capable.
func (a *ElevenLabsAdapter) SendAudio(frame []byte) {
	if !a.machine.Current().CanSendAudio() {
		return
	}
	a.machine.ToIf(StateListening, StateSessionReady)

	a.mu.Lock()
	frames := a.frames
	a.mu.Unlock()
	if frames == nil {
		return
	}

	// The caller reuses its frame buffer; copy before queueing.
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case frames <- buf:
	default:
	}
}

// writeLoop drains queued frames onto the socket, one writer goroutine per
// connection.
func (a *ElevenLabsAdapter) writeLoop(frames <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-frames:
			msg := elevenLabsMsg{
				Kind:        elKindInputAudioChunk,
				AudioBase64: base64.StdEncoding.EncodeToString(frame),
				SampleRate:  a.sampleRate(),
			}
			if err := a.writeJSON(msg); err != nil {
				return
			}
		}
	}
}

// EndAudio forces finalization with an empty committed chunk. Runs the
// write off the caller's goroutine; the capture loop never waits on a
// vendor socket.
func (a *ElevenLabsAdapter) EndAudio() {
	if !a.machine.ToIf(StateProcessing, StateListening) {
		return
	}
	a.mu.Lock()
	a.finalizing = true
	a.mu.Unlock()

	go a.writeJSON(elevenLabsMsg{
		Kind:       elKindInputAudioChunk,
		Commit:     true,
		SampleRate: a.sampleRate(),
	})
}

// ResetForNewRecording returns a completed or errored session to listening
// without touching the transport.
func (a *ElevenLabsAdapter) ResetForNewRecording() {
	a.mu.Lock()
	a.committed = nil
	a.finalizing = false
	a.mu.Unlock()
	a.machine.ToIf(StateListening, StateCompleted, StateError, StateProcessing)
}

// Disconnect tears the transport down unconditionally.
func (a *ElevenLabsAdapter) Disconnect() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.closing = true
	stop := a.stopWriter
	a.stopWriter = nil
	a.frames = nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		conn.Close()
	}
	a.machine.To(StateDisconnected)
	a.bus.Close()
}

// teardown closes the socket without emitting a transport error from the
// read loop.
func (a *ElevenLabsAdapter) teardown(conn *websocket.Conn) {
	a.mu.Lock()
	a.closing = true
	stop := a.stopWriter
	a.stopWriter = nil
	a.frames = nil
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	conn.Close()
}

func (a *ElevenLabsAdapter) sampleRate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params.SampleRate
}

// writeJSON performs one deadline-bounded write. Writes are serialized so
// the frame writer and control messages never interleave mid-message.
func (a *ElevenLabsAdapter) writeJSON(msg elevenLabsMsg) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	a.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(msg)
	a.writeMu.Unlock()
	if err != nil {
		a.transportError(fmt.Errorf("%w: write: %v", ErrConnection, err))
	}
	return err
}

// readLoop parses inbound envelopes until the transport dies. An
// unparseable or unrecognized message is a local protocol error, surfaced
// as an event and otherwise ignored; it must never take the session down.
func (a *ElevenLabsAdapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			closing := a.closing
			a.mu.Unlock()
			if !closing {
				a.transportError(fmt.Errorf("%w: read: %v", ErrConnection, err))
			}
			return
		}

		var msg elevenLabsMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			a.protocolError(fmt.Errorf("%w: unparseable message: %v", ErrProtocol, err))
			continue
		}
		a.handleMessage(msg)
	}
}

func (a *ElevenLabsAdapter) handleMessage(msg elevenLabsMsg) {
	switch {
	case msg.Kind == elKindSessionStarted:
		a.readyOnce.Do(func() {
			a.machine.To(StateSessionReady)
			close(a.sessionReady)
		})

	case msg.Kind == elKindPartial:
		a.bus.Publish(Event{Provider: ElevenLabs, Kind: EventTranscriptInterim, Text: msg.Text})

	case msg.Kind == elKindCommitted:
		a.commit(msg.Text, nil)

	case msg.Kind == elKindCommittedWithWords:
		a.commit(msg.Text, msg.Words)

	case elErrorKinds[msg.Kind]:
		a.protocolError(fmt.Errorf("%w: vendor %s: code=%s %s", ErrProtocol, msg.Kind, msg.Code, msg.Message))

	default:
		a.protocolError(fmt.Errorf("%w: unrecognized kind %q", ErrProtocol, msg.Kind))
	}
}

// commit publishes a committed transcript and its word timings. Committed
// segments accumulate across the cycle; when a commit was requested via
// EndAudio, the final transcript is every segment joined, not just the last
// one, and the session completes.
func (a *ElevenLabsAdapter) commit(text string, words []elevenLabsWord) {
	a.bus.Publish(Event{Provider: ElevenLabs, Kind: EventTranscriptCommitted, Text: text})
	for _, w := range words {
		a.bus.Publish(Event{Provider: ElevenLabs, Kind: EventWordTiming, Word: WordTiming{
			Word:       w.Word,
			StartMs:    int(w.Start),
			EndMs:      int(w.End),
			Confidence: w.Confidence,
		}})
	}

	a.mu.Lock()
	if text != "" {
		a.committed = append(a.committed, text)
	}
	finalizing := a.finalizing
	a.finalizing = false
	final := strings.Join(a.committed, " ")
	a.mu.Unlock()

	if finalizing {
		a.bus.Publish(Event{Provider: ElevenLabs, Kind: EventTranscriptFinal, Text: final})
		a.machine.ToIf(StateCompleted, StateProcessing)
	}
}

func (a *ElevenLabsAdapter) transportError(err error) {
	a.log.Warn().Err(err).Msg("transport failure")
	a.machine.To(StateError)
	a.bus.Publish(Event{Provider: ElevenLabs, Kind: EventError, Err: err})
}

func (a *ElevenLabsAdapter) protocolError(err error) {
	a.log.Warn().Err(err).Msg("protocol error (non-fatal)")
	a.bus.Publish(Event{Provider: ElevenLabs, Kind: EventError, Err: err})
}
