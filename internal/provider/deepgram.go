package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Inbound Deepgram message types.
const (
	dgTypeResults      = "Results"
	dgTypeMetadata     = "Metadata"
	dgTypeUtteranceEnd = "UtteranceEnd"
	dgTypeError        = "Error"
)

// dgCloseStream is the out-of-band finalize control message. Audio itself
// travels as raw binary frames with no envelope.
const dgCloseStream = `{"type":"CloseStream"}`

// dgMessage is the discriminated inbound message from the Deepgram live
// API.
type dgMessage struct {
	Type    string    `json:"type"`
	IsFinal bool      `json:"is_final"`
	Channel dgChannel `json:"channel"`
	Message string    `json:"message,omitempty"`
}

type dgChannel struct {
	Alternatives []dgAlternative `json:"alternatives"`
}

type dgAlternative struct {
	Transcript string   `json:"transcript"`
	Words      []dgWord `json:"words"`
}

type dgWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"` // seconds
	End        float64 `json:"end"`   // seconds
	Confidence float64 `json:"confidence"`
}

// DeepgramAdapter implements Adapter over the Deepgram live protocol: all
// session parameters are baked into the connection URL at connect time,
// audio goes out as raw binary frames, and finalization is signaled with an
// out-of-band CloseStream control message. There is no configuration
// handshake; a successful websocket upgrade against the parameterized URL
// is the vendor's session-start acknowledgment.
type DeepgramAdapter struct {
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

	committed  []string
	finalizing bool
	closing    bool
}

// NewDeepgram creates an unconfigured Deepgram adapter.
func NewDeepgram(log zerolog.Logger) *DeepgramAdapter {
	bus := NewBus()
	return &DeepgramAdapter{
		machine: NewMachine(Deepgram, bus),
		bus:     bus,
		log:     log.With().Str("provider", string(Deepgram)).Logger(),
	}
}

func (a *DeepgramAdapter) ID() ID       { return Deepgram }
func (a *DeepgramAdapter) Events() *Bus { return a.bus }
func (a *DeepgramAdapter) State() State { return a.machine.Current() }

// Configure stores connection parameters without connecting.
func (a *DeepgramAdapter) Configure(token, endpoint string, params Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.endpoint = endpoint
	a.params = params
}

// sessionURL encodes the session parameters into the endpoint. The trainee's
// own talk/end actions control segmentation, so vendor turn detection is
// disabled.
func (a *DeepgramAdapter) sessionURL() (string, error) {
	a.mu.Lock()
	endpoint, params := a.endpoint, a.params
	a.mu.Unlock()

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if params.Model != "" {
		q.Set("model", params.Model)
	}
	if params.Language != "" {
		q.Set("language", params.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(params.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("vad_events", "false")
	q.Set("endpointing", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the parameterized endpoint. Session-ready is reached as
// soon as the upgrade succeeds; this vendor sends no session-start message.
func (a *DeepgramAdapter) Connect(ctx context.Context) error {
	if err := a.machine.To(StateConnecting); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	target, err := a.sessionURL()
	if err != nil {
		a.machine.To(StateError)
		return fmt.Errorf("%w: endpoint: %v", ErrConnection, err)
	}

	a.mu.Lock()
	token, timeout := a.token, a.params.SessionStartTimeout
	a.closing = false
	a.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Token "+token)

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		a.machine.To(StateError)
		return fmt.Errorf("%w: dial: %v", ErrConnection, err)
	}

	frames := make(chan []byte, frameQueueCap)
	stop := make(chan struct{})
	a.mu.Lock()
	a.conn = conn
	a.frames = frames
	a.stopWriter = stop
	a.mu.Unlock()

	a.machine.To(StateSessionReady)
	go a.readLoop(conn)
	go a.writeLoop(conn, frames, stop)
	return nil
}

// SendAudio queues one PCM frame for the writer goroutine. Never blocks:
// when the queue is full the frame is dropped, so a stalled vendor cannot
// back up into the capture loop or the other provider. No-op unless the
// session is listening-capable.
func (a *DeepgramAdapter) SendAudio(frame []byte) {
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

// writeLoop drains queued frames onto the socket as binary messages, one
// writer goroutine per connection. Every write carries a deadline.
func (a *DeepgramAdapter) writeLoop(conn *websocket.Conn, frames <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-frames:
			a.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.BinaryMessage, frame)
			a.writeMu.Unlock()
			if err != nil {
				a.transportError(fmt.Errorf("%w: write: %v", ErrConnection, err))
				return
			}
		}
	}
}

// EndAudio sends the out-of-band CloseStream control message off the
// caller's goroutine and moves to processing.
func (a *DeepgramAdapter) EndAudio() {
	if !a.machine.ToIf(StateProcessing, StateListening) {
		return
	}
	a.mu.Lock()
	a.finalizing = true
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	go func() {
		a.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteMessage(websocket.TextMessage, []byte(dgCloseStream))
		a.writeMu.Unlock()
		if err != nil {
			a.transportError(fmt.Errorf("%w: close stream: %v", ErrConnection, err))
		}
	}()
}

// ResetForNewRecording clears accumulated transcript state while keeping
// the socket open.
func (a *DeepgramAdapter) ResetForNewRecording() {
	a.mu.Lock()
	a.committed = nil
	a.finalizing = false
	a.mu.Unlock()
	a.machine.ToIf(StateListening, StateCompleted, StateError, StateProcessing)
}

// Disconnect tears the transport down unconditionally.
func (a *DeepgramAdapter) Disconnect() {
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

// readLoop parses inbound JSON control/result messages until the transport
// dies. Binary is outbound-only on this protocol; anything unparseable is a
// non-fatal local protocol error.
func (a *DeepgramAdapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			closing := a.closing
			finalizing := a.finalizing
			a.mu.Unlock()
			if finalizing {
				// Vendor closes the stream after the post-CloseStream
				// summary; a close here still finalizes cleanly.
				a.emitFinal()
				return
			}
			if !closing {
				a.transportError(fmt.Errorf("%w: read: %v", ErrConnection, err))
			}
			return
		}

		var msg dgMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			a.protocolError(fmt.Errorf("%w: unparseable message: %v", ErrProtocol, err))
			continue
		}
		a.handleMessage(msg)
	}
}

func (a *DeepgramAdapter) handleMessage(msg dgMessage) {
	switch msg.Type {
	case dgTypeResults:
		a.handleResults(msg)

	case dgTypeMetadata:
		// Sent as the post-CloseStream summary. Outside finalization it
		// carries nothing we track.
		a.mu.Lock()
		finalizing := a.finalizing
		a.mu.Unlock()
		if finalizing {
			a.emitFinal()
		}

	case dgTypeUtteranceEnd:
		// Turn detection is disabled; ignore.

	case dgTypeError:
		a.protocolError(fmt.Errorf("%w: vendor error: %s", ErrProtocol, msg.Message))

	default:
		a.protocolError(fmt.Errorf("%w: unrecognized type %q", ErrProtocol, msg.Type))
	}
}

func (a *DeepgramAdapter) handleResults(msg dgMessage) {
	if len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	if !msg.IsFinal {
		a.bus.Publish(Event{Provider: Deepgram, Kind: EventTranscriptInterim, Text: alt.Transcript})
		return
	}

	a.mu.Lock()
	a.committed = append(a.committed, alt.Transcript)
	a.mu.Unlock()

	a.bus.Publish(Event{Provider: Deepgram, Kind: EventTranscriptCommitted, Text: alt.Transcript})
	for _, w := range alt.Words {
		a.bus.Publish(Event{Provider: Deepgram, Kind: EventWordTiming, Word: WordTiming{
			Word:       w.Word,
			StartMs:    int(w.Start * 1000),
			EndMs:      int(w.End * 1000),
			Confidence: w.Confidence,
		}})
	}
}

// emitFinal publishes the accumulated committed segments as the final
// transcript and completes the session. At most once per cycle.
func (a *DeepgramAdapter) emitFinal() {
	a.mu.Lock()
	if !a.finalizing {
		a.mu.Unlock()
		return
	}
	a.finalizing = false
	text := strings.Join(a.committed, " ")
	a.mu.Unlock()

	a.bus.Publish(Event{Provider: Deepgram, Kind: EventTranscriptFinal, Text: text})
	a.machine.ToIf(StateCompleted, StateProcessing)
}

func (a *DeepgramAdapter) transportError(err error) {
	a.log.Warn().Err(err).Msg("transport failure")
	a.machine.To(StateError)
	a.bus.Publish(Event{Provider: Deepgram, Kind: EventError, Err: err})
}

func (a *DeepgramAdapter) protocolError(err error) {
	a.log.Warn().Err(err).Msg("protocol error (non-fatal)")
	a.bus.Publish(Event{Provider: Deepgram, Kind: EventError, Err: err})
}
