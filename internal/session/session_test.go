package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/pool"
	"github.com/snarg/rt-trainer/internal/provider"
	"github.com/snarg/rt-trainer/internal/score"
)

// scriptedAdapter is an in-memory Adapter whose transcript behavior is set
// per test: what it commits and whether it ever delivers a final.
type scriptedAdapter struct {
	id  provider.ID
	bus *provider.Bus

	committed []string
	finalText string
	emitFinal bool

	mu     sync.Mutex
	state  provider.State
	frames int
	resets int
}

func (f *scriptedAdapter) ID() provider.ID       { return f.id }
func (f *scriptedAdapter) Events() *provider.Bus { return f.bus }

func (f *scriptedAdapter) Configure(token, endpoint string, params provider.Params) {}

func (f *scriptedAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = provider.StateSessionReady
	return nil
}

func (f *scriptedAdapter) State() provider.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *scriptedAdapter) SendAudio(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
}

func (f *scriptedAdapter) EndAudio() {
	for _, seg := range f.committed {
		f.bus.Publish(provider.Event{Provider: f.id, Kind: provider.EventTranscriptCommitted, Text: seg})
	}
	if f.emitFinal {
		f.bus.Publish(provider.Event{Provider: f.id, Kind: provider.EventTranscriptFinal, Text: f.finalText})
	}
}

func (f *scriptedAdapter) ResetForNewRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.state = provider.StateListening
}

func (f *scriptedAdapter) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = provider.StateDisconnected
}

func newTestPool(adapters map[provider.ID]*scriptedAdapter) *pool.Pool {
	urls := make(map[provider.ID]string, len(adapters))
	for id := range adapters {
		urls[id] = "http://tokens/" + string(id)
	}
	return pool.New(pool.Options{
		TokenURLs:     urls,
		RefreshBuffer: time.Second,
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		FetchToken: func(ctx context.Context, url, sessionID string) (pool.Token, error) {
			return pool.Token{Value: "tok", Endpoint: "ws://x", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		NewAdapter: func(id provider.ID, log zerolog.Logger) provider.Adapter {
			return adapters[id]
		},
		Log: zerolog.Nop(),
	})
}

func testExpectation() Expectation {
	return Expectation{
		Answer: "atc bowser one holding short runway two seven over",
		Mode:   score.ModeFullTransmission,
	}
}

func TestAggregatorBestKnownFallbackOrder(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	cycle := a.BeginCycle([]provider.ID{provider.ElevenLabs})

	a.Apply(cycle, provider.Event{Provider: provider.ElevenLabs, Kind: provider.EventTranscriptInterim, Text: "hold"})
	if got, _ := a.BestKnown(provider.ElevenLabs); got != "hold" {
		t.Errorf("interim-only BestKnown = %q, want hold", got)
	}

	a.Apply(cycle, provider.Event{Provider: provider.ElevenLabs, Kind: provider.EventTranscriptCommitted, Text: "holding short"})
	a.Apply(cycle, provider.Event{Provider: provider.ElevenLabs, Kind: provider.EventTranscriptCommitted, Text: "runway two seven"})
	if got, _ := a.BestKnown(provider.ElevenLabs); got != "holding short runway two seven" {
		t.Errorf("committed BestKnown = %q", got)
	}

	a.Apply(cycle, provider.Event{Provider: provider.ElevenLabs, Kind: provider.EventTranscriptFinal, Text: "holding short runway two seven over"})
	got, final := a.BestKnown(provider.ElevenLabs)
	if !final || got != "holding short runway two seven over" {
		t.Errorf("BestKnown = %q final=%v, want final text", got, final)
	}
}

func TestAggregatorStaleCycleDiscarded(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	old := a.BeginCycle([]provider.ID{provider.Deepgram})
	a.BeginCycle([]provider.ID{provider.Deepgram})

	a.Apply(old, provider.Event{Provider: provider.Deepgram, Kind: provider.EventTranscriptCommitted, Text: "leftover"})
	if got, _ := a.BestKnown(provider.Deepgram); got != "" {
		t.Errorf("stale event applied: BestKnown = %q, want empty", got)
	}
}

func TestAggregatorFinalSetOnce(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	cycle := a.BeginCycle([]provider.ID{provider.Deepgram})

	a.Apply(cycle, provider.Event{Provider: provider.Deepgram, Kind: provider.EventTranscriptFinal, Text: "first"})
	a.Apply(cycle, provider.Event{Provider: provider.Deepgram, Kind: provider.EventTranscriptFinal, Text: "second"})
	if got, _ := a.BestKnown(provider.Deepgram); got != "first" {
		t.Errorf("final overwritten: %q, want first", got)
	}

	select {
	case <-a.FinalDone(provider.Deepgram):
	default:
		t.Error("FinalDone not closed after final event")
	}
}

func TestAggregatorWordDedup(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	cycle := a.BeginCycle([]provider.ID{provider.ElevenLabs})

	w := provider.WordTiming{Word: "runway", StartMs: 100, EndMs: 400, Confidence: 0.9}
	a.Apply(cycle, provider.Event{Provider: provider.ElevenLabs, Kind: provider.EventWordTiming, Word: w})
	a.Apply(cycle, provider.Event{Provider: provider.ElevenLabs, Kind: provider.EventWordTiming, Word: w})
	shifted := w
	shifted.StartMs = 120
	a.Apply(cycle, provider.Event{Provider: provider.ElevenLabs, Kind: provider.EventWordTiming, Word: shifted})

	if got := len(a.Words(provider.ElevenLabs)); got != 2 {
		t.Errorf("words = %d, want 2 (exact triple dedup only)", got)
	}
}

func TestSessionFinishScoresEachProvider(t *testing.T) {
	adapters := map[provider.ID]*scriptedAdapter{
		provider.ElevenLabs: {
			id: provider.ElevenLabs, bus: provider.NewBus(),
			emitFinal: true,
			finalText: "atc bowser one holding short runway two seven over",
		},
		provider.Deepgram: {
			id: provider.Deepgram, bus: provider.NewBus(),
			emitFinal: true,
			finalText: "atc bowser one holding short runway two five over",
		},
	}
	s := New(Options{Pool: newTestPool(adapters), FinalizeTimeout: 2 * time.Second, Log: zerolog.Nop()})

	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Frame(make([]byte, 640))

	results, err := s.Finish(context.Background(), testExpectation())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	byProvider := map[provider.ID]Result{}
	for _, r := range results {
		byProvider[r.Provider] = r
	}

	exact := byProvider[provider.ElevenLabs]
	if !exact.Final || exact.TimedOut {
		t.Errorf("elevenlabs final=%v timed_out=%v, want final and not timed out", exact.Final, exact.TimedOut)
	}
	if exact.Score.Accuracy != 100 {
		t.Errorf("exact readback accuracy = %d, want 100", exact.Score.Accuracy)
	}

	wrong := byProvider[provider.Deepgram]
	if wrong.Score.Accuracy >= exact.Score.Accuracy {
		t.Errorf("wrong runway accuracy %d not below exact %d", wrong.Score.Accuracy, exact.Score.Accuracy)
	}
}

func TestSessionFinalizeTimeoutFallsBack(t *testing.T) {
	adapters := map[provider.ID]*scriptedAdapter{
		provider.Deepgram: {
			id: provider.Deepgram, bus: provider.NewBus(),
			committed: []string{"holding short", "runway two seven"},
			emitFinal: false,
		},
	}
	s := New(Options{Pool: newTestPool(adapters), FinalizeTimeout: 50 * time.Millisecond, Log: zerolog.Nop()})

	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	results, err := s.Finish(context.Background(), testExpectation())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r := results[0]
	if !r.TimedOut {
		t.Error("TimedOut = false, want true with no final delivered")
	}
	if r.Final {
		t.Error("Final = true, want false")
	}
	if r.Transcript != "holding short runway two seven" {
		t.Errorf("fallback transcript = %q, want joined committed text", r.Transcript)
	}
	if r.Score.Overall == 0 {
		t.Error("fallback transcript scored zero, want a real score")
	}
}

func TestSessionOpenEndedSkipsLocalScore(t *testing.T) {
	a := &scriptedAdapter{
		id: provider.ElevenLabs, bus: provider.NewBus(),
		emitFinal: true,
		finalText: "tower bowser one radio check over",
	}
	s := New(Options{Pool: newTestPool(map[provider.ID]*scriptedAdapter{provider.ElevenLabs: a}), FinalizeTimeout: time.Second, Log: zerolog.Nop()})

	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	results, err := s.Finish(context.Background(), Expectation{Mode: score.ModeFullTransmission})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r := results[0]
	if r.Score != nil {
		t.Errorf("open-ended attempt got a local score: %+v", r.Score)
	}
	if r.Transcript != "tower bowser one radio check over" {
		t.Errorf("transcript = %q, want the provider's final", r.Transcript)
	}
}

func TestSessionAbortReleasesRecordingGuard(t *testing.T) {
	a := &scriptedAdapter{id: provider.ElevenLabs, bus: provider.NewBus(), emitFinal: true, finalText: "x"}
	p := newTestPool(map[provider.ID]*scriptedAdapter{provider.ElevenLabs: a})
	s := New(Options{Pool: p, FinalizeTimeout: time.Second, Log: zerolog.Nop()})

	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Abort()
	s.Abort() // idempotent

	// A stuck recording guard would refuse token refresh forever.
	if err := p.Initialize(context.Background()); err != nil {
		t.Errorf("Initialize after Abort = %v, want nil", err)
	}

	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin after Abort: %v", err)
	}
	if _, err := s.Finish(context.Background(), testExpectation()); err != nil {
		t.Fatalf("Finish after Abort: %v", err)
	}

	if _, err := s.Finish(context.Background(), testExpectation()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Finish on aborted cycle = %v, want ErrNotRecording", err)
	}
}

func TestSessionFinishWithoutBegin(t *testing.T) {
	s := New(Options{Pool: newTestPool(nil), FinalizeTimeout: time.Second, Log: zerolog.Nop()})
	if _, err := s.Finish(context.Background(), testExpectation()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Finish = %v, want ErrNotRecording", err)
	}
}

func TestSessionFrameSkipsBusyAdapter(t *testing.T) {
	busy := &scriptedAdapter{id: provider.Deepgram, bus: provider.NewBus(), emitFinal: true}
	adapters := map[provider.ID]*scriptedAdapter{provider.Deepgram: busy}
	s := New(Options{Pool: newTestPool(adapters), FinalizeTimeout: time.Second, Log: zerolog.Nop()})

	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer s.Finish(context.Background(), testExpectation())

	busy.mu.Lock()
	busy.state = provider.StateProcessing
	busy.mu.Unlock()

	s.Frame(make([]byte, 640))

	busy.mu.Lock()
	frames := busy.frames
	busy.mu.Unlock()
	if frames != 0 {
		t.Errorf("frames sent to busy adapter = %d, want 0", frames)
	}
}

func TestSessionResetsAdaptersOnBegin(t *testing.T) {
	a := &scriptedAdapter{id: provider.ElevenLabs, bus: provider.NewBus(), emitFinal: true}
	s := New(Options{Pool: newTestPool(map[provider.ID]*scriptedAdapter{provider.ElevenLabs: a}), FinalizeTimeout: time.Second, Log: zerolog.Nop()})

	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := s.Finish(context.Background(), testExpectation()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	s.Finish(context.Background(), testExpectation())

	a.mu.Lock()
	resets := a.resets
	a.mu.Unlock()
	if resets < 2 {
		t.Errorf("resets = %d, want one per Begin", resets)
	}
}
