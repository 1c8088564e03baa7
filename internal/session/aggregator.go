// Package session coordinates one recording attempt: it fans trainee audio
// out to the live provider adapters, aggregates their transcript events per
// provider, and produces a scored result for each when the attempt finishes.
package session

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/metrics"
	"github.com/snarg/rt-trainer/internal/provider"
)

// wordKey identifies a word timing for deduplication. Vendors resend timing
// payloads across commit boundaries; an exact triple match is a duplicate.
type wordKey struct {
	word    string
	startMs int
	endMs   int
}

// TranscriptState holds everything one provider has said during the current
// recording cycle. Committed text is append-only; final is set at most once.
type TranscriptState struct {
	Interim   string
	Committed []string
	Final     string
	finalSet  bool

	Words []provider.WordTiming
	seen  map[wordKey]struct{}

	finalCh chan struct{}
}

func newTranscriptState() *TranscriptState {
	return &TranscriptState{
		seen:    make(map[wordKey]struct{}),
		finalCh: make(chan struct{}),
	}
}

// bestKnown returns the most trustworthy text available: final if set,
// otherwise joined committed segments, otherwise the last interim.
func (s *TranscriptState) bestKnown() string {
	if s.finalSet {
		return s.Final
	}
	if len(s.Committed) > 0 {
		return strings.Join(s.Committed, " ")
	}
	return s.Interim
}

// Aggregator applies provider events to per-provider transcript state.
// Every recording cycle gets a monotonically increasing id; events stamped
// with an older cycle are discarded, which makes late vendor messages from a
// previous attempt harmless.
type Aggregator struct {
	mu     sync.Mutex
	cycle  uint64
	states map[provider.ID]*TranscriptState
	log    zerolog.Logger
}

// NewAggregator creates an aggregator with no active cycle.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{
		states: make(map[provider.ID]*TranscriptState),
		log:    log.With().Str("component", "aggregator").Logger(),
	}
}

// BeginCycle discards all previous transcript state, allocates fresh state
// for the given providers and returns the new cycle id.
func (a *Aggregator) BeginCycle(ids []provider.ID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cycle++
	a.states = make(map[provider.ID]*TranscriptState, len(ids))
	for _, id := range ids {
		a.states[id] = newTranscriptState()
	}
	return a.cycle
}

// Cycle returns the current cycle id.
func (a *Aggregator) Cycle() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycle
}

// Apply folds one provider event into the state for its provider. Events
// stamped with a stale cycle are dropped. Events are applied strictly in
// receipt order per provider; no ordering is assumed across providers.
func (a *Aggregator) Apply(cycle uint64, e provider.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cycle != a.cycle {
		a.log.Debug().
			Str("provider", string(e.Provider)).
			Str("kind", string(e.Kind)).
			Uint64("event_cycle", cycle).
			Uint64("current_cycle", a.cycle).
			Msg("discarding stale event")
		return
	}
	st := a.states[e.Provider]
	if st == nil {
		return
	}

	metrics.ProviderEvents.WithLabelValues(string(e.Provider), string(e.Kind)).Inc()

	switch e.Kind {
	case provider.EventTranscriptInterim:
		st.Interim = e.Text
	case provider.EventTranscriptCommitted:
		if e.Text != "" {
			st.Committed = append(st.Committed, e.Text)
		}
	case provider.EventTranscriptFinal:
		if !st.finalSet {
			st.finalSet = true
			st.Final = e.Text
			close(st.finalCh)
		}
	case provider.EventWordTiming:
		key := wordKey{word: e.Word.Word, startMs: e.Word.StartMs, endMs: e.Word.EndMs}
		if _, dup := st.seen[key]; !dup {
			st.seen[key] = struct{}{}
			st.Words = append(st.Words, e.Word)
		}
	case provider.EventError:
		a.log.Warn().Err(e.Err).Str("provider", string(e.Provider)).Msg("provider error event")
	}
}

// FinalDone returns a channel closed when the provider's final transcript
// arrives. Returns a closed channel for unknown providers so waiters never
// hang on a provider that has no state this cycle.
func (a *Aggregator) FinalDone(id provider.ID) <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st := a.states[id]; st != nil {
		return st.finalCh
	}
	done := make(chan struct{})
	close(done)
	return done
}

// BestKnown returns the provider's best available transcript and whether it
// is the vendor's final.
func (a *Aggregator) BestKnown(id provider.ID) (text string, final bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.states[id]
	if st == nil {
		return "", false
	}
	return st.bestKnown(), st.finalSet
}

// Words returns the deduplicated word timings collected for the provider
// this cycle.
func (a *Aggregator) Words(id provider.ID) []provider.WordTiming {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.states[id]
	if st == nil {
		return nil
	}
	out := make([]provider.WordTiming, len(st.Words))
	copy(out, st.Words)
	return out
}
