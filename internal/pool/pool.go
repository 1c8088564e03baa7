// Package pool owns connection lifecycle and token state for all configured
// speech-to-text providers. It pre-establishes adapter sessions before the
// trainee presses talk, refreshes tokens ahead of expiry, and reuses warm
// connections across repeated recording attempts so connect latency is paid
// once per question, not once per attempt.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/rt-trainer/internal/metrics"
	"github.com/snarg/rt-trainer/internal/provider"
)

var (
	// ErrExhausted is the terminal pool error: every initialization attempt
	// failed and no provider ever reached a ready state.
	ErrExhausted = errors.New("pool: all providers failed, no transcription available")
	// ErrRecordingActive rejects token refresh or reconnection while a
	// recording cycle is in progress.
	ErrRecordingActive = errors.New("pool: recording cycle active")
)

// TokenFetcher fetches an ephemeral token from an issuance endpoint.
// Satisfied by (*TokenClient).Fetch.
type TokenFetcher func(ctx context.Context, url, sessionID string) (Token, error)

// AdapterFactory builds a fresh adapter for a provider.
type AdapterFactory func(id provider.ID, log zerolog.Logger) provider.Adapter

// Options configures the pool.
type Options struct {
	// TokenURLs maps each configured provider to its issuance endpoint.
	TokenURLs map[provider.ID]string

	Params        provider.Params
	RefreshBuffer time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration

	FetchToken TokenFetcher
	NewAdapter AdapterFactory
	Log        zerolog.Logger
}

// Pool holds warm provider connections. Explicitly constructed and owned;
// consumers receive it, they never reach for a global.
type Pool struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	tokens     map[provider.ID]Token
	adapters   map[provider.ID]provider.Adapter
	initActive bool
	recording  bool
	everReady  bool
}

// New creates a pool. No network activity until Initialize.
func New(opts Options) *Pool {
	if opts.NewAdapter == nil {
		opts.NewAdapter = defaultFactory
	}
	return &Pool{
		opts:     opts,
		log:      opts.Log,
		tokens:   make(map[provider.ID]Token),
		adapters: make(map[provider.ID]provider.Adapter),
	}
}

func defaultFactory(id provider.ID, log zerolog.Logger) provider.Adapter {
	switch id {
	case provider.Deepgram:
		return provider.NewDeepgram(log)
	default:
		return provider.NewElevenLabs(log)
	}
}

// Initialize warms the pool: fetches an ephemeral token for every
// configured provider in parallel and connects an adapter for each token
// obtained, also in parallel. Partial success is a valid operating mode;
// the pool is ready once at least one provider connects.
//
// Idempotent and re-entrant-safe: a call while another is in flight is a
// no-op, as is a call when every configured provider already holds a fresh
// token and a live adapter. Refresh is refused mid-recording.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.recording {
		p.mu.Unlock()
		return ErrRecordingActive
	}
	if p.initActive {
		p.mu.Unlock()
		return nil
	}
	if p.allFresh() {
		p.mu.Unlock()
		return nil
	}
	p.initActive = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.initActive = false
		p.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		metrics.PoolInitAttempts.Inc()
		ready, err := p.initializeOnce(ctx)
		if ready > 0 {
			p.mu.Lock()
			p.everReady = true
			p.mu.Unlock()
			p.log.Info().Int("providers_ready", ready).Int("attempt", attempt).Msg("pool ready")
			return nil
		}
		lastErr = err
		if attempt == p.opts.MaxAttempts {
			break
		}

		delay := time.Duration(attempt) * p.opts.BackoffBase
		p.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("pool initialization failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrExhausted, ctx.Err())
		}
	}

	metrics.PoolExhaustions.Inc()
	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// initializeOnce runs one round of parallel token fetch + connect for every
// provider that is not already live with a fresh token. Returns the number
// of providers ready after the round.
func (p *Pool) initializeOnce(ctx context.Context) (int, error) {
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	for id, tokenURL := range p.opts.TokenURLs {
		p.mu.Lock()
		fresh := p.tokens[id].Fresh(p.opts.RefreshBuffer) && p.liveLocked(id)
		p.mu.Unlock()
		if fresh {
			continue
		}

		wg.Add(1)
		go func(id provider.ID, tokenURL string) {
			defer wg.Done()
			if err := p.establish(ctx, id, tokenURL); err != nil {
				p.log.Warn().Err(err).Str("provider", string(id)).Msg("provider unavailable")
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				errMu.Unlock()
			}
		}(id, tokenURL)
	}
	wg.Wait()

	ready := len(p.Live())
	if ready == 0 {
		return 0, errors.Join(errs...)
	}
	return ready, nil
}

// establish fetches a token and connects one adapter for one provider.
func (p *Pool) establish(ctx context.Context, id provider.ID, tokenURL string) error {
	sessionID := uuid.NewString()
	tok, err := p.opts.FetchToken(ctx, tokenURL, sessionID)
	if err != nil {
		return fmt.Errorf("token fetch: %w", err)
	}
	if !tok.Fresh(p.opts.RefreshBuffer) {
		return fmt.Errorf("token already inside refresh buffer (expires %s)", tok.ExpiresAt)
	}

	adapter := p.opts.NewAdapter(id, p.log)
	adapter.Configure(tok.Value, tok.Endpoint, p.opts.Params)
	if err := adapter.Connect(ctx); err != nil {
		adapter.Disconnect()
		return err
	}

	p.mu.Lock()
	if old := p.adapters[id]; old != nil {
		old.Disconnect()
	}
	p.tokens[id] = tok
	p.adapters[id] = adapter
	p.mu.Unlock()

	p.log.Info().Str("provider", string(id)).Time("token_expires", tok.ExpiresAt).Msg("provider session warm")
	return nil
}

// Live returns the adapters currently holding an open session, in no
// particular order.
func (p *Pool) Live() []provider.Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []provider.Adapter
	for _, a := range p.adapters {
		if a.State().Live() {
			out = append(out, a)
		}
	}
	return out
}

// Ready reports whether at least one provider session is live.
func (p *Pool) Ready() bool { return len(p.Live()) > 0 }

// EverReady reports whether any provider ever reached a ready state. The
// distinction matters for error reporting: a pool that was never ready is
// "no transcription available", not a per-provider failure.
func (p *Pool) EverReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.everReady
}

// Acquire returns the live adapters, initializing the pool first if it is
// cold. This is the single construction path: callers that could not warm
// the pool in advance go through the same initialization, not a separate
// on-demand implementation.
func (p *Pool) Acquire(ctx context.Context) ([]provider.Adapter, error) {
	if live := p.Live(); len(live) > 0 {
		return live, nil
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	live := p.Live()
	if len(live) == 0 {
		return nil, ErrExhausted
	}
	return live, nil
}

// BeginRecording marks a recording cycle active, blocking token refresh and
// reconnection until EndRecording. Preserves attempt atomicity.
func (p *Pool) BeginRecording() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recording = true
}

// EndRecording marks the pool idle again.
func (p *Pool) EndRecording() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recording = false
}

// ResetAdaptersForNewRecording clears transcript state on every live
// adapter without touching transports. This is what amortizes connection
// cost across repeated attempts on a question.
func (p *Pool) ResetAdaptersForNewRecording() {
	for _, a := range p.Live() {
		a.ResetForNewRecording()
	}
}

// Teardown disconnects every adapter and clears all tokens. Safe to call
// repeatedly and with adapters already failed.
func (p *Pool) Teardown() {
	p.mu.Lock()
	adapters := p.adapters
	p.adapters = make(map[provider.ID]provider.Adapter)
	p.tokens = make(map[provider.ID]Token)
	p.recording = false
	p.mu.Unlock()

	for id, a := range adapters {
		a.Disconnect()
		p.log.Debug().Str("provider", string(id)).Msg("adapter disconnected")
	}
}

// allFresh reports whether every configured provider holds a fresh token
// and a live adapter. Caller holds p.mu.
func (p *Pool) allFresh() bool {
	if len(p.opts.TokenURLs) == 0 {
		return false
	}
	for id := range p.opts.TokenURLs {
		if !p.tokens[id].Fresh(p.opts.RefreshBuffer) || !p.liveLocked(id) {
			return false
		}
	}
	return true
}

func (p *Pool) liveLocked(id provider.ID) bool {
	a := p.adapters[id]
	return a != nil && a.State().Live()
}
