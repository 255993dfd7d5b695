package ttsgw

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	maxAttempts         = 3
	initialRetryBackoff = 500 * time.Millisecond
	retryBackoffFactor  = 2
)

// Sentence is one unit of work submitted to a [Gateway].
type Sentence struct {
	Index int
	Text  string
}

// Callbacks receives the delivery events a [Gateway] produces for one
// session, in the order the protocol requires: Start, then zero or more
// Chunk, then exactly one of Complete or Failed.
type Callbacks struct {
	OnStart    func(index int, text string)
	OnChunk    func(index int, data []byte)
	OnComplete func(index int, meta Metadata)
	OnFailed   func(index int, err error)
}

// Gateway synthesizes sentences for one session strictly in order, one at a
// time, retrying a failed sentence before giving up on it.
//
// Gateway is safe for concurrent use; Submit may be called from any
// goroutine, but delivery to Callbacks is always serialized.
type Gateway struct {
	provider Provider
	voice    string
	rate     float64
	pitch    float64
	format   string
	cb       Callbacks

	queue chan Sentence
	done  chan struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
}

// Config carries the voice parameters applied to every sentence submitted to
// a [Gateway] (an agent's voice settings are fixed for the session).
type Config struct {
	Voice  string
	Rate   float64
	Pitch  float64
	Format string
}

// New starts a Gateway's worker loop. queueDepth bounds how many sentences
// may be pending synthesis before Submit blocks.
func New(ctx context.Context, provider Provider, cfg Config, cb Callbacks, queueDepth int) *Gateway {
	if queueDepth <= 0 {
		queueDepth = 16
	}
	g := &Gateway{
		provider: provider,
		voice:    cfg.Voice,
		rate:     cfg.Rate,
		pitch:    cfg.Pitch,
		format:   cfg.Format,
		cb:       cb,
		queue:    make(chan Sentence, queueDepth),
		done:     make(chan struct{}),
	}
	g.wg.Add(1)
	go g.run(ctx)
	return g
}

// Submit enqueues a sentence for synthesis. It blocks only if the internal
// queue is full; callers should size queueDepth for their expected burst.
func (g *Gateway) Submit(s Sentence) error {
	select {
	case <-g.done:
		return fmt.Errorf("ttsgw: gateway closed")
	case g.queue <- s:
		return nil
	}
}

// Close stops accepting new sentences and waits for the worker to exit. An
// attempt already in progress runs to its end; once Close is called, a
// failed attempt is not retried and its sentence gets no OnFailed callback.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() {
		close(g.done)
	})
	g.wg.Wait()
}

func (g *Gateway) run(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case s := <-g.queue:
			g.synthesizeWithRetry(ctx, s)
		}
	}
}

// synthesizeWithRetry drives up to maxAttempts synthesis calls for one
// sentence. OnStart fires exactly once regardless of how many attempts are
// needed; OnFailed fires only after the final attempt is exhausted.
func (g *Gateway) synthesizeWithRetry(ctx context.Context, s Sentence) {
	if g.cb.OnStart != nil {
		g.cb.OnStart(s.Index, s.Text)
	}

	backoff := initialRetryBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := g.synthesizeOnce(ctx, s)
		if err == nil {
			return
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			attempt = maxAttempts
		case <-g.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= retryBackoffFactor
	}

	if g.cb.OnFailed != nil {
		g.cb.OnFailed(s.Index, fmt.Errorf("ttsgw: sentence %d failed after %d attempts: %w", s.Index, maxAttempts, lastErr))
	}
}

// synthesizeOnce runs a single synthesis attempt, streaming chunks to
// OnChunk as they arrive. It returns an error if the stream ends without a
// Metadata terminal event, leaving the caller to decide whether to retry.
func (g *Gateway) synthesizeOnce(ctx context.Context, s Sentence) error {
	events, err := g.provider.Synthesize(ctx, Request{
		Text:   s.Text,
		Voice:  g.voice,
		Rate:   g.rate,
		Pitch:  g.pitch,
		Format: g.format,
	})
	if err != nil {
		return err
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			return ev.Err
		case ev.Meta != nil:
			if g.cb.OnComplete != nil {
				g.cb.OnComplete(s.Index, *ev.Meta)
			}
			return nil
		default:
			if g.cb.OnChunk != nil {
				g.cb.OnChunk(s.Index, ev.Chunk)
			}
		}
	}
	return fmt.Errorf("ttsgw: synthesis stream closed without metadata")
}
