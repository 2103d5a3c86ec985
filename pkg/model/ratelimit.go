package model

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

// AdaptiveRateLimiter applies an AIMD-style token bucket in front of a
// Client. It estimates the token cost of each request, blocks the caller
// until capacity is available, halves its tokens-per-minute budget on
// ErrRateLimited, and recovers it gradually on success.
//
// The limiter is process-local: it has no cluster coordination, since this
// module runs one process per worker rather than a replicated fleet.
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveRateLimiter builds a limiter with the given tokens-per-minute
// budget. A zero or negative initialTPM defaults to a conservative 60000;
// maxTPM is clamped up to initialTPM if smaller.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// CurrentTPM returns the limiter's current tokens-per-minute budget.
func (l *AdaptiveRateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// Wrap returns a Client that enforces the limiter's budget before every
// Complete/Stream/Embed/EmbedBatch call and adjusts the budget based on
// whether the call returned ErrRateLimited.
func (l *AdaptiveRateLimiter) Wrap(next Client) Client {
	if next == nil {
		return nil
	}
	return &limitedClient{next: next, limiter: l}
}

type limitedClient struct {
	next    Client
	limiter *AdaptiveRateLimiter
}

func (c *limitedClient) Complete(ctx context.Context, req Request) (message.Message, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return message.Message{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (c *limitedClient) Stream(ctx context.Context, req Request, sink *queue.Queue[message.Message]) (message.Message, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return message.Message{}, err
	}
	resp, err := c.next.Stream(ctx, req, sink)
	c.limiter.observe(err)
	return resp, err
}

func (c *limitedClient) Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error) {
	if err := c.limiter.waitTokens(ctx, estimateBlockTokens(content)); err != nil {
		return nil, err
	}
	vec, err := c.next.Embed(ctx, content, dimensions)
	c.limiter.observe(err)
	return vec, err
}

func (c *limitedClient) EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error) {
	total := 0
	for _, content := range contents {
		total += estimateBlockTokens(content)
	}
	if err := c.limiter.waitTokens(ctx, total); err != nil {
		return nil, err
	}
	vecs, err := c.next.EmbedBatch(ctx, contents, dimensions)
	c.limiter.observe(err)
	return vecs, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req Request) error {
	return l.waitTokens(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) waitTokens(ctx context.Context, tokens int) error {
	return l.limiter.WaitN(ctx, tokens)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setLimitLocked(newTPM)
	l.mu.Unlock()
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setLimitLocked(newTPM)
	l.mu.Unlock()
}

// setLimitLocked updates currentTPM and the underlying limiter. Caller must
// hold l.mu.
func (l *AdaptiveRateLimiter) setLimitLocked(newTPM float64) {
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens is a cheap heuristic over a request's text content: count
// characters, convert at a fixed ratio, and add a fixed buffer for system
// prompts and provider framing.
func estimateTokens(req Request) int {
	charCount := 0
	for _, m := range req.Messages {
		charCount += len(m.Text())
	}
	return charCount/3 + 500
}

// estimateBlockTokens is estimateTokens's counterpart for a single
// embedding call's raw content blocks.
func estimateBlockTokens(content []message.Block) int {
	charCount := 0
	for _, b := range content {
		if tb, ok := b.(message.TextBlock); ok {
			charCount += len(tb.Text)
		}
	}
	return charCount/3 + 500
}
