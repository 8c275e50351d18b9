package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Pacer bounds outbound requests to an external provider: at most
// maxInFlight concurrent requests, and a minimum inter-request delay of
// 1/reqsPerSec.
type Pacer struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewPacer creates a Pacer allowing reqsPerSec requests per second with
// at most maxInFlight outstanding at once.
func NewPacer(reqsPerSec, maxInFlight int) (*Pacer, error) {
	if reqsPerSec <= 0 || maxInFlight <= 0 {
		return nil, fmt.Errorf("ratelimit: rps and in-flight must be positive")
	}
	return &Pacer{
		sem:     make(chan struct{}, maxInFlight),
		limiter: rate.NewLimiter(rate.Limit(reqsPerSec), 1),
	}, nil
}

// Acquire blocks until a slot is free and the rate limiter admits one
// request. Callers must Release the slot when the request finishes.
func (p *Pacer) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		<-p.sem
		return err
	}
	return nil
}

// Release frees a slot acquired with Acquire.
func (p *Pacer) Release() {
	select {
	case <-p.sem:
	default:
	}
}

// InFlight reports the number of currently held slots.
func (p *Pacer) InFlight() int { return len(p.sem) }
