package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestPacerRejectsBadConfig(t *testing.T) {
	if _, err := NewPacer(0, 1); err == nil {
		t.Fatalf("expected error for zero rps")
	}
	if _, err := NewPacer(10, 0); err == nil {
		t.Fatalf("expected error for zero in-flight")
	}
}

func TestPacerBoundsInFlight(t *testing.T) {
	p, err := NewPacer(1000, 2)
	if err != nil {
		t.Fatalf("new pacer: %v", err)
	}
	ctx := context.Background()
	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if p.InFlight() != 2 {
		t.Fatalf("expected 2 in flight, got %d", p.InFlight())
	}

	// Third acquire must block until a slot is released.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := p.Acquire(blocked); err == nil {
		t.Fatalf("expected third acquire to block")
	}

	p.Release()
	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestPacerEnforcesMinDelay(t *testing.T) {
	p, err := NewPacer(20, 5) // 50ms min spacing
	if err != nil {
		t.Fatalf("new pacer: %v", err)
	}
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		p.Release()
	}
	// Three requests at 20 rps need at least ~100ms total.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("pacing too fast: %v", elapsed)
	}
}
