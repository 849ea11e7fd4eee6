package system

import (
	"context"
	"fmt"
	"time"
)

// Pauser implements forum.Pauser with a real timer.
type Pauser struct{}

// NewPauser creates a new Pauser.
func NewPauser() *Pauser {
	return &Pauser{}
}

// Pause blocks for delay or until ctx is done, whichever comes first.
func (Pauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
