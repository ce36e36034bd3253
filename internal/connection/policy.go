package connection

import (
	"context"
	"time"

	"github.com/sbctool/sbctool/internal/config"
)

// Policy is capped exponential backoff.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// PolicyFromConfig converts the reconnect section of the config.
func PolicyFromConfig(cfg config.ReconnectConfig) Policy {
	return Policy{BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay, MaxRetries: cfg.MaxRetries}
}

// Delay returns the wait before the given attempt, counting from 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
