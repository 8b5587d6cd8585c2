package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Clock drives a Driver: every Interval the simulation time advances by Delta
type Clock struct {
	Delta float64
	// Interval between ticks in wall time; zero runs ticks back to back
	Interval time.Duration
	// Ticks stops the loop after this many passes; zero runs until the context ends
	Ticks int
}

// DefaultClock matches an interactive 60 Hz host
func DefaultClock() Clock {
	return Clock{Delta: 0.02, Interval: 16 * time.Millisecond}
}

// Run ticks the driver until ctx is done or the tick budget is spent and
// hands every frame to the sinks. A cancelled context ends the loop
// without error.
func (d *Driver) Run(ctx context.Context, clock Clock, sinks ...FrameSink) error {
	var ticker *time.Ticker
	if clock.Interval > 0 {
		ticker = time.NewTicker(clock.Interval)
		defer ticker.Stop()
	}

	for n := 0; clock.Ticks == 0 || n < clock.Ticks; n++ {
		if ticker != nil && n > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		frame, err := d.Tick(ctx, clock.Delta)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("tick %d: %w", n, err)
		}

		for _, s := range sinks {
			if err := s.WriteFrame(frame); err != nil {
				return fmt.Errorf("failed to write frame %d: %w", frame.Seq, err)
			}
		}
	}
	return nil
}
