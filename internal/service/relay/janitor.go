package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically drops abandoned poll buffers.
type Janitor struct {
	cron  *cron.Cron
	relay *Relay
}

// NewJanitor schedules the sweep. schedule accepts standard cron expressions and
// descriptors such as "@every 1m".
func NewJanitor(r *Relay, schedule string) (*Janitor, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	j := &Janitor{cron: c, relay: r}

	if _, err := c.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("cron: invalid poll sweep schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) sweep() {
	if removed := j.relay.SweepPolls(time.Now().UTC()); removed > 0 {
		log.Printf("[cron] removed %d stale poll buffers", removed)
	}
}

// Start begins running the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
