package metrics

import (
	"context"
	"time"

	"github.com/hyperbola/sessiond/pkg/registry"
	"github.com/hyperbola/sessiond/pkg/types"
)

// Collector refreshes the session population gauges from the registry.
type Collector struct {
	registry *registry.Registry
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling the registry every 15 seconds.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{
		registry: reg,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect performs one gauge refresh. Store failures leave the previous
// values in place.
func (c *Collector) Collect(ctx context.Context) {
	sessions, err := c.registry.List(ctx)
	if err != nil {
		return
	}

	counts := map[types.SessionStatus]int{
		types.StatusCreated:  0,
		types.StatusRunning:  0,
		types.StatusSleeping: 0,
	}
	for _, s := range sessions {
		counts[s.Status]++
	}
	for status, n := range counts {
		SessionsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
