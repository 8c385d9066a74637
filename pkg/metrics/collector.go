package metrics

import (
	"context"
	"time"
)

// JobCounter reports the current count of workflow jobs in each state. It
// is satisfied by pkg/storage's aggregate queries; kept as an interface
// here so metrics stays free of a storage import cycle.
type JobCounter interface {
	CountWorkflowJobsByState(ctx context.Context) (map[string]int, error)
}

// Collector periodically samples job-state gauges from the datastore.
type Collector struct {
	counter JobCounter
	stopCh  chan struct{}
}

// NewCollector creates a collector sampling from counter; Start sets the
// sampling interval.
func NewCollector(counter JobCounter) *Collector {
	return &Collector{counter: counter, stopCh: make(chan struct{})}
}

// Start begins periodic collection on its own goroutine.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := c.counter.CountWorkflowJobsByState(ctx)
	if err != nil {
		return
	}
	for state, count := range counts {
		WorkflowJobsTotal.WithLabelValues(state).Set(float64(count))
	}
}
