package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeJobCounter struct {
	mu     sync.Mutex
	counts map[string]int
	calls  int
}

func (f *fakeJobCounter) CountWorkflowJobsByState(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.counts, nil
}

func (f *fakeJobCounter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCollectorSamplesJobStateGauges(t *testing.T) {
	counter := &fakeJobCounter{counts: map[string]int{"QUEUED": 3, "RUNNING": 1}}

	c := NewCollector(counter)
	c.Start(time.Hour) // the initial collect fires immediately
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return counter.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(WorkflowJobsTotal.WithLabelValues("QUEUED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkflowJobsTotal.WithLabelValues("RUNNING")))
}

func TestCollectorStopHaltsSampling(t *testing.T) {
	counter := &fakeJobCounter{counts: map[string]int{}}

	c := NewCollector(counter)
	c.Start(10 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return counter.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	settled := counter.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, counter.callCount(), settled+1, "at most one in-flight collect after Stop")
}
