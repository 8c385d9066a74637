/*
Package metrics provides Prometheus metrics collection and exposition for
the gateway.

Metrics instrument the workflow-job lifecycle (state transitions,
submission outcomes, poll duration), queue depth, and datastore/bus/HPC
connector health, exposed over HTTP for scraping.

# Metrics Catalog

operandi_workflow_jobs_total{state}:
  - Type: Gauge
  - Total workflow jobs currently in each job_state.

operandi_job_transitions_total{from, to}:
  - Type: Counter
  - Total state-machine transitions observed.

operandi_submit_duration_seconds:
  - Type: Histogram
  - Time taken by Submit to return a remote_job_id.

operandi_submit_failures_total:
  - Type: Counter
  - Total submissions that failed with SubmitFailed.

operandi_poll_duration_seconds:
  - Type: Histogram
  - Wall-clock time spent in poll_until_terminal per job.

operandi_queue_depth{queue}:
  - Type: Gauge
  - Messages ready for delivery per queue, sampled by pkg/bus each time it
    declares the queue.

operandi_processing_pages_total{institution_id, outcome}:
  - Type: Counter
  - Pages processed, partitioned by success/fail outcome.

# Usage

	timer := metrics.NewTimer()
	remoteJobID, err := executor.Submit(conn, dir, spec)
	timer.ObserveDuration(metrics.SubmitDuration)
	if err != nil {
		metrics.SubmitFailuresTotal.Inc()
	}

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
