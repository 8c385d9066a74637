// Package worker implements the per-queue Worker: a process-group leader
// that binds a datastore handle, an HPC cluster facade, and a bus consumer
// to a single queue, handles one delivery at a time, and drives each job
// through the state machine QUEUED → RUNNING → {SUCCESS|FAILED}.
//
// # Lifecycle
//
// On Run: become a process-group leader, install SIGINT/SIGTERM handlers,
// and enter the consume loop on the queue Bind attached. Each delivery is
// handled serially (prefetch one); the worker never handles more than one
// delivery at a time. Jobs whose delivery is already acked may still be in
// the poll phase described below, concurrently with the next delivery.
//
// # Per-message algorithm
//
//  1. Record the delivery tag; mark an in-flight job.
//  2. Parse the payload. A parse failure is permanent: ack, never nack (a
//     malformed message can never become parseable). No job record is
//     marked, since the job id is not known.
//  3. Read the workflow, workspace, and job records. Any datastore failure
//     marks the job FAILED and acks for the same reason.
//  4. Resolve workspace_dir, workflow_script_path, and mets_basename.
//  5. Upload the batch script and the packed workspace.
//  6. Submit the batch job, persist the remote-job record.
//  7. Transition QUEUED → RUNNING, ack, clear in-flight.
//
// A second, internal phase (pollAndFinish) then polls the submitted job to
// a terminal state and performs the SUCCESS/FAILED transition and the
// result download. This phase is not visible on the message bus: it runs
// as a detached goroutine, already acked, so a worker shutdown does not
// wait for it; the remote job keeps running and its result is orphaned
// (see the cancel subcommand for the administrative escape hatch).
//
// # Interruption
//
// On SIGINT/SIGTERM: if a job is in flight, mark it FAILED and ack its
// delivery tag; without a workspace-snapshot facility, requeueing would
// leak a partial upload on the cluster. The consumer is then closed and the
// process exits.
package worker
