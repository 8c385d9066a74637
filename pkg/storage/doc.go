/*
Package storage provides MongoDB-backed persistence for the gateway's
workflow-execution data: user accounts, workspaces, workflows, workflow
jobs, remote (Slurm) job records, and processing statistics.

Two façades share the same schema and the same underlying collections:

  - Store: blocking, used by the worker. Every call takes a
    context.Context and round-trips to Mongo synchronously.
  - AsyncStore: a thin goroutine wrapper returning a Future, standing in
    for the event-loop-driven request-ingress path (out of scope here,
    but given a non-blocking entry point so a future HTTP surface does not
    need to touch this package's schema).

set_state is the only sanctioned mutator of WorkflowJob.job_state; it
enforces that terminal states never transition again, returning
types.ErrIllegalTransition otherwise.
*/
package storage
