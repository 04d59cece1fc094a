package orchestrator

import (
	"context"
	"fmt"
	"time"

	"batchsub/internal/batch"
)

// awaitCompletion blocks until every task in the job reports a terminal
// state, checking once per poll interval. Completion is state-based: a task
// that exited non-zero still counts as complete here, only output capture is
// conditioned on success. The wait observes ctx, so callers can impose a
// deadline or cancel; cancellation is distinct from completion and still
// goes through teardown.
func (r *Runner) awaitCompletion(ctx context.Context, jobID string) error {
	for {
		tasks, err := r.provisioner.ListTasks(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll job %q: %w", jobID, err)
		}
		if allTerminal(tasks) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for job %q: %w", jobID, ctx.Err())
		case <-time.After(r.opts.PollInterval):
		}
	}
}

// allTerminal reports whether the round observed at least one task and every
// one of them is terminal. An empty round is not success: the task may not be
// visible to listing yet.
func allTerminal(tasks []batch.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !t.State.Terminal() {
			return false
		}
	}
	return true
}
