package orchestrator

import (
	"context"
	"errors"

	"batchsub/internal/logger"
)

// resources records what a run has created so far. Only listed resources are
// released; a name collision on creation must never delete a container the
// run does not own.
type resources struct {
	inputContainer  string
	outputContainer string
	pool            string
	job             string
}

// teardown releases every recorded resource in reverse dependency order:
// outputs are downloaded first (when the run completed and download was
// requested), then job, pool, output container, input container. Each step is
// attempted regardless of earlier failures — leaving a remote resource alive
// costs more than a partial cleanup error. Failures are logged per resource
// and joined into the returned error.
func (r *Runner) teardown(ctx context.Context, created *resources, completed bool) error {
	// Cleanup still runs after cancellation or deadline expiry.
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx, r.log)
	var errs []error

	keepOutputs := false
	if created.outputContainer != "" && completed {
		if !r.opts.DownloadOutputs {
			keepOutputs = true
			log.Info("output download skipped, keeping output container", "container", created.outputContainer)
		} else if err := r.stager.Download(ctx, created.outputContainer, r.opts.OutputDir); err != nil {
			// Do not destroy outputs that were never retrieved.
			keepOutputs = true
			log.Warn("output download failed, keeping output container", "container", created.outputContainer, "error", err)
			errs = append(errs, err)
		}
	}

	if created.job != "" {
		if err := r.provisioner.DeleteJob(ctx, created.job); err != nil {
			log.Warn("job deletion failed", "job", created.job, "error", err)
			errs = append(errs, err)
		}
	}
	if created.pool != "" {
		if err := r.provisioner.DeletePool(ctx, created.pool); err != nil {
			log.Warn("pool deletion failed", "pool", created.pool, "error", err)
			errs = append(errs, err)
		}
	}
	if created.outputContainer != "" && !keepOutputs {
		if err := r.stager.DeleteContainer(ctx, created.outputContainer); err != nil {
			log.Warn("output container deletion failed", "container", created.outputContainer, "error", err)
			errs = append(errs, err)
		}
	}
	if created.inputContainer != "" {
		if err := r.stager.DeleteContainer(ctx, created.inputContainer); err != nil {
			log.Warn("input container deletion failed", "container", created.inputContainer, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
