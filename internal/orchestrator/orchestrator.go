// Package orchestrator drives the lifecycle of one remote batch run: stage
// inputs, provision pool/job/task, wait for completion, retrieve outputs,
// and tear down every remote resource it created — on every exit path.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"batchsub/internal/batch"
	"batchsub/internal/config"
	"batchsub/internal/logger"
	"batchsub/internal/staging"
)

// DefaultPollInterval is the wait between completion checks.
const DefaultPollInterval = 30 * time.Second

// Stager stages files between the local machine and the remote object store.
// Implemented by *staging.Stager.
type Stager interface {
	CreateContainer(ctx context.Context, name string) error
	Upload(ctx context.Context, container string, inputs []config.InputMapping) ([]staging.Reference, error)
	Download(ctx context.Context, container, localDir string) error
	MintWriteURL(ctx context.Context, container string) (staging.SignedURL, error)
	DeleteContainer(ctx context.Context, name string) error
}

// Provisioner creates and destroys compute resources. Implemented by
// *batch.Client.
type Provisioner interface {
	CreatePool(ctx context.Context, pool batch.PoolSpec) error
	CreateJob(ctx context.Context, job batch.JobSpec) error
	CreateTask(ctx context.Context, jobID string, task batch.TaskSpec) error
	ListTasks(ctx context.Context, jobID string) ([]batch.Task, error)
	DeleteJob(ctx context.Context, jobID string) error
	DeletePool(ctx context.Context, poolID string) error
}

// Options control the parts of a run not described by the job configuration.
type Options struct {
	// DownloadOutputs pulls the output container to OutputDir after a
	// completed run. When false the outputs stay in remote storage and the
	// output container is kept.
	DownloadOutputs bool
	// OutputDir is where downloaded outputs land. Defaults to ".".
	OutputDir string
	// PollInterval is the wait between completion checks.
	PollInterval time.Duration
}

// Runner executes one job end-to-end. A run is strictly sequential; the only
// suspension point is the completion poll, which observes ctx cancellation.
type Runner struct {
	spec        config.JobSpec
	stager      Stager
	provisioner Provisioner
	log         *slog.Logger
	opts        Options
}

// NewRunner wires a Runner from a validated JobSpec and its collaborators.
func NewRunner(spec config.JobSpec, stager Stager, provisioner Provisioner, log *slog.Logger, opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	return &Runner{
		spec:        spec,
		stager:      stager,
		provisioner: provisioner,
		log:         log,
		opts:        opts,
	}
}

// Run executes the full lifecycle. Whatever was created by the time an error
// (or cancellation) occurs is released by a best-effort teardown before Run
// returns.
func (r *Runner) Run(ctx context.Context) (err error) {
	log := logger.FromContext(ctx, r.log)

	created := &resources{}
	completed := false
	defer func() {
		terr := r.teardown(ctx, created, completed)
		if err == nil {
			err = terr
		}
	}()

	inContainer := r.spec.InputContainer()
	outContainer := r.spec.OutputContainer()

	log.Info("staging input files", "container", inContainer)
	if err := r.stager.CreateContainer(ctx, inContainer); err != nil {
		return err
	}
	created.inputContainer = inContainer
	refs, err := r.stager.Upload(ctx, inContainer, r.spec.Inputs)
	if err != nil {
		return err
	}

	log.Info("provisioning pool", "pool", r.spec.JobName, "vm_size", r.spec.VMSize, "vm_image", r.spec.VMImage)
	if err := r.provisioner.CreatePool(ctx, poolSpec(r.spec)); err != nil {
		return err
	}
	created.pool = r.spec.JobName

	log.Info("creating job", "job", r.spec.JobName)
	if err := r.provisioner.CreateJob(ctx, batch.JobSpec{ID: r.spec.JobName, PoolID: r.spec.JobName}); err != nil {
		return err
	}
	created.job = r.spec.JobName

	if err := r.stager.CreateContainer(ctx, outContainer); err != nil {
		return err
	}
	created.outputContainer = outContainer
	writeURL, err := r.stager.MintWriteURL(ctx, outContainer)
	if err != nil {
		return err
	}

	task := taskSpec(r.spec, refs, writeURL.URL)
	log.Info("submitting task", "job", r.spec.JobName, "task", task.ID)
	if err := r.provisioner.CreateTask(ctx, r.spec.JobName, task); err != nil {
		return err
	}

	log.Info("waiting for tasks to complete", "job", r.spec.JobName, "interval", r.opts.PollInterval)
	if err := r.awaitCompletion(ctx, r.spec.JobName); err != nil {
		return err
	}
	completed = true
	log.Info("all tasks complete", "job", r.spec.JobName)
	return nil
}
