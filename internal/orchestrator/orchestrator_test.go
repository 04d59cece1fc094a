package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"batchsub/internal/batch"
	"batchsub/internal/config"
	"batchsub/internal/staging"
)

type fakeStager struct {
	created   []string
	deleted   []string
	uploads   []string
	downloads []string

	refs        []staging.Reference
	createErr   map[string]error
	uploadErr   error
	downloadErr error
	deleteErr   map[string]error
}

func (f *fakeStager) CreateContainer(ctx context.Context, name string) error {
	if err := f.createErr[name]; err != nil {
		return err
	}
	f.created = append(f.created, name)
	return nil
}

func (f *fakeStager) Upload(ctx context.Context, container string, inputs []config.InputMapping) ([]staging.Reference, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, container)
	return f.refs, nil
}

func (f *fakeStager) Download(ctx context.Context, container, localDir string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.downloads = append(f.downloads, container)
	return nil
}

func (f *fakeStager) MintWriteURL(ctx context.Context, container string) (staging.SignedURL, error) {
	return staging.SignedURL{
		URL:     fmt.Sprintf("https://store.example/%s?sig=w", container),
		Expires: time.Now().UTC().Add(staging.DefaultURLTTL),
	}, nil
}

func (f *fakeStager) DeleteContainer(ctx context.Context, name string) error {
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

type fakeProvisioner struct {
	pools []batch.PoolSpec
	jobs  []batch.JobSpec
	tasks []batch.TaskSpec

	// states holds successive ListTasks responses; the last one repeats.
	states    [][]batch.Task
	listCalls int

	createPoolErr error
	createJobErr  error
	deleteJobErr  error
	deletePoolErr error

	deletedJobs  []string
	deletedPools []string
}

func (f *fakeProvisioner) CreatePool(ctx context.Context, pool batch.PoolSpec) error {
	if f.createPoolErr != nil {
		return f.createPoolErr
	}
	f.pools = append(f.pools, pool)
	return nil
}

func (f *fakeProvisioner) CreateJob(ctx context.Context, job batch.JobSpec) error {
	if f.createJobErr != nil {
		return f.createJobErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeProvisioner) CreateTask(ctx context.Context, jobID string, task batch.TaskSpec) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeProvisioner) ListTasks(ctx context.Context, jobID string) ([]batch.Task, error) {
	i := f.listCalls
	f.listCalls++
	if len(f.states) == 0 {
		return nil, nil
	}
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	return f.states[i], nil
}

func (f *fakeProvisioner) DeleteJob(ctx context.Context, jobID string) error {
	if f.deleteJobErr != nil {
		return f.deleteJobErr
	}
	f.deletedJobs = append(f.deletedJobs, jobID)
	return nil
}

func (f *fakeProvisioner) DeletePool(ctx context.Context, poolID string) error {
	if f.deletePoolErr != nil {
		return f.deletePoolErr
	}
	f.deletedPools = append(f.deletedPools, poolID)
	return nil
}

func testSpec() config.JobSpec {
	return config.JobSpec{
		BatchAccountName:   "acct",
		BatchAccountKey:    "key",
		BatchAccountURL:    "https://batch.example",
		StorageAccountName: "store",
		StorageAccountKey:  "skey",
		JobName:            "MyJob",
		Command:            "echo hello",
		VMImage:            "ubuntu-22.04",
		VMSize:             config.DefaultVMSize,
		Inputs:             []config.InputMapping{{Patterns: []string{"./in/*.csv"}}},
		Outputs:            []config.OutputMapping{{Patterns: []string{"out/*.json"}}},
	}
}

func newTestRunner(st *fakeStager, pr *fakeProvisioner, opts Options) *Runner {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(testSpec(), st, pr, log, opts)
}

func TestRun_HappyPath(t *testing.T) {
	st := &fakeStager{refs: []staging.Reference{
		{RemotePath: "a.csv", URL: "https://store.example/myjob-input/a.csv?sig=r"},
	}}
	pr := &fakeProvisioner{states: [][]batch.Task{
		{{ID: "task1", State: batch.TaskStateRunning}},
		{{ID: "task1", State: batch.TaskStateCompleted}},
	}}

	runner := newTestRunner(st, pr, Options{DownloadOutputs: true, OutputDir: t.TempDir()})
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(st.created, []string{"myjob-input", "myjob-output"}) {
		t.Errorf("created containers = %v", st.created)
	}
	if !slices.Equal(st.uploads, []string{"myjob-input"}) {
		t.Errorf("uploads = %v", st.uploads)
	}
	if len(pr.pools) != 1 || pr.pools[0].ID != "MyJob" || pr.pools[0].TargetDedicatedNodes != 1 {
		t.Errorf("pools = %+v", pr.pools)
	}
	if len(pr.jobs) != 1 || pr.jobs[0].ID != "MyJob" || pr.jobs[0].PoolID != "MyJob" {
		t.Errorf("jobs = %+v", pr.jobs)
	}
	if len(pr.tasks) != 1 {
		t.Fatalf("tasks = %+v", pr.tasks)
	}
	task := pr.tasks[0]
	if task.ID != "task1" {
		t.Errorf("task id = %q", task.ID)
	}
	if len(task.ResourceFiles) != 1 || task.ResourceFiles[0].FilePath != "a.csv" {
		t.Errorf("resource files = %+v", task.ResourceFiles)
	}

	// Teardown after success: outputs downloaded, then everything deleted.
	if !slices.Equal(st.downloads, []string{"myjob-output"}) {
		t.Errorf("downloads = %v", st.downloads)
	}
	if !slices.Equal(pr.deletedJobs, []string{"MyJob"}) || !slices.Equal(pr.deletedPools, []string{"MyJob"}) {
		t.Errorf("deleted jobs = %v, pools = %v", pr.deletedJobs, pr.deletedPools)
	}
	if !slices.Equal(st.deleted, []string{"myjob-output", "myjob-input"}) {
		t.Errorf("deleted containers = %v, want output then input", st.deleted)
	}
}

func TestRun_SkipDownloadKeepsOutputContainer(t *testing.T) {
	st := &fakeStager{}
	pr := &fakeProvisioner{states: [][]batch.Task{
		{{ID: "task1", State: batch.TaskStateCompleted}},
	}}

	runner := newTestRunner(st, pr, Options{DownloadOutputs: false})
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(st.downloads) != 0 {
		t.Errorf("downloads = %v, want none", st.downloads)
	}
	if slices.Contains(st.deleted, "myjob-output") {
		t.Error("output container must be kept when download is skipped")
	}
	if !slices.Contains(st.deleted, "myjob-input") {
		t.Error("input container must still be deleted")
	}
	if len(pr.deletedJobs) != 1 || len(pr.deletedPools) != 1 {
		t.Errorf("deleted jobs = %v, pools = %v", pr.deletedJobs, pr.deletedPools)
	}
}

func TestRun_TeardownIsBestEffort(t *testing.T) {
	st := &fakeStager{}
	pr := &fakeProvisioner{
		states:       [][]batch.Task{{{ID: "task1", State: batch.TaskStateCompleted}}},
		deleteJobErr: errors.New("job deletion exploded"),
	}

	runner := newTestRunner(st, pr, Options{DownloadOutputs: true, OutputDir: t.TempDir()})
	err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected teardown error to surface")
	}

	// Pool and both containers are still released.
	if !slices.Equal(pr.deletedPools, []string{"MyJob"}) {
		t.Errorf("deleted pools = %v", pr.deletedPools)
	}
	if !slices.Equal(st.deleted, []string{"myjob-output", "myjob-input"}) {
		t.Errorf("deleted containers = %v", st.deleted)
	}
}

func TestRun_ProvisionFailureStillTearsDownStagedInputs(t *testing.T) {
	st := &fakeStager{}
	pr := &fakeProvisioner{createPoolErr: errors.New("quota exceeded")}

	runner := newTestRunner(st, pr, Options{})
	err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected provisioning error")
	}

	if !slices.Equal(st.deleted, []string{"myjob-input"}) {
		t.Errorf("deleted containers = %v, want just the input container", st.deleted)
	}
	if len(pr.deletedJobs) != 0 || len(pr.deletedPools) != 0 {
		t.Errorf("nothing was provisioned, but deletions ran: jobs=%v pools=%v", pr.deletedJobs, pr.deletedPools)
	}
}

func TestRun_InputContainerCollisionDeletesNothing(t *testing.T) {
	st := &fakeStager{createErr: map[string]error{
		"myjob-input": errors.New("container already exists"),
	}}
	pr := &fakeProvisioner{}

	runner := newTestRunner(st, pr, Options{})
	if err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected staging error")
	}
	if len(st.deleted) != 0 {
		t.Errorf("deleted containers = %v; a container the run does not own must not be deleted", st.deleted)
	}
}

func TestRun_CancelledWaitStillTearsDown(t *testing.T) {
	st := &fakeStager{}
	pr := &fakeProvisioner{states: [][]batch.Task{
		{{ID: "task1", State: batch.TaskStateRunning}},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	runner := newTestRunner(st, pr, Options{DownloadOutputs: true})
	err := runner.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected error wrapping DeadlineExceeded, got %v", err)
	}

	// Run never completed: no download, but all resources released.
	if len(st.downloads) != 0 {
		t.Errorf("downloads = %v, want none on a cancelled run", st.downloads)
	}
	if !slices.Equal(pr.deletedJobs, []string{"MyJob"}) || !slices.Equal(pr.deletedPools, []string{"MyJob"}) {
		t.Errorf("deleted jobs = %v, pools = %v", pr.deletedJobs, pr.deletedPools)
	}
	if !slices.Equal(st.deleted, []string{"myjob-output", "myjob-input"}) {
		t.Errorf("deleted containers = %v", st.deleted)
	}
}

func TestRun_DownloadFailureKeepsOutputContainer(t *testing.T) {
	st := &fakeStager{downloadErr: errors.New("network dropped")}
	pr := &fakeProvisioner{states: [][]batch.Task{
		{{ID: "task1", State: batch.TaskStateCompleted}},
	}}

	runner := newTestRunner(st, pr, Options{DownloadOutputs: true, OutputDir: t.TempDir()})
	err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected download error to surface")
	}
	if slices.Contains(st.deleted, "myjob-output") {
		t.Error("outputs were never retrieved; output container must be kept")
	}
}

func TestAwaitCompletion_EmptyRoundIsNotComplete(t *testing.T) {
	st := &fakeStager{}
	pr := &fakeProvisioner{states: [][]batch.Task{
		nil,
		nil,
		{{ID: "task1", State: batch.TaskStateCompleted}},
	}}

	runner := newTestRunner(st, pr, Options{})
	if err := runner.awaitCompletion(context.Background(), "MyJob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.listCalls != 3 {
		t.Errorf("listCalls = %d, want 3", pr.listCalls)
	}
}

func TestAwaitCompletion_ReturnsOnFirstTerminalObservation(t *testing.T) {
	st := &fakeStager{}
	pr := &fakeProvisioner{states: [][]batch.Task{
		{{ID: "task1", State: batch.TaskStateCompleted}},
	}}

	runner := newTestRunner(st, pr, Options{})
	if err := runner.awaitCompletion(context.Background(), "MyJob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1", pr.listCalls)
	}
}

func TestAwaitCompletion_MixedStatesKeepWaiting(t *testing.T) {
	st := &fakeStager{}
	pr := &fakeProvisioner{states: [][]batch.Task{
		{
			{ID: "task1", State: batch.TaskStateCompleted},
			{ID: "task2", State: batch.TaskStateRunning},
		},
		{
			{ID: "task1", State: batch.TaskStateCompleted},
			{ID: "task2", State: batch.TaskStateCompleted},
		},
	}}

	runner := newTestRunner(st, pr, Options{})
	if err := runner.awaitCompletion(context.Background(), "MyJob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2", pr.listCalls)
	}
}

func TestTaskSpec_WrapsCommandAndCapturesLogs(t *testing.T) {
	spec := testSpec()
	spec.Outputs = []config.OutputMapping{
		{Patterns: []string{"out/*.json", "*.log"}},
	}
	refs := []staging.Reference{
		{RemotePath: "remote/in/a.csv", URL: "https://store.example/a?sig=r"},
	}

	task := taskSpec(spec, refs, "https://store.example/myjob-output?sig=w")

	if task.CommandLine != `/bin/bash -c "echo hello"` {
		t.Errorf("command line = %q", task.CommandLine)
	}
	if len(task.ResourceFiles) != 1 || task.ResourceFiles[0].FilePath != "remote/in/a.csv" {
		t.Errorf("resource files = %+v", task.ResourceFiles)
	}

	if len(task.OutputFiles) != 3 {
		t.Fatalf("output files = %+v, want 2 captures plus the log catch-all", task.OutputFiles)
	}
	if task.OutputFiles[0].FilePattern != "out/*.json" || task.OutputFiles[0].Path != "out" {
		t.Errorf("first capture = %+v", task.OutputFiles[0])
	}
	if task.OutputFiles[1].FilePattern != "*.log" || task.OutputFiles[1].Path != "" {
		t.Errorf("second capture = %+v", task.OutputFiles[1])
	}
	last := task.OutputFiles[2]
	if last.FilePattern != "std*.txt" {
		t.Errorf("log catch-all = %+v", last)
	}
	for _, out := range task.OutputFiles {
		if out.UploadCondition != batch.UploadConditionTaskSuccess {
			t.Errorf("capture %q not conditioned on task success", out.FilePattern)
		}
		if out.ContainerURL == "" {
			t.Errorf("capture %q has no container URL", out.FilePattern)
		}
	}
}
