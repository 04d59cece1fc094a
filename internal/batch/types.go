package batch

// PoolSpec is the request body for provisioning a compute pool.
type PoolSpec struct {
	ID                     string `json:"id"`
	VMImage                string `json:"vm_image"`
	VMSize                 string `json:"vm_size"`
	TargetDedicatedNodes   int    `json:"target_dedicated_nodes"`
	TargetLowPriorityNodes int    `json:"target_low_priority_nodes"`
}

// JobSpec is the request body for creating a job bound to a pool.
type JobSpec struct {
	ID     string `json:"id"`
	PoolID string `json:"pool_id"`
}

// ResourceFile binds one staged input blob to a path on the compute node.
// The node fetches the blob through the read-scoped URL before the task runs.
type ResourceFile struct {
	BlobURL  string `json:"blob_url"`
	FilePath string `json:"file_path"`
}

// UploadConditionTaskSuccess uploads an output capture only when the task
// command exits successfully.
const UploadConditionTaskSuccess = "task_success"

// OutputFile describes one pattern of task outputs the compute node uploads
// to a container after the task finishes.
type OutputFile struct {
	FilePattern     string `json:"file_pattern"`
	ContainerURL    string `json:"container_url"`
	Path            string `json:"path,omitempty"`
	UploadCondition string `json:"upload_condition"`
}

// TaskSpec is the request body for adding a task to a job.
type TaskSpec struct {
	ID            string         `json:"id"`
	CommandLine   string         `json:"command_line"`
	ResourceFiles []ResourceFile `json:"resource_files,omitempty"`
	OutputFiles   []OutputFile   `json:"output_files,omitempty"`
}

// TaskState is the lifecycle state the batch service reports for a task.
type TaskState string

const (
	TaskStateActive    TaskState = "active"
	TaskStatePreparing TaskState = "preparing"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
)

// Terminal reports whether the task has finished. Completion is state-based:
// a task that exited non-zero is still completed.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted
}

// Task is one unit of command execution within a job.
type Task struct {
	ID       string    `json:"id"`
	State    TaskState `json:"state"`
	ExitCode *int      `json:"exit_code,omitempty"`
}

// listTasksResponse is the body of GET /jobs/{id}/tasks.
type listTasksResponse struct {
	Tasks []Task `json:"tasks"`
}
