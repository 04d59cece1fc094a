package orchestrator

import (
	"fmt"
	"path"

	"batchsub/internal/batch"
	"batchsub/internal/config"
	"batchsub/internal/staging"
)

// taskID is the id of the single task in a run. Exactly one task per job.
const taskID = "task1"

// logCapturePattern matches the stdout/stderr logs the compute node writes
// next to the task working directory.
const logCapturePattern = "std*.txt"

func poolSpec(spec config.JobSpec) batch.PoolSpec {
	return batch.PoolSpec{
		ID:                     spec.JobName,
		VMImage:                spec.VMImage,
		VMSize:                 spec.VMSize,
		TargetDedicatedNodes:   1,
		TargetLowPriorityNodes: 0,
	}
}

// taskSpec assembles the remote task: the command wrapped so it runs under a
// shell, staged inputs as resource bindings, requested output captures, and a
// catch-all capture of the task logs. Every capture is conditioned on task
// success.
func taskSpec(spec config.JobSpec, refs []staging.Reference, writeURL string) batch.TaskSpec {
	resourceFiles := make([]batch.ResourceFile, 0, len(refs))
	for _, ref := range refs {
		resourceFiles = append(resourceFiles, batch.ResourceFile{
			BlobURL:  ref.URL,
			FilePath: ref.RemotePath,
		})
	}

	var outputFiles []batch.OutputFile
	for _, mapping := range spec.Outputs {
		for _, pattern := range mapping.Patterns {
			outputFiles = append(outputFiles, batch.OutputFile{
				FilePattern:     pattern,
				ContainerURL:    writeURL,
				Path:            outputPath(pattern),
				UploadCondition: batch.UploadConditionTaskSuccess,
			})
		}
	}
	outputFiles = append(outputFiles, batch.OutputFile{
		FilePattern:     logCapturePattern,
		ContainerURL:    writeURL,
		UploadCondition: batch.UploadConditionTaskSuccess,
	})

	return batch.TaskSpec{
		ID:            taskID,
		CommandLine:   fmt.Sprintf("/bin/bash -c %q", spec.Command),
		ResourceFiles: resourceFiles,
		OutputFiles:   outputFiles,
	}
}

// outputPath keeps captures under the directory part of their pattern, so a
// pattern like out/*.json lands under out/ in the container.
func outputPath(pattern string) string {
	if dir := path.Dir(pattern); dir != "." {
		return dir
	}
	return ""
}
