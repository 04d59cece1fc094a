// Package config parses and validates batchsub job configuration files.
//
// A configuration file is line-oriented KEY:=VALUE text. Every recognized key
// maps onto exactly one JobSpec field; INPUT and OUTPUT may repeat and append
// in order. Problems are batch-reported so a user can fix everything in one
// pass instead of replaying the tool once per mistake.
package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DefaultVMSize is used when VM_SIZE is not set. Sized to cover most
// workloads; override for anything bigger.
const DefaultVMSize = "Standard_D16s_v3"

// InputMapping is one local-to-remote staging instruction.
type InputMapping struct {
	// Patterns are local glob patterns, resolved at staging time.
	Patterns []string
	// Destination is the directory on the remote machine the files land in.
	// Empty means the remote working-directory root.
	Destination string
}

// OutputMapping lists remote path/glob patterns to capture after the task
// completes. Captures are conditioned on task success.
type OutputMapping struct {
	Patterns []string
}

// JobSpec is the validated description of one run. It is constructed once by
// Load and never mutated afterwards.
type JobSpec struct {
	BatchAccountName   string
	BatchAccountKey    string
	BatchAccountURL    string
	StorageAccountName string
	StorageAccountKey  string
	StorageAccountURL  string
	JobName            string
	Command            string
	VMImage            string
	VMSize             string
	Inputs             []InputMapping
	Outputs            []OutputMapping
}

// InputContainer returns the derived name of the input container.
func (s JobSpec) InputContainer() string {
	return strings.ToLower(s.JobName) + "-input"
}

// OutputContainer returns the derived name of the output container.
func (s JobSpec) OutputContainer() string {
	return strings.ToLower(s.JobName) + "-output"
}

// StorageEndpoint returns the storage endpoint to connect to. When
// STORAGE_ACCOUNT_URL is not set it falls back to the account-name derived
// blob endpoint.
func (s JobSpec) StorageEndpoint() string {
	if s.StorageAccountURL != "" {
		return s.StorageAccountURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", s.StorageAccountName)
}

// ValidationError carries every configuration problem found, not just the
// first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// field describes one recognized configuration key.
type field struct {
	apply    func(*JobSpec, string)
	isSet    func(JobSpec) bool
	required bool
}

// schema enumerates every recognized key. Any key not listed here is a
// validation error.
var schema = map[string]field{
	"BATCH_ACCOUNT_NAME": {
		apply:    func(s *JobSpec, v string) { s.BatchAccountName = v },
		isSet:    func(s JobSpec) bool { return s.BatchAccountName != "" },
		required: true,
	},
	"BATCH_ACCOUNT_KEY": {
		apply:    func(s *JobSpec, v string) { s.BatchAccountKey = v },
		isSet:    func(s JobSpec) bool { return s.BatchAccountKey != "" },
		required: true,
	},
	"BATCH_ACCOUNT_URL": {
		apply:    func(s *JobSpec, v string) { s.BatchAccountURL = v },
		isSet:    func(s JobSpec) bool { return s.BatchAccountURL != "" },
		required: true,
	},
	"STORAGE_ACCOUNT_NAME": {
		apply:    func(s *JobSpec, v string) { s.StorageAccountName = v },
		isSet:    func(s JobSpec) bool { return s.StorageAccountName != "" },
		required: true,
	},
	"STORAGE_ACCOUNT_KEY": {
		apply:    func(s *JobSpec, v string) { s.StorageAccountKey = v },
		isSet:    func(s JobSpec) bool { return s.StorageAccountKey != "" },
		required: true,
	},
	"STORAGE_ACCOUNT_URL": {
		apply: func(s *JobSpec, v string) { s.StorageAccountURL = v },
	},
	"JOB_NAME": {
		apply:    func(s *JobSpec, v string) { s.JobName = v },
		isSet:    func(s JobSpec) bool { return s.JobName != "" },
		required: true,
	},
	"COMMAND": {
		apply:    func(s *JobSpec, v string) { s.Command = v },
		isSet:    func(s JobSpec) bool { return s.Command != "" },
		required: true,
	},
	"VM_IMAGE": {
		apply:    func(s *JobSpec, v string) { s.VMImage = v },
		isSet:    func(s JobSpec) bool { return s.VMImage != "" },
		required: true,
	},
	"VM_SIZE": {
		apply: func(s *JobSpec, v string) { s.VMSize = v },
	},
	"INPUT": {
		apply: func(s *JobSpec, v string) {
			if m, ok := parseInputMapping(v); ok {
				s.Inputs = append(s.Inputs, m)
			}
		},
		isSet:    func(s JobSpec) bool { return len(s.Inputs) > 0 },
		required: true,
	},
	"OUTPUT": {
		apply: func(s *JobSpec, v string) {
			if patterns := strings.Fields(v); len(patterns) > 0 {
				s.Outputs = append(s.Outputs, OutputMapping{Patterns: patterns})
			}
		},
		isSet:    func(s JobSpec) bool { return len(s.Outputs) > 0 },
		required: true,
	},
}

// parseInputMapping splits an INPUT value into glob patterns and an optional
// remote destination directory. With a single token the file set goes to the
// remote root; with more than one, the last token is the destination.
func parseInputMapping(value string) (InputMapping, bool) {
	tokens := strings.Fields(value)
	switch len(tokens) {
	case 0:
		return InputMapping{}, false
	case 1:
		return InputMapping{Patterns: tokens}, true
	default:
		return InputMapping{
			Patterns:    tokens[:len(tokens)-1],
			Destination: tokens[len(tokens)-1],
		}, true
	}
}

// Load reads and validates a configuration file, returning a fully valid
// JobSpec or a *ValidationError listing every problem found.
func Load(path string) (JobSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return JobSpec{}, fmt.Errorf("open configuration file: %w", err)
	}
	defer f.Close()

	spec := JobSpec{VMSize: DefaultVMSize}
	var problems []string

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":=")
		if !found {
			problems = append(problems, fmt.Sprintf("line %d: expected KEY:=VALUE, got %q", lineNo, line))
			continue
		}
		key = strings.TrimSpace(key)
		fld, recognized := schema[key]
		if !recognized {
			problems = append(problems, fmt.Sprintf("line %d: unrecognized key %q", lineNo, key))
			continue
		}
		fld.apply(&spec, strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return JobSpec{}, fmt.Errorf("read configuration file: %w", err)
	}

	if len(problems) > 0 {
		return JobSpec{}, &ValidationError{Problems: problems}
	}
	if err := spec.Validate(); err != nil {
		return JobSpec{}, err
	}
	return spec, nil
}

// Validate checks completeness of a JobSpec, reporting every unset required
// field at once. A JobSpec is either fully valid or unusable.
func (s JobSpec) Validate() error {
	var problems []string
	keys := make([]string, 0, len(schema))
	for key := range schema {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fld := schema[key]
		if fld.required && !fld.isSet(s) {
			problems = append(problems, fmt.Sprintf("%s is required", key))
		}
	}
	if s.JobName != "" && !validContainerBase(strings.ToLower(s.JobName)) {
		problems = append(problems, fmt.Sprintf("JOB_NAME %q cannot be used to derive container names (letters, digits and hyphens only, at most 55 characters)", s.JobName))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// validContainerBase reports whether name, already lower-cased, can prefix the
// derived "-input"/"-output" container names. Container names allow lowercase
// letters, digits and hyphens, up to 63 characters total.
func validContainerBase(name string) bool {
	if name == "" || len(name) > 55 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
