// Package staging moves files between the local machine and the remote
// object store: inputs are pushed before the run, outputs are written by the
// task through a capability URL and pulled back afterwards.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"batchsub/internal/config"
)

// DefaultURLTTL is how long minted capability URLs stay valid. URLs are
// regenerated per run and never persisted.
const DefaultURLTTL = 2 * time.Hour

// Reference points the compute node at one staged input file.
type Reference struct {
	// RemotePath is the path the file takes on the compute node, relative to
	// the task working directory.
	RemotePath string
	// URL is the read-scoped time-limited URL the node fetches the blob from.
	URL string
}

// SignedURL is a time-limited capability URL scoped to one container.
type SignedURL struct {
	URL     string
	Expires time.Time
}

// Stager implements the staging protocol on top of an ObjectStore.
type Stager struct {
	store ObjectStore
	log   *slog.Logger
	ttl   time.Duration
}

// New creates a Stager. A non-positive ttl falls back to DefaultURLTTL.
func New(store ObjectStore, log *slog.Logger, ttl time.Duration) *Stager {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Stager{store: store, log: log, ttl: ttl}
}

// Upload expands every input mapping's glob patterns and uploads each
// matching file into the container under its basename (joined under the
// mapping's destination directory when set). It returns one read-scoped
// reference per uploaded file. The container must already exist: the caller
// creates it first so it can track ownership for teardown.
func (s *Stager) Upload(ctx context.Context, container string, inputs []config.InputMapping) ([]Reference, error) {
	var refs []Reference
	for _, mapping := range inputs {
		for _, pattern := range mapping.Patterns {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("bad input pattern %q: %w", pattern, err)
			}
			if len(matches) == 0 {
				s.log.Warn("input pattern matched no files", "pattern", pattern)
				continue
			}
			for _, local := range matches {
				ref, err := s.uploadFile(ctx, container, local, mapping.Destination)
				if err != nil {
					return nil, err
				}
				refs = append(refs, ref)
			}
		}
	}
	s.log.Info("inputs staged", "container", container, "files", len(refs))
	return refs, nil
}

func (s *Stager) uploadFile(ctx context.Context, container, local, destDir string) (Reference, error) {
	blobName := filepath.Base(local)
	if err := s.store.Put(ctx, container, blobName, local); err != nil {
		return Reference{}, fmt.Errorf("upload %q: %w", local, err)
	}
	url, err := s.store.PresignRead(ctx, container, blobName, s.ttl)
	if err != nil {
		return Reference{}, fmt.Errorf("sign read url for %q: %w", blobName, err)
	}
	remotePath := blobName
	if destDir != "" {
		remotePath = path.Join(destDir, blobName)
	}
	return Reference{RemotePath: remotePath, URL: url}, nil
}

// Download mirrors every blob in the container under localDir, recreating the
// directory structure encoded in blob names. Pre-existing directories are
// fine; any single file failing fails the download.
func (s *Stager) Download(ctx context.Context, container, localDir string) error {
	keys, err := s.store.List(ctx, container)
	if err != nil {
		return fmt.Errorf("list container %q: %w", container, err)
	}
	for _, key := range keys {
		local := filepath.Join(localDir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return fmt.Errorf("create directory for %q: %w", key, err)
		}
		if err := s.store.Get(ctx, container, key, local); err != nil {
			return fmt.Errorf("download %q from %q: %w", key, container, err)
		}
	}
	s.log.Info("outputs downloaded", "container", container, "files", len(keys), "dir", localDir)
	return nil
}

// CreateContainer makes an empty container, failing on name collision.
func (s *Stager) CreateContainer(ctx context.Context, name string) error {
	if err := s.store.CreateContainer(ctx, name); err != nil {
		return fmt.Errorf("create container %q: %w", name, err)
	}
	return nil
}

// MintWriteURL returns a write-scoped capability URL for the container, valid
// for the stager's TTL. The remote task uses it to push outputs directly.
func (s *Stager) MintWriteURL(ctx context.Context, container string) (SignedURL, error) {
	u, err := s.store.PresignWrite(ctx, container, s.ttl)
	if err != nil {
		return SignedURL{}, fmt.Errorf("sign write url for %q: %w", container, err)
	}
	return SignedURL{URL: u, Expires: time.Now().UTC().Add(s.ttl)}, nil
}

// DeleteContainer removes a container and its contents. Already absent
// containers are success.
func (s *Stager) DeleteContainer(ctx context.Context, name string) error {
	if err := s.store.DeleteContainer(ctx, name); err != nil {
		return fmt.Errorf("delete container %q: %w", name, err)
	}
	return nil
}
