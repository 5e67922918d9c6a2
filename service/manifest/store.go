// Package manifest persists the expected-output manifests of supervised
// tasks: one small JSON record per task identity holding the output paths
// the task produced when it last completed. The manifest is the sole
// interface for output drift detection.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrypuuter/KingMaker/internal/clock"
	"github.com/harrypuuter/KingMaker/model/task"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// ErrNotFound indicates that no manifest is recorded for the identity.
var ErrNotFound = errors.New("manifest not found")

// Manifest is the persisted record.
type Manifest struct {
	Identity   string    `json:"identity"`
	Paths      []string  `json:"paths"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store reads and writes manifests below a base location, one file per task
// identity.
type Store struct {
	fs      afs.Service
	baseURL string
	mu      sync.RWMutex
}

// New creates a manifest store rooted at baseURL.
func New(fs afs.Service, baseURL string) (*Store, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	return &Store{fs: fs, baseURL: baseURL}, nil
}

// Save records the output paths for the identity, replacing any previous
// manifest. Paths are stored sorted; manifest comparison is set based.
func (s *Store) Save(ctx context.Context, id task.Identity, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	record := &Manifest{
		Identity:   id.String(),
		Paths:      sorted,
		RecordedAt: clock.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	manifestURL := s.manifestURL(id)
	if err := s.fs.Upload(ctx, manifestURL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save manifest to %s: %w", manifestURL, err)
	}
	return nil
}

// Load returns the recorded output paths for the identity.
func (s *Store) Load(ctx context.Context, id task.Identity) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	manifestURL := s.manifestURL(id)
	exists, err := s.fs.Exists(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check manifest %s: %w", manifestURL, err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", manifestURL, err)
	}
	var record Manifest
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest %s: %w", manifestURL, err)
	}
	return record.Paths, nil
}

// Exists reports whether a manifest is recorded for the identity.
func (s *Store) Exists(ctx context.Context, id task.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := s.fs.Exists(ctx, s.manifestURL(id))
	if err != nil {
		return false, fmt.Errorf("failed to check manifest: %w", err)
	}
	return exists, nil
}

// Delete removes the manifest for the identity.
func (s *Store) Delete(ctx context.Context, id task.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifestURL := s.manifestURL(id)
	exists, err := s.fs.Exists(ctx, manifestURL)
	if err != nil {
		return fmt.Errorf("failed to check manifest %s: %w", manifestURL, err)
	}
	if !exists {
		return ErrNotFound
	}
	if err := s.fs.Delete(ctx, manifestURL); err != nil {
		return fmt.Errorf("failed to delete manifest %s: %w", manifestURL, err)
	}
	return nil
}

// URL returns the location of the manifest for the identity, whether or not
// one is currently recorded.
func (s *Store) URL(id task.Identity) string {
	return s.manifestURL(id)
}

func (s *Store) manifestURL(id task.Identity) string {
	return url.Join(s.baseURL, id.String()+".json")
}
