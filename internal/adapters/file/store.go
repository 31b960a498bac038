package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/waypoint/pkg/domain"
)

// GraphStore implements ports.GraphRepository on the local filesystem.
// It stores one JSON file per document in a configured directory. Version checks are
// serialized within the process; use the redis store for several replicas.
type GraphStore struct {
	BasePath string

	mu sync.Mutex
}

// New creates a new GraphStore with the given base path.
// If basePath is empty, it defaults to ".waypoint/graphs".
func New(basePath string) *GraphStore {
	if basePath == "" {
		basePath = filepath.Join(".waypoint", "graphs")
	}
	return &GraphStore{BasePath: basePath}
}

func (s *GraphStore) path(documentID string) (string, error) {
	if documentID == "" {
		return "", fmt.Errorf("document id cannot be empty")
	}
	if strings.ContainsAny(documentID, `/\`) || documentID == "." || documentID == ".." {
		return "", fmt.Errorf("invalid document id '%s'", documentID)
	}
	return filepath.Join(s.BasePath, documentID+".json"), nil
}

// Save persists the graph atomically if its version matches the stored one.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *GraphStore) Save(ctx context.Context, graph *domain.Graph) error {
	destPath, err := s.path(graph.DocumentID())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	stored, err := s.read(destPath)
	switch {
	case err == nil:
		current = stored.Version
	case !errors.Is(err, domain.ErrDocumentNotFound):
		return err
	}
	if graph.Version != current {
		return fmt.Errorf("%w: document '%s' is at version %d, write carries %d", domain.ErrStaleState, graph.DocumentID(), current, graph.Version)
	}

	next := graph.Clone()
	next.Version++
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure graph directory: %w", err)
	}
	if err := writeAtomic(s.BasePath, destPath, data); err != nil {
		return err
	}

	graph.Version = next.Version
	return nil
}

// writeAtomic writes data through a temp file in dir (same filesystem) and renames it over dest.
func writeAtomic(dir, dest string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to remove existing graph file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *GraphStore) read(filePath string) (*domain.Graph, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: '%s'", domain.ErrDocumentNotFound, strings.TrimSuffix(filepath.Base(filePath), ".json"))
		}
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	var graph domain.Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	return &graph, nil
}

// Load retrieves the graph from its JSON file.
func (s *GraphStore) Load(ctx context.Context, documentID string) (*domain.Graph, error) {
	filePath, err := s.path(documentID)
	if err != nil {
		return nil, err
	}
	return s.read(filePath)
}

// Delete removes the graph file.
func (s *GraphStore) Delete(ctx context.Context, documentID string) error {
	filePath, err := s.path(documentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete graph file: %w", err)
	}
	return nil
}

// List returns the IDs of all stored documents.
func (s *GraphStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
