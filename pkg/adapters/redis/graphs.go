package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aretw0/waypoint/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const (
	fieldVersion = "version"
	fieldData    = "data"
)

// GraphStore implements ports.GraphRepository using Redis.
//
// Each graph is a hash holding its version and JSON encoding. Saves run in a WATCH/MULTI
// transaction, so a concurrent writer on another replica surfaces as domain.ErrStaleState.
type GraphStore struct {
	client *backend.Client
	opts   options
}

// NewGraphStore creates a graph store on an existing client.
func NewGraphStore(client *backend.Client, opts ...Option) *GraphStore {
	return &GraphStore{
		client: client,
		opts:   newOptions(opts),
	}
}

func (s *GraphStore) key(documentID string) string {
	return s.opts.prefix + "graph:" + documentID
}

func (s *GraphStore) indexKey() string {
	return s.opts.prefix + "graphs"
}

// Save persists the graph if its version matches the stored one.
func (s *GraphStore) Save(ctx context.Context, graph *domain.Graph) error {
	id := graph.DocumentID()
	if id == "" {
		return fmt.Errorf("graph without document id")
	}

	next := graph.Clone()
	next.Version = graph.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	key := s.key(id)
	err = s.client.Watch(ctx, func(tx *backend.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int()
		if err != nil && !errors.Is(err, backend.Nil) {
			return fmt.Errorf("failed to read graph version: %w", err)
		}
		if current != graph.Version {
			return fmt.Errorf("%w: document '%s' is at version %d, write carries %d", domain.ErrStaleState, id, current, graph.Version)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, key, fieldVersion, next.Version, fieldData, data)
			pipe.SAdd(ctx, s.indexKey(), id)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, backend.TxFailedErr) {
		return fmt.Errorf("%w: document '%s' changed concurrently", domain.ErrStaleState, id)
	}
	if err != nil {
		return err
	}

	graph.Version = next.Version
	return nil
}

// Load retrieves the graph of a document.
func (s *GraphStore) Load(ctx context.Context, documentID string) (*domain.Graph, error) {
	fields, err := s.client.HGetAll(ctx, s.key(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	data, ok := fields[fieldData]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", domain.ErrDocumentNotFound, documentID)
	}

	var graph domain.Graph
	if err := json.Unmarshal([]byte(data), &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	if v, err := strconv.Atoi(fields[fieldVersion]); err == nil {
		graph.Version = v
	}
	return &graph, nil
}

// Delete removes the graph.
func (s *GraphStore) Delete(ctx context.Context, documentID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.key(documentID))
		pipe.SRem(ctx, s.indexKey(), documentID)
		return nil
	})
	return err
}

// List returns all document IDs in sorted order.
func (s *GraphStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
