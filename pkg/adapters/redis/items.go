package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/waypoint/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// ItemStore implements ports.ActionItemRepository using Redis.
//
// Items are stored as JSON strings. A string key per item key maps the uniqueness tuple to the
// item ID, and sets index items by principal, document, document type and delegator.
type ItemStore struct {
	client *backend.Client
	opts   options
}

// record is the stored form of an item. Seq keeps Find results in insertion order.
type record struct {
	Seq  int64              `json:"seq"`
	Item *domain.ActionItem `json:"item"`
}

// NewItemStore creates an action item store on an existing client.
func NewItemStore(client *backend.Client, opts ...Option) *ItemStore {
	return &ItemStore{
		client: client,
		opts:   newOptions(opts),
	}
}

func (s *ItemStore) itemKey(id string) string {
	return s.opts.prefix + "item:" + id
}

func (s *ItemStore) identityKey(key domain.ItemKey) string {
	return s.opts.prefix + "item-key:" + key.String()
}

func (s *ItemStore) seqKey() string {
	return s.opts.prefix + "items:seq"
}

func (s *ItemStore) setKey(kind, value string) string {
	if kind == "" {
		return s.opts.prefix + "items"
	}
	return s.opts.prefix + "items:" + kind + ":" + value
}

// sets returns the index sets an item belongs to.
func (s *ItemStore) sets(item *domain.ActionItem) []string {
	keys := []string{
		s.setKey("", ""),
		s.setKey("principal", item.PrincipalID),
		s.setKey("document", item.DocumentID),
		s.setKey("type", item.DocumentType),
	}
	if item.DelegatorID != "" {
		keys = append(keys, s.setKey("delegator", item.DelegatorID))
	}
	return keys
}

type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

func (s *ItemStore) read(ctx context.Context, c getter, id string) (*record, error) {
	data, err := c.Get(ctx, s.itemKey(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: '%s'", domain.ErrActionItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action item: %w", err)
	}
	return &rec, nil
}

func (s *ItemStore) write(ctx context.Context, pipe backend.Pipeliner, previous *domain.ActionItem, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal action item: %w", err)
	}
	if previous != nil {
		s.unindex(ctx, pipe, previous)
	}
	pipe.Set(ctx, s.itemKey(rec.Item.ID), data, 0)
	pipe.Set(ctx, s.identityKey(rec.Item.Key()), rec.Item.ID, 0)
	for _, set := range s.sets(rec.Item) {
		pipe.SAdd(ctx, set, rec.Item.ID)
	}
	return nil
}

func (s *ItemStore) unindex(ctx context.Context, pipe backend.Pipeliner, item *domain.ActionItem) {
	pipe.Del(ctx, s.identityKey(item.Key()))
	for _, set := range s.sets(item) {
		pipe.SRem(ctx, set, item.ID)
	}
}

// Upsert stores the item under its key, keeping the identity of an existing item.
func (s *ItemStore) Upsert(ctx context.Context, item *domain.ActionItem) (*domain.ActionItem, error) {
	stored := item.Clone()
	identity := s.identityKey(stored.Key())

	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		var previous *record

		id, err := tx.Get(ctx, identity).Result()
		if err != nil && !errors.Is(err, backend.Nil) {
			return fmt.Errorf("failed to get from redis: %w", err)
		}
		if id == "" {
			id = stored.ID
		}
		if id != "" {
			if err := tx.Watch(ctx, s.itemKey(id)).Err(); err != nil {
				return err
			}
			previous, err = s.read(ctx, tx, id)
			if err != nil && !errors.Is(err, domain.ErrActionItemNotFound) {
				return err
			}
		}

		rec := &record{Item: stored}
		if previous != nil {
			current := previous.Item
			if stored.Version != 0 && stored.Version != current.Version {
				return fmt.Errorf("%w: action item '%s' is at version %d, write carries %d", domain.ErrStaleState, current.ID, current.Version, stored.Version)
			}
			if stored.Version == 0 {
				stored.Outbox, stored.OutboxedAt = current.Outbox, current.OutboxedAt
			}
			if current.Key() == stored.Key() {
				stored.CreatedAt = current.CreatedAt
			}
			stored.ID = current.ID
			stored.Version = current.Version + 1
			rec.Seq = previous.Seq
		} else {
			if stored.ID == "" {
				stored.ID = s.opts.newID()
			}
			if rec.Seq, err = tx.Incr(ctx, s.seqKey()).Result(); err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			stored.Version = 1
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = s.opts.now()
		}

		var old *domain.ActionItem
		if previous != nil {
			old = previous.Item
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			return s.write(ctx, pipe, old, rec)
		})
		return err
	}, identity)
	if errors.Is(err, backend.TxFailedErr) {
		return nil, fmt.Errorf("%w: action item %s changed concurrently", domain.ErrStaleState, stored.Key())
	}
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// Get retrieves an item by ID.
func (s *ItemStore) Get(ctx context.Context, id string) (*domain.ActionItem, error) {
	rec, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return rec.Item, nil
}

// MoveToOutbox flags an item as outboxed if version matches.
func (s *ItemStore) MoveToOutbox(ctx context.Context, id string, version int) (*domain.ActionItem, error) {
	var moved *domain.ActionItem
	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		rec, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Item.Version != version {
			return fmt.Errorf("%w: action item '%s' is at version %d, write carries %d", domain.ErrStaleState, id, rec.Item.Version, version)
		}

		previous := rec.Item.Clone()
		rec.Item.Outbox = true
		rec.Item.OutboxedAt = s.opts.now()
		rec.Item.Version++
		moved = rec.Item

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			return s.write(ctx, pipe, previous, rec)
		})
		return err
	}, s.itemKey(id))
	if errors.Is(err, backend.TxFailedErr) {
		return nil, fmt.Errorf("%w: action item '%s' changed concurrently", domain.ErrStaleState, id)
	}
	if err != nil {
		return nil, err
	}
	return moved.Clone(), nil
}

// Delete erases an item. Deleting a missing item is a no-op.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	rec, err := s.read(ctx, s.client, id)
	if errors.Is(err, domain.ErrActionItemNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.itemKey(id))
		s.unindex(ctx, pipe, rec.Item)
		return nil
	})
	return err
}

// Find returns the matching items in insertion order.
// The most selective index set narrows the candidates before the query is applied.
func (s *ItemStore) Find(ctx context.Context, query domain.ItemQuery) ([]*domain.ActionItem, error) {
	var set string
	switch {
	case query.PrincipalID != "":
		set = s.setKey("principal", query.PrincipalID)
	case query.DelegatorID != "":
		set = s.setKey("delegator", query.DelegatorID)
	case query.DocumentID != "":
		set = s.setKey("document", query.DocumentID)
	case query.DocumentType != "":
		set = s.setKey("type", query.DocumentType)
	default:
		set = s.setKey("", "")
	}

	ids, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.itemKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	records := make([]*record, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action item: %w", err)
		}
		if query.Matches(rec.Item) {
			records = append(records, &rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	out := make([]*domain.ActionItem, len(records))
	for i, rec := range records {
		out[i] = rec.Item
	}
	return out, nil
}
