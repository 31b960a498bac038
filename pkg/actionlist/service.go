package actionlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// DefaultViewTTL is how long a principal's materialized list is served before reloading.
const DefaultViewTTL = 30 * time.Second

// view is the materialized list of one principal, active and outbox items together.
type view struct {
	items    []*domain.ActionItem
	loadedAt time.Time
}

// fingerprint identifies the content of a view so refreshes can report changes.
func (v *view) fingerprint() string {
	if v == nil {
		return ""
	}
	var sb strings.Builder
	for _, item := range v.items {
		sb.WriteString(item.ID)
		sb.WriteByte('@')
		sb.WriteString(strconv.Itoa(item.Version))
		sb.WriteByte(';')
	}
	return sb.String()
}

// Service aggregates action items into per-principal action lists and outboxes.
//
// Reads are served from a per-principal view that expires after the view TTL. Writes made
// through the Service invalidate the views of the principals they touch.
type Service struct {
	items     ports.ActionItemRepository
	prefs     ports.PreferenceRepository
	directory ports.Directory
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
	programs  *programCache

	mu      sync.Mutex
	views   map[string]*view
	refresh map[string]bool
}

// Option configures the Service.
type Option func(*Service)

// WithViewTTL sets how long a materialized list stays fresh. Zero disables caching.
func WithViewTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithPreferences sets where per-principal preferences are kept. Defaults to memory.
func WithPreferences(prefs ports.PreferenceRepository) Option {
	return func(s *Service) {
		s.prefs = prefs
	}
}

// WithLogger configures a logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a Service over an item repository. The directory backs the delegation queries.
func New(items ports.ActionItemRepository, directory ports.Directory, opts ...Option) *Service {
	s := &Service{
		items:     items,
		directory: directory,
		ttl:       DefaultViewTTL,
		now:       time.Now,
		logger:    logging.NewNop(),
		programs:  newProgramCache(),
		views:     make(map[string]*view),
		refresh:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prefs == nil {
		s.prefs = memory.NewPreferenceStore()
	}
	return s
}

// --- Views ---

func (s *Service) invalidate(principals ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range principals {
		delete(s.views, p)
	}
}

func (s *Service) load(ctx context.Context, principalID string) (*view, error) {
	items, err := s.items.Find(ctx, domain.ItemQuery{PrincipalID: principalID, Location: domain.LocationAny})
	if err != nil {
		return nil, fmt.Errorf("failed to load action list for '%s': %w", principalID, err)
	}
	return &view{items: items, loadedAt: s.now()}, nil
}

func (s *Service) view(ctx context.Context, principalID string) (*view, error) {
	s.mu.Lock()
	v, ok := s.views[principalID]
	stale := !ok || s.refresh[principalID] || s.now().Sub(v.loadedAt) >= s.ttl
	s.mu.Unlock()
	if !stale {
		return v, nil
	}

	v, err := s.load(ctx, principalID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.views[principalID] = v
	delete(s.refresh, principalID)
	s.mu.Unlock()
	return v, nil
}

func (s *Service) list(ctx context.Context, principalID string, outbox bool, filter domain.ActionListFilter) ([]*domain.ActionItem, error) {
	v, err := s.view(ctx, principalID)
	if err != nil {
		return nil, err
	}
	in := make([]*domain.ActionItem, 0, len(v.items))
	for _, item := range v.items {
		if item.Outbox == outbox {
			in = append(in, item)
		}
	}
	found, err := s.programs.apply(in, filter, s.now())
	if err != nil {
		return nil, err
	}
	return cloneAll(found), nil
}

// GetActionList returns the active items of a principal that match filter.
func (s *Service) GetActionList(ctx context.Context, principalID string, filter domain.ActionListFilter) ([]*domain.ActionItem, error) {
	return s.list(ctx, principalID, false, filter)
}

// GetOutbox returns the outbox items of a principal that match filter.
func (s *Service) GetOutbox(ctx context.Context, principalID string, filter domain.ActionListFilter) ([]*domain.ActionItem, error) {
	return s.list(ctx, principalID, true, filter)
}

// GetCount returns the size of the principal's primary action list. Secondary delegation
// items are not counted.
func (s *Service) GetCount(ctx context.Context, principalID string) (int, error) {
	v, err := s.view(ctx, principalID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range v.items {
		if !item.Outbox && item.Delegation != domain.DelegationSecondary {
			n++
		}
	}
	return n, nil
}

// RefreshActionList reloads the principal's view and reports whether its content changed.
func (s *Service) RefreshActionList(ctx context.Context, principalID string) (bool, error) {
	fresh, err := s.load(ctx, principalID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.views[principalID].fingerprint() != fresh.fingerprint()
	s.views[principalID] = fresh
	delete(s.refresh, principalID)
	return changed, nil
}

// SaveRefreshUserOption flags the principal so that the next read reloads the view.
func (s *Service) SaveRefreshUserOption(principalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[principalID] = true
}

// SetOutboxPreference turns the outbox on or off for a principal. The outbox is on by default.
// With the outbox off, SaveOutboxItem stores nothing unless forced.
func (s *Service) SetOutboxPreference(ctx context.Context, principalID string, enabled bool) error {
	return s.prefs.SetOutboxEnabled(ctx, principalID, enabled)
}

// --- Finders (repository reads, never cached) ---

// FindByActionItemID returns a single item.
func (s *Service) FindByActionItemID(ctx context.Context, id string) (*domain.ActionItem, error) {
	return s.items.Get(ctx, id)
}

// FindByPrincipalID returns the active items of a principal.
func (s *Service) FindByPrincipalID(ctx context.Context, principalID string) ([]*domain.ActionItem, error) {
	return s.items.Find(ctx, domain.ItemQuery{PrincipalID: principalID})
}

// FindByPrincipalAndDocument returns the active items of a principal on one document.
func (s *Service) FindByPrincipalAndDocument(ctx context.Context, principalID, documentID string) ([]*domain.ActionItem, error) {
	return s.items.Find(ctx, domain.ItemQuery{PrincipalID: principalID, DocumentID: documentID})
}

// FindByDocumentID returns the active items of a document.
func (s *Service) FindByDocumentID(ctx context.Context, documentID string) ([]*domain.ActionItem, error) {
	return s.items.Find(ctx, domain.ItemQuery{DocumentID: documentID})
}

// GetActionListForSingleDocument returns every active item on a document, whoever holds it.
func (s *Service) GetActionListForSingleDocument(ctx context.Context, documentID string) ([]*domain.ActionItem, error) {
	return s.FindByDocumentID(ctx, documentID)
}

// FindByDocumentTypeName returns the active items of every document of a type.
func (s *Service) FindByDocumentTypeName(ctx context.Context, documentType string) ([]*domain.ActionItem, error) {
	return s.items.Find(ctx, domain.ItemQuery{DocumentType: documentType})
}

// GetOutboxItemsByDocumentType returns the outbox items of every document of a type.
func (s *Service) GetOutboxItemsByDocumentType(ctx context.Context, documentType string) ([]*domain.ActionItem, error) {
	return s.items.Find(ctx, domain.ItemQuery{DocumentType: documentType, Location: domain.LocationOutbox})
}

// FindUserPrimaryDelegations returns the primary delegates currently holding requests
// on behalf of principalID.
func (s *Service) FindUserPrimaryDelegations(ctx context.Context, principalID string) ([]string, error) {
	items, err := s.items.Find(ctx, domain.ItemQuery{DelegatorID: principalID})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range items {
		if item.Delegation == domain.DelegationPrimary && !slices.Contains(out, item.PrincipalID) {
			out = append(out, item.PrincipalID)
		}
	}
	slices.Sort(out)
	return out, nil
}

// FindUserSecondaryDelegators returns the principals that named principalID as a secondary delegate.
func (s *Service) FindUserSecondaryDelegators(ctx context.Context, principalID string) ([]string, error) {
	return s.directory.SecondaryDelegators(ctx, principalID)
}

// --- Writes ---

// ValidateActionItem checks an item before it is persisted.
func (s *Service) ValidateActionItem(item *domain.ActionItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", domain.ErrInvalidActionItem)
	}
	return item.Validate()
}

// CreateActionItemForActionRequest builds, without persisting, the item that represents req.
func (s *Service) CreateActionItemForActionRequest(doc domain.Document, req domain.ActionRequest) *domain.ActionItem {
	return &domain.ActionItem{
		DocumentID:   req.DocumentID,
		DocumentType: doc.Type,
		Title:        doc.Title,
		InstanceID:   req.InstanceID,
		Node:         req.Node,
		PrincipalID:  req.PrincipalID,
		Action:       req.Action,
		Delegation:   req.Delegation,
		DelegatorID:  req.DelegatorID,
		Source:       req.Source,
		CreatedAt:    s.now(),
	}
}

// SaveActionItem validates and stores an item.
func (s *Service) SaveActionItem(ctx context.Context, item *domain.ActionItem) (*domain.ActionItem, error) {
	if err := s.ValidateActionItem(item); err != nil {
		return nil, err
	}
	saved, err := s.items.Upsert(ctx, item)
	if err != nil {
		return nil, err
	}
	s.invalidate(saved.PrincipalID)
	return saved, nil
}

// SaveOutboxItem records an item in the principal's outbox. Nothing is stored when the
// principal turned the outbox off, unless forceIntoOutbox is set.
func (s *Service) SaveOutboxItem(ctx context.Context, item *domain.ActionItem, forceIntoOutbox bool) (*domain.ActionItem, error) {
	if !forceIntoOutbox {
		enabled, err := s.prefs.OutboxEnabled(ctx, item.PrincipalID)
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, nil
		}
	}
	if err := s.ValidateActionItem(item); err != nil {
		return nil, err
	}
	saved, err := s.items.Upsert(ctx, item)
	if err != nil {
		return nil, err
	}
	if !saved.Outbox {
		if saved, err = s.items.MoveToOutbox(ctx, saved.ID, saved.Version); err != nil {
			return nil, err
		}
	}
	s.invalidate(saved.PrincipalID)
	return saved, nil
}

// DeleteActionItem takes an item off the active list. With forceIntoOutbox it is kept in the
// outbox; otherwise it is erased from both lists.
func (s *Service) DeleteActionItem(ctx context.Context, item *domain.ActionItem, forceIntoOutbox bool) error {
	defer s.invalidate(item.PrincipalID)

	if item.Outbox || !forceIntoOutbox {
		return s.items.Delete(ctx, item.ID)
	}
	_, err := s.items.MoveToOutbox(ctx, item.ID, item.Version)
	return err
}

// DeleteByDocumentID erases every item of a document, outbox included.
func (s *Service) DeleteByDocumentID(ctx context.Context, documentID string) error {
	items, err := s.items.Find(ctx, domain.ItemQuery{DocumentID: documentID, Location: domain.LocationAny})
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.items.Delete(ctx, item.ID); err != nil && !errors.Is(err, domain.ErrActionItemNotFound) {
			return err
		}
		s.invalidate(item.PrincipalID)
	}
	return nil
}

// RemoveOutboxItems erases outbox items owned by principalID. IDs that are not in the
// principal's outbox are ignored.
func (s *Service) RemoveOutboxItems(ctx context.Context, principalID string, ids []string) error {
	defer s.invalidate(principalID)
	for _, id := range ids {
		item, err := s.items.Get(ctx, id)
		if errors.Is(err, domain.ErrActionItemNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !item.Outbox || item.PrincipalID != principalID {
			continue
		}
		if err := s.items.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateActionItemsForTitleChange rewrites the denormalized title on every item of a document.
func (s *Service) UpdateActionItemsForTitleChange(ctx context.Context, documentID, title string) error {
	items, err := s.items.Find(ctx, domain.ItemQuery{DocumentID: documentID, Location: domain.LocationAny})
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Title == title {
			continue
		}
		item.Title = title
		if _, err := s.items.Upsert(ctx, item); err != nil {
			return fmt.Errorf("failed to retitle action item '%s': %w", item.ID, err)
		}
		s.invalidate(item.PrincipalID)
	}
	return nil
}

// Publish materializes action requests as items. Requests whose key already has an item,
// active or in the outbox, are skipped, so publishing the same requests twice is harmless.
// When moot is set (the document was withdrawn) the items are created directly in the outbox.
func (s *Service) Publish(ctx context.Context, doc domain.Document, requests []domain.ActionRequest, moot bool) ([]*domain.ActionItem, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	existing, err := s.items.Find(ctx, domain.ItemQuery{DocumentID: doc.ID, Location: domain.LocationAny})
	if err != nil {
		return nil, err
	}
	known := make(map[domain.ItemKey]bool, len(existing))
	for _, item := range existing {
		known[item.Key()] = true
	}

	var published []*domain.ActionItem
	for _, req := range requests {
		if known[req.Key()] {
			continue
		}
		known[req.Key()] = true

		item := s.CreateActionItemForActionRequest(doc, req)
		item.Moot = moot
		if err := s.ValidateActionItem(item); err != nil {
			return published, err
		}
		saved, err := s.items.Upsert(ctx, item)
		if err != nil {
			return published, fmt.Errorf("failed to publish action item for '%s': %w", req.PrincipalID, err)
		}
		if moot {
			if saved, err = s.items.MoveToOutbox(ctx, saved.ID, saved.Version); err != nil {
				return published, err
			}
		}
		s.invalidate(saved.PrincipalID)
		published = append(published, saved)
	}

	s.logger.Debug("Published action items",
		"document_id", doc.ID,
		"requested", len(requests),
		"published", len(published),
	)
	return published, nil
}

// RetireInstance moves the active items of a node instance to the outbox.
func (s *Service) RetireInstance(ctx context.Context, documentID, instanceID string) ([]*domain.ActionItem, error) {
	items, err := s.FindByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var retired []*domain.ActionItem
	for _, item := range items {
		if item.InstanceID != instanceID {
			continue
		}
		moved, err := s.items.MoveToOutbox(ctx, item.ID, item.Version)
		if err != nil {
			return retired, err
		}
		s.invalidate(moved.PrincipalID)
		retired = append(retired, moved)
	}
	return retired, nil
}

// MarkMoot flags every active item of a withdrawn document as moot and moves it to the outbox.
func (s *Service) MarkMoot(ctx context.Context, documentID string) ([]*domain.ActionItem, error) {
	items, err := s.FindByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var mooted []*domain.ActionItem
	for _, item := range items {
		item.Moot = true
		saved, err := s.items.Upsert(ctx, item)
		if err != nil {
			return mooted, err
		}
		moved, err := s.items.MoveToOutbox(ctx, saved.ID, saved.Version)
		if err != nil {
			return mooted, err
		}
		s.invalidate(moved.PrincipalID)
		mooted = append(mooted, moved)
	}
	return mooted, nil
}

func cloneAll(items []*domain.ActionItem) []*domain.ActionItem {
	out := make([]*domain.ActionItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
