package waypoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/internal/runtime"
	"github.com/aretw0/waypoint/pkg/actionlist"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/document"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// Engine is the high-level entry point of the library.
// It wires the template store, the document graphs, the identity directory and the action
// lists, and exposes routing as a handful of document-level calls.
type Engine struct {
	runtime *runtime.Engine
	actions *actionlist.Service

	templates ports.TemplateStore
	graphs    ports.GraphRepository
	items     ports.ActionItemRepository
	prefs     ports.PreferenceRepository
	directory ports.Directory
	locker    ports.DistributedLocker
	lockTTL   time.Duration

	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	lookupTimeout time.Duration
	viewTTL       *time.Duration
	now           func() time.Time
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithTemplateStore replaces the in-memory template store.
func WithTemplateStore(store ports.TemplateStore) Option {
	return func(e *Engine) {
		e.templates = store
	}
}

// WithGraphStore replaces the in-memory graph repository.
func WithGraphStore(store ports.GraphRepository) Option {
	return func(e *Engine) {
		e.graphs = store
	}
}

// WithActionItemStore replaces the in-memory action item repository.
func WithActionItemStore(store ports.ActionItemRepository) Option {
	return func(e *Engine) {
		e.items = store
	}
}

// WithPreferenceStore replaces the in-memory store of per-principal action list preferences.
func WithPreferenceStore(store ports.PreferenceRepository) Option {
	return func(e *Engine) {
		e.prefs = store
	}
}

// WithDirectory sets the identity directory used to resolve recipients and delegations.
func WithDirectory(directory ports.Directory) Option {
	return func(e *Engine) {
		e.directory = directory
	}
}

// WithLocker enables distributed document locks, held for at most ttl.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks. Repeated calls chain the hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLookupTimeout bounds each directory call.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.lookupTimeout = d
	}
}

// WithViewTTL sets how long action list views stay fresh. Zero disables caching.
func WithViewTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.viewTTL = &ttl
	}
}

// WithClock overrides the time source of instances, action items and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New initializes an Engine. Every collaborator defaults to its in-memory implementation,
// and the default directory knows nobody.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.templates == nil {
		e.templates = memory.NewTemplateStore()
	}
	if e.graphs == nil {
		e.graphs = memory.NewGraphStore()
	}
	if e.items == nil {
		e.items = memory.NewItemStore(memory.WithClock(e.now))
	}
	if e.directory == nil {
		e.directory = memory.NewDirectory()
	}

	docOpts := []document.Option{document.WithLogger(e.logger)}
	if e.locker != nil {
		docOpts = append(docOpts, document.WithLocker(e.locker), document.WithLockTTL(e.lockTTL))
	}

	actionOpts := []actionlist.Option{
		actionlist.WithLogger(e.logger),
		actionlist.WithClock(e.now),
	}
	if e.viewTTL != nil {
		actionOpts = append(actionOpts, actionlist.WithViewTTL(*e.viewTTL))
	}
	if e.prefs != nil {
		actionOpts = append(actionOpts, actionlist.WithPreferences(e.prefs))
	}
	e.actions = actionlist.New(e.items, e.directory, actionOpts...)

	e.runtime = runtime.NewEngine(
		e.templates,
		document.NewManager(e.graphs, docOpts...),
		e.actions,
		runtime.NewTracker(runtime.WithClock(e.now)),
		runtime.NewResolver(e.directory,
			runtime.WithLookupTimeout(e.lookupTimeout),
			runtime.WithResolverLogger(e.logger),
		),
		runtime.WithHooks(e.hooks),
		runtime.WithLogger(e.logger),
		runtime.WithEventClock(e.now),
	)
	return e
}

// Publish validates and stores a template.
func (e *Engine) Publish(ctx context.Context, tpl *domain.Template) (*domain.Template, error) {
	return e.templates.Publish(ctx, tpl)
}

// Load publishes every template of a source and returns how many were published.
// It stops at the first invalid template.
func (e *Engine) Load(ctx context.Context, source ports.TemplateSource) (int, error) {
	templates, err := source.Templates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load templates: %w", err)
	}
	for i, tpl := range templates {
		published, err := e.templates.Publish(ctx, tpl)
		if err != nil {
			return i, fmt.Errorf("failed to publish template '%s': %w", tpl.Name, err)
		}
		e.logger.Debug("Template published", "template", published.Name, "template_version", published.Version)
	}
	return len(templates), nil
}

// Route starts routing a document on the template bound to its type (or the template it names).
func (e *Engine) Route(ctx context.Context, doc domain.Document) (*domain.Graph, error) {
	return e.runtime.Route(ctx, doc)
}

// Complete advances an active node instance directly and returns the instances it activated.
func (e *Engine) Complete(ctx context.Context, documentID, instanceID string) ([]*domain.NodeInstance, error) {
	return e.runtime.Complete(ctx, documentID, instanceID)
}

// Act takes the action requested by an action item.
func (e *Engine) Act(ctx context.Context, itemID string) (*domain.ActionItem, error) {
	return e.runtime.Act(ctx, itemID)
}

// Withdraw stops routing a document.
func (e *Engine) Withdraw(ctx context.Context, documentID string) error {
	return e.runtime.Withdraw(ctx, documentID)
}

// Reresolve publishes the requests of active instances that have no action item yet.
func (e *Engine) Reresolve(ctx context.Context, documentID string) ([]*domain.ActionItem, error) {
	return e.runtime.Reresolve(ctx, documentID)
}

// Retitle renames a document everywhere it is displayed.
func (e *Engine) Retitle(ctx context.Context, documentID, title string) error {
	return e.runtime.Retitle(ctx, documentID, title)
}

// Graph returns a snapshot of a document's node instance graph.
func (e *Engine) Graph(ctx context.Context, documentID string) (*domain.Graph, error) {
	return e.runtime.Graph(ctx, documentID)
}

// Template returns the template version a document is routed on.
func (e *Engine) Template(ctx context.Context, documentID string) (*domain.Template, error) {
	return e.runtime.Template(ctx, documentID)
}

// NodeState reads an extension value from a node instance.
func (e *Engine) NodeState(ctx context.Context, documentID, instanceID, key string) (string, bool, error) {
	return e.runtime.NodeState(ctx, documentID, instanceID, key)
}

// SetNodeState stores an extension value on a node instance.
func (e *Engine) SetNodeState(ctx context.Context, documentID, instanceID, key, value string) error {
	return e.runtime.SetNodeState(ctx, documentID, instanceID, key, value)
}

// RemoveNodeState deletes an extension value from a node instance.
func (e *Engine) RemoveNodeState(ctx context.Context, documentID, instanceID, key string, strict bool) error {
	return e.runtime.RemoveNodeState(ctx, documentID, instanceID, key, strict)
}

// ActionList returns the action list service backing the engine.
func (e *Engine) ActionList() *actionlist.Service {
	return e.actions
}

// Templates returns the template store.
func (e *Engine) Templates() ports.TemplateStore {
	return e.templates
}
