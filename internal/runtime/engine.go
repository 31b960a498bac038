package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/internal/tracing"
	"github.com/aretw0/waypoint/pkg/actionlist"
	"github.com/aretw0/waypoint/pkg/document"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// Engine orchestrates routing: it drives the tracker, resolves recipients for activated
// instances and keeps the action lists in step with the graph.
//
// Every mutation runs under the document lock in the order load, mutate, versioned save,
// publish. If publishing fails after the save the graph stays saved and Reresolve repairs the
// action lists.
type Engine struct {
	templates ports.TemplateStore
	docs      *document.Manager
	actions   *actionlist.Service
	tracker   *Tracker
	resolver  *Resolver

	hooks  domain.LifecycleHooks
	logger *slog.Logger
	now    func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithHooks registers lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLogger configures the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEventClock overrides the time stamped on lifecycle events.
func WithEventClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine wires an engine from its collaborators.
func NewEngine(templates ports.TemplateStore, docs *document.Manager, actions *actionlist.Service, tracker *Tracker, resolver *Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		templates: templates,
		docs:      docs,
		actions:   actions,
		tracker:   tracker,
		resolver:  resolver,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Route starts routing a document: it picks the template, materializes the initial instance
// and publishes its action items. Routing a document twice fails with domain.ErrIllegalState.
func (e *Engine) Route(ctx context.Context, doc domain.Document) (g *domain.Graph, err error) {
	ctx, span := tracing.StartSpan(ctx, "waypoint.route")
	span.WithAttributes(map[string]string{"document_id": doc.ID, "document_type": doc.Type})
	defer func() { tracing.EndSpan(span, err) }()

	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document without id", domain.ErrIllegalState)
	}
	tpl, err := e.templateFor(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc.Template = tpl.Name

	g = domain.NewGraph(doc, tpl)
	tr, err := e.tracker.CreateInitial(g, tpl)
	if err != nil {
		return nil, err
	}
	if err := e.passThrough(g, tpl, tr); err != nil {
		return nil, err
	}

	err = e.docs.Create(ctx, g, func(ctx context.Context, g *domain.Graph) error {
		return e.settle(ctx, g, tpl, tr)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document routed",
		"document_id", doc.ID,
		"template", tpl.Name,
		"template_version", tpl.Version,
	)
	return g, nil
}

// Complete advances an active instance and returns the instances it activated.
func (e *Engine) Complete(ctx context.Context, documentID, instanceID string) (activated []*domain.NodeInstance, err error) {
	ctx, span := tracing.StartSpan(ctx, "waypoint.complete")
	span.WithAttributes(map[string]string{"document_id": documentID, "instance_id": instanceID})
	defer func() { tracing.EndSpan(span, err) }()

	var (
		tpl *domain.Template
		tr  *Transition
	)
	_, err = e.docs.Update(ctx, documentID,
		func(ctx context.Context, g *domain.Graph) error {
			var err error
			if tpl, err = e.templateOf(ctx, g); err != nil {
				return err
			}
			if tr, err = e.tracker.Advance(g, tpl, instanceID); err != nil {
				return err
			}
			return e.passThrough(g, tpl, tr)
		},
		func(ctx context.Context, g *domain.Graph) error {
			return e.settle(ctx, g, tpl, tr)
		},
	)
	if err != nil {
		return nil, err
	}
	return tr.Activated, nil
}

// Act records that the holder of an action item acted on it.
//
// The item, and every parallel copy held on behalf of the same principal, moves to the outbox.
// The node instance completes when its policy is met: on the first action for PolicyFirst,
// or once no active item is left for PolicyAll.
func (e *Engine) Act(ctx context.Context, itemID string) (acted *domain.ActionItem, err error) {
	ctx, span := tracing.StartSpan(ctx, "waypoint.act")
	span.WithAttributes(map[string]string{"action_item_id": itemID})
	defer func() { tracing.EndSpan(span, err) }()

	item, err := e.actions.FindByActionItemID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var (
		tpl     *domain.Template
		tr      *Transition
		settled []*domain.ActionItem
	)
	_, err = e.docs.Update(ctx, item.DocumentID,
		func(ctx context.Context, g *domain.Graph) error {
			if g.Withdrawn {
				return domain.ErrWithdrawn
			}
			// Re-read under the lock: another actor may have settled it.
			current, err := e.actions.FindByActionItemID(ctx, itemID)
			if err != nil {
				return err
			}
			if current.Outbox {
				return fmt.Errorf("%w: action item '%s' was already acted on", domain.ErrIllegalState, itemID)
			}
			inst, err := g.Instance(current.InstanceID)
			if err != nil {
				return err
			}
			if !inst.Active {
				return fmt.Errorf("%w: node instance '%s' is not active", domain.ErrIllegalState, inst.ID)
			}
			if tpl, err = e.templateOf(ctx, g); err != nil {
				return err
			}
			node, err := e.tracker.node(tpl, inst.Node)
			if err != nil {
				return err
			}

			open, err := e.instanceItems(ctx, g.DocumentID(), inst.ID)
			if err != nil {
				return err
			}
			owner := onBehalfOf(current)
			remaining := 0
			for _, other := range open {
				if onBehalfOf(other) == owner {
					settled = append(settled, other)
				} else {
					remaining++
				}
			}

			if node.PolicyOrDefault() != domain.PolicyFirst && remaining > 0 {
				return nil
			}
			if tr, err = e.tracker.Advance(g, tpl, inst.ID); err != nil {
				return err
			}
			return e.passThrough(g, tpl, tr)
		},
		func(ctx context.Context, g *domain.Graph) error {
			for _, other := range settled {
				if err := e.actions.DeleteActionItem(ctx, other, true); err != nil {
					return err
				}
			}
			if tr == nil {
				return nil
			}
			return e.settle(ctx, g, tpl, tr)
		},
	)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Action taken",
		"document_id", item.DocumentID,
		"instance_id", item.InstanceID,
		"principal_id", item.PrincipalID,
		"action", string(item.Action),
		"advanced", tr != nil,
	)
	return e.actions.FindByActionItemID(ctx, itemID)
}

// onBehalfOf returns the principal a request ultimately belongs to.
func onBehalfOf(item *domain.ActionItem) string {
	if item.DelegatorID != "" {
		return item.DelegatorID
	}
	return item.PrincipalID
}

// Withdraw stops routing: every active instance completes without firing successors and
// every active item becomes moot in the outbox. Withdrawing twice is a no-op.
func (e *Engine) Withdraw(ctx context.Context, documentID string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "waypoint.withdraw")
	span.WithAttributes(map[string]string{"document_id": documentID})
	defer func() { tracing.EndSpan(span, err) }()

	var (
		already   bool
		cancelled []*domain.NodeInstance
	)
	_, err = e.docs.Update(ctx, documentID,
		func(ctx context.Context, g *domain.Graph) error {
			already = g.Withdrawn
			cancelled = e.tracker.Cancel(g)
			return nil
		},
		func(ctx context.Context, g *domain.Graph) error {
			if _, err := e.actions.MarkMoot(ctx, documentID); err != nil {
				return err
			}
			if already {
				return nil
			}
			for _, inst := range cancelled {
				e.emitNode(ctx, domain.EventNodeCompleted, inst)
			}
			if h := e.hooks.OnDocumentWithdrawn; h != nil {
				h(ctx, &domain.EventBase{Timestamp: e.now(), Type: domain.EventDocumentWithdrawn, DocumentID: documentID})
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	if !already {
		e.logger.Info("Document withdrawn", "document_id", documentID, "cancelled", len(cancelled))
	}
	return nil
}

// Reresolve resolves every active instance again and publishes the requests that have no item
// yet. It repairs action lists after a directory gap is fixed or a publish failed.
func (e *Engine) Reresolve(ctx context.Context, documentID string) (published []*domain.ActionItem, err error) {
	ctx, span := tracing.StartSpan(ctx, "waypoint.reresolve")
	span.WithAttributes(map[string]string{"document_id": documentID})
	defer func() { tracing.EndSpan(span, err) }()

	err = e.docs.View(ctx, documentID, func(ctx context.Context, g *domain.Graph) error {
		tpl, err := e.templateOf(ctx, g)
		if err != nil {
			return err
		}
		published, err = e.publish(ctx, g, tpl, g.Active())
		return err
	})
	return published, err
}

// Retitle changes the document title on the graph and on every action item.
func (e *Engine) Retitle(ctx context.Context, documentID, title string) error {
	_, err := e.docs.Update(ctx, documentID,
		func(_ context.Context, g *domain.Graph) error {
			g.Document.Title = title
			return nil
		},
		func(ctx context.Context, _ *domain.Graph) error {
			return e.actions.UpdateActionItemsForTitleChange(ctx, documentID, title)
		},
	)
	return err
}

// Graph returns a snapshot of the document graph.
func (e *Engine) Graph(ctx context.Context, documentID string) (*domain.Graph, error) {
	return e.docs.Load(ctx, documentID)
}

// Template returns the template version a document is routed on.
func (e *Engine) Template(ctx context.Context, documentID string) (*domain.Template, error) {
	g, err := e.docs.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return e.templateOf(ctx, g)
}

// NodeState reads an extension value from a node instance.
func (e *Engine) NodeState(ctx context.Context, documentID, instanceID, key string) (value string, ok bool, err error) {
	err = e.docs.View(ctx, documentID, func(_ context.Context, g *domain.Graph) error {
		value, ok, err = e.tracker.NodeState(g, instanceID, key)
		return err
	})
	return value, ok, err
}

// SetNodeState stores an extension value on a node instance.
func (e *Engine) SetNodeState(ctx context.Context, documentID, instanceID, key, value string) error {
	_, err := e.docs.Update(ctx, documentID, func(_ context.Context, g *domain.Graph) error {
		return e.tracker.SetNodeState(g, instanceID, key, value)
	})
	return err
}

// RemoveNodeState deletes an extension value. With strict set, a missing key is an error.
func (e *Engine) RemoveNodeState(ctx context.Context, documentID, instanceID, key string, strict bool) error {
	_, err := e.docs.Update(ctx, documentID, func(_ context.Context, g *domain.Graph) error {
		return e.tracker.RemoveNodeState(g, instanceID, key, strict)
	})
	return err
}

// passThrough advances activated instances that address nobody, such as bare splits and
// joins, until every active instance either waits for recipients or is a process.
func (e *Engine) passThrough(g *domain.Graph, tpl *domain.Template, tr *Transition) error {
	for i := 0; i < len(tr.Activated); i++ {
		inst := tr.Activated[i]
		if !inst.Active {
			continue
		}
		node, ok := tpl.Node(inst.Node)
		if !ok || node.IsProcess() || len(node.Recipients) > 0 {
			continue
		}
		next, err := e.tracker.Advance(g, tpl, inst.ID)
		if err != nil {
			return err
		}
		tr.merge(next)
	}
	return nil
}

// settle runs the side effects of a transition once the graph is saved.
func (e *Engine) settle(ctx context.Context, g *domain.Graph, tpl *domain.Template, tr *Transition) error {
	for _, inst := range tr.Completed {
		if _, err := e.actions.RetireInstance(ctx, g.DocumentID(), inst.ID); err != nil {
			return fmt.Errorf("failed to retire items of '%s': %w", inst.ID, err)
		}
		e.emitNode(ctx, domain.EventNodeCompleted, inst)
	}
	for _, inst := range tr.Released {
		e.emitNode(ctx, domain.EventJoinReleased, inst)
	}
	for _, inst := range tr.Activated {
		e.emitNode(ctx, domain.EventNodeActivated, inst)
	}

	if _, err := e.publish(ctx, g, tpl, tr.Activated); err != nil {
		e.logger.Error("Failed to publish action items",
			"document_id", g.DocumentID(),
			"err", err,
		)
		return err
	}
	return nil
}

// publish resolves and publishes requests for the given instances.
func (e *Engine) publish(ctx context.Context, g *domain.Graph, tpl *domain.Template, instances []*domain.NodeInstance) ([]*domain.ActionItem, error) {
	var published []*domain.ActionItem
	for _, inst := range instances {
		if !inst.Active {
			continue
		}
		node, ok := tpl.Node(inst.Node)
		if !ok || len(node.Recipients) == 0 {
			continue
		}

		rctx, span := tracing.StartSpan(ctx, "waypoint.resolve")
		span.WithAttributes(map[string]string{"instance_id": inst.ID, "node": inst.Node})
		res := e.resolver.Resolve(rctx, g.Document, inst, node)
		tracing.EndSpan(span, nil)

		for _, gap := range res.Gaps {
			if h := e.hooks.OnResolutionGap; h != nil {
				h(ctx, &domain.GapEvent{
					EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventResolutionGap, DocumentID: g.DocumentID()},
					Gap:       gap,
				})
			}
		}

		items, err := e.actions.Publish(ctx, g.Document, res.Requests, g.Withdrawn)
		published = append(published, items...)
		if err != nil {
			return published, err
		}
		for _, item := range items {
			if h := e.hooks.OnItemPublished; h != nil {
				h(ctx, &domain.ItemEvent{
					EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventItemPublished, DocumentID: g.DocumentID()},
					Item:      item,
				})
			}
		}
	}
	return published, nil
}

func (e *Engine) emitNode(ctx context.Context, typ domain.EventType, inst *domain.NodeInstance) {
	var hook func(context.Context, *domain.NodeEvent)
	switch typ {
	case domain.EventNodeActivated:
		hook = e.hooks.OnNodeActivated
	case domain.EventNodeCompleted:
		hook = e.hooks.OnNodeCompleted
	case domain.EventJoinReleased:
		hook = e.hooks.OnJoinReleased
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.NodeEvent{
		EventBase:  domain.EventBase{Timestamp: e.now(), Type: typ, DocumentID: inst.DocumentID},
		InstanceID: inst.ID,
		Node:       inst.Node,
		BranchID:   inst.BranchID,
	})
}

func (e *Engine) instanceItems(ctx context.Context, documentID, instanceID string) ([]*domain.ActionItem, error) {
	items, err := e.actions.FindByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var out []*domain.ActionItem
	for _, item := range items {
		if item.InstanceID == instanceID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (e *Engine) templateFor(ctx context.Context, doc domain.Document) (*domain.Template, error) {
	if doc.Template != "" {
		return e.templates.Get(ctx, doc.Template)
	}
	return e.templates.ForDocumentType(ctx, doc.Type)
}

func (e *Engine) templateOf(ctx context.Context, g *domain.Graph) (*domain.Template, error) {
	tpl, err := e.templates.GetVersion(ctx, g.Template, g.TemplateVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load template '%s' v%d: %w", g.Template, g.TemplateVersion, err)
	}
	return tpl, nil
}
