package observability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the routing counters.
type Metrics struct {
	NodeActivations *prometheus.CounterVec
	NodeCompletions *prometheus.CounterVec
	JoinReleases    *prometheus.CounterVec
	ResolutionGaps  *prometheus.CounterVec
	ItemsPublished  *prometheus.CounterVec
	Withdrawals     prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg. Counters that are already
// registered (for example by a second engine in the same process) are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		NodeActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waypoint_node_activations_total",
				Help: "Total number of node instances activated",
			},
			[]string{"node"},
		),
		NodeCompletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waypoint_node_completions_total",
				Help: "Total number of node instances completed",
			},
			[]string{"node"},
		),
		JoinReleases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waypoint_join_releases_total",
				Help: "Total number of join barriers released",
			},
			[]string{"node"},
		),
		ResolutionGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waypoint_resolution_gaps_total",
				Help: "Total number of recipients that resolved to nobody",
			},
			[]string{"reason"},
		),
		ItemsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waypoint_action_items_published_total",
				Help: "Total number of action items published",
			},
			[]string{"action"},
		),
		Withdrawals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "waypoint_documents_withdrawn_total",
				Help: "Total number of documents withdrawn",
			},
		),
	}

	var err error
	if m.NodeActivations, err = register(reg, m.NodeActivations); err != nil {
		return nil, err
	}
	if m.NodeCompletions, err = register(reg, m.NodeCompletions); err != nil {
		return nil, err
	}
	if m.JoinReleases, err = register(reg, m.JoinReleases); err != nil {
		return nil, err
	}
	if m.ResolutionGaps, err = register(reg, m.ResolutionGaps); err != nil {
		return nil, err
	}
	if m.ItemsPublished, err = register(reg, m.ItemsPublished); err != nil {
		return nil, err
	}
	if m.Withdrawals, err = register(reg, m.Withdrawals); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Hooks returns lifecycle hooks that feed the counters.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeActivated: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeActivations.WithLabelValues(e.Node).Inc()
		},
		OnNodeCompleted: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeCompletions.WithLabelValues(e.Node).Inc()
		},
		OnJoinReleased: func(_ context.Context, e *domain.NodeEvent) {
			m.JoinReleases.WithLabelValues(e.Node).Inc()
		},
		OnResolutionGap: func(_ context.Context, e *domain.GapEvent) {
			reason := "unknown"
			if e.Gap != nil {
				reason = string(e.Gap.Reason)
			}
			m.ResolutionGaps.WithLabelValues(reason).Inc()
		},
		OnItemPublished: func(_ context.Context, e *domain.ItemEvent) {
			m.ItemsPublished.WithLabelValues(string(e.Item.Action)).Inc()
		},
		OnDocumentWithdrawn: func(context.Context, *domain.EventBase) {
			m.Withdrawals.Inc()
		},
	}
}

// LogHooks returns lifecycle hooks that log every event at Debug, and gaps at Warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	node := func(msg string) func(context.Context, *domain.NodeEvent) {
		return func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, msg,
				"document_id", e.DocumentID,
				"instance_id", e.InstanceID,
				"node", e.Node,
			)
		}
	}
	return domain.LifecycleHooks{
		OnNodeActivated: node("node_activated"),
		OnNodeCompleted: node("node_completed"),
		OnJoinReleased:  node("join_released"),
		OnResolutionGap: func(ctx context.Context, e *domain.GapEvent) {
			if e.Gap == nil {
				return
			}
			logger.WarnContext(ctx, "resolution_gap",
				"document_id", e.DocumentID,
				"instance_id", e.Gap.InstanceID,
				"recipient", e.Gap.Recipient.String(),
				"reason", string(e.Gap.Reason),
				"retry", e.Gap.Retry,
			)
		},
		OnItemPublished: func(ctx context.Context, e *domain.ItemEvent) {
			logger.DebugContext(ctx, "item_published",
				"document_id", e.DocumentID,
				"principal_id", e.Item.PrincipalID,
				"action", string(e.Item.Action),
			)
		},
		OnDocumentWithdrawn: func(ctx context.Context, e *domain.EventBase) {
			logger.DebugContext(ctx, "document_withdrawn", "document_id", e.DocumentID)
		},
	}
}
