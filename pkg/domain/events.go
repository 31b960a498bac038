package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeActivated     EventType = "node_activated"
	EventNodeCompleted     EventType = "node_completed"
	EventJoinReleased      EventType = "join_released"
	EventResolutionGap     EventType = "resolution_gap"
	EventItemPublished     EventType = "item_published"
	EventDocumentWithdrawn EventType = "document_withdrawn"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
}

// NodeEvent reports a node instance changing state.
type NodeEvent struct {
	EventBase
	InstanceID string `json:"instance_id"`
	Node       string `json:"node"`
	BranchID   string `json:"branch_id,omitempty"`
}

// GapEvent reports a recipient that resolved to nobody.
type GapEvent struct {
	EventBase
	Gap *GapError `json:"-"`
}

// ItemEvent reports an action item being published.
type ItemEvent struct {
	EventBase
	Item *ActionItem `json:"item"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeActivated     func(context.Context, *NodeEvent)
	OnNodeCompleted     func(context.Context, *NodeEvent)
	OnJoinReleased      func(context.Context, *NodeEvent)
	OnResolutionGap     func(context.Context, *GapEvent)
	OnItemPublished     func(context.Context, *ItemEvent)
	OnDocumentWithdrawn func(context.Context, *EventBase)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeActivated:     chain(h.OnNodeActivated, other.OnNodeActivated),
		OnNodeCompleted:     chain(h.OnNodeCompleted, other.OnNodeCompleted),
		OnJoinReleased:      chain(h.OnJoinReleased, other.OnJoinReleased),
		OnResolutionGap:     chain(h.OnResolutionGap, other.OnResolutionGap),
		OnItemPublished:     chain(h.OnItemPublished, other.OnItemPublished),
		OnDocumentWithdrawn: chain(h.OnDocumentWithdrawn, other.OnDocumentWithdrawn),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
