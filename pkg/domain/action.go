package domain

import (
	"fmt"
	"time"
)

// Document is the routed business object. Only the fields routing needs are kept.
type Document struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Title is denormalized onto action items for display.
	Title string `json:"title,omitempty"`
	// Template optionally pins a template by name instead of resolving it by type.
	Template string `json:"template,omitempty"`
}

// DelegationType records how a recipient came to hold a request.
type DelegationType string

const (
	DelegationNone      DelegationType = ""
	DelegationPrimary   DelegationType = "primary"
	DelegationSecondary DelegationType = "secondary"
)

// ActionRequest is a demand for a principal to act on a document at a node instance.
type ActionRequest struct {
	DocumentID  string         `json:"document_id"`
	InstanceID  string         `json:"instance_id"`
	Node        string         `json:"node"`
	PrincipalID string         `json:"principal_id"`
	Action      ActionType     `json:"action"`
	Delegation  DelegationType `json:"delegation,omitempty"`
	DelegatorID string         `json:"delegator_id,omitempty"`
	// Source is the template recipient the request was expanded from.
	Source Recipient `json:"source"`
}

// Key returns the uniqueness key of the request.
func (r ActionRequest) Key() ItemKey {
	return ItemKey{DocumentID: r.DocumentID, InstanceID: r.InstanceID, PrincipalID: r.PrincipalID, Action: r.Action}
}

// ItemKey is the identity tuple that admits exactly one action item.
type ItemKey struct {
	DocumentID  string
	InstanceID  string
	PrincipalID string
	Action      ActionType
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.DocumentID, k.InstanceID, k.PrincipalID, k.Action)
}

// ActionItem is the persisted, queryable record of an action request.
// It lives either in the active list or in the outbox.
type ActionItem struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"document_id"`
	DocumentType string         `json:"document_type"`
	Title        string         `json:"title,omitempty"`
	InstanceID   string         `json:"instance_id"`
	Node         string         `json:"node"`
	PrincipalID  string         `json:"principal_id"`
	Action       ActionType     `json:"action"`
	Delegation   DelegationType `json:"delegation,omitempty"`
	DelegatorID  string         `json:"delegator_id,omitempty"`
	Source       Recipient      `json:"source"`

	Outbox bool `json:"outbox"`
	// Moot marks items orphaned by a withdrawn document.
	Moot       bool      `json:"moot,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	OutboxedAt time.Time `json:"outboxed_at,omitzero"`

	Version int `json:"version"`
}

// Key returns the uniqueness key of the item.
func (i *ActionItem) Key() ItemKey {
	return ItemKey{DocumentID: i.DocumentID, InstanceID: i.InstanceID, PrincipalID: i.PrincipalID, Action: i.Action}
}

// Clone returns a copy of the item.
func (i *ActionItem) Clone() *ActionItem {
	c := *i
	return &c
}

// Validate checks the fields every persisted item must carry.
func (i *ActionItem) Validate() error {
	switch {
	case i.DocumentID == "":
		return fmt.Errorf("%w: document id is required", ErrInvalidActionItem)
	case i.InstanceID == "":
		return fmt.Errorf("%w: node instance id is required", ErrInvalidActionItem)
	case i.PrincipalID == "":
		return fmt.Errorf("%w: principal id is required", ErrInvalidActionItem)
	case i.Action == "":
		return fmt.Errorf("%w: action is required", ErrInvalidActionItem)
	case i.Delegation != DelegationNone && i.DelegatorID == "":
		return fmt.Errorf("%w: delegated item without delegator", ErrInvalidActionItem)
	}
	return nil
}

// Location selects active items, outbox items, or both.
type Location int

const (
	LocationActive Location = iota
	LocationOutbox
	LocationAny
)

// ItemQuery is the repository-level selection of action items.
// Empty fields match everything.
type ItemQuery struct {
	PrincipalID  string
	DocumentID   string
	DocumentType string
	DelegatorID  string
	Location     Location
}

// Matches reports whether item satisfies the query.
func (q ItemQuery) Matches(item *ActionItem) bool {
	if q.PrincipalID != "" && item.PrincipalID != q.PrincipalID {
		return false
	}
	if q.DocumentID != "" && item.DocumentID != q.DocumentID {
		return false
	}
	if q.DocumentType != "" && item.DocumentType != q.DocumentType {
		return false
	}
	if q.DelegatorID != "" && item.DelegatorID != q.DelegatorID {
		return false
	}
	switch q.Location {
	case LocationActive:
		return !item.Outbox
	case LocationOutbox:
		return item.Outbox
	}
	return true
}

// DelegationFilter selects items by delegation type.
type DelegationFilter string

const (
	DelegationFilterAny       DelegationFilter = ""
	DelegationFilterNone      DelegationFilter = "none"
	DelegationFilterPrimary   DelegationFilter = "primary"
	DelegationFilterSecondary DelegationFilter = "secondary"
)

// ActionListFilter narrows a principal's list. Applying it never mutates state.
type ActionListFilter struct {
	CreatedAfter    time.Time        `json:"created_after,omitzero"`
	CreatedBefore   time.Time        `json:"created_before,omitzero"`
	DocumentType    string           `json:"document_type,omitempty"`
	ActionRequested ActionType       `json:"action_requested,omitempty"`
	Delegation      DelegationFilter `json:"delegation,omitempty"`
	DelegatorID     string           `json:"delegator_id,omitempty"`
	// Expression is an optional boolean predicate evaluated by the action list service.
	Expression string `json:"expression,omitempty"`
}

// Match applies the structural predicates. Expression is not evaluated here.
func (f ActionListFilter) Match(item *ActionItem) bool {
	if !f.CreatedAfter.IsZero() && item.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !item.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.DocumentType != "" && item.DocumentType != f.DocumentType {
		return false
	}
	if f.ActionRequested != "" && item.Action != f.ActionRequested {
		return false
	}
	if f.DelegatorID != "" && item.DelegatorID != f.DelegatorID {
		return false
	}
	switch f.Delegation {
	case DelegationFilterNone:
		return item.Delegation == DelegationNone
	case DelegationFilterPrimary:
		return item.Delegation == DelegationPrimary
	case DelegationFilterSecondary:
		return item.Delegation == DelegationSecondary
	}
	return true
}
