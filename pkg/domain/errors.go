package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTemplate is returned when a template definition is malformed.
// Templates are rejected at publish time; the runtime only returns it when it meets
// a topology it cannot interpret.
var ErrInvalidTemplate = errors.New("invalid template")

// ErrIllegalState is returned when a caller violates a routing invariant,
// such as advancing an instance that is already complete.
var ErrIllegalState = errors.New("illegal state")

// ErrStaleState is returned by repositories when the version carried by a write
// no longer matches the stored version. Callers must reload and retry.
var ErrStaleState = errors.New("stale state")

// ErrResolutionGap is returned (or reported through hooks) when a request resolved to zero recipients.
var ErrResolutionGap = errors.New("resolution gap")

// ErrLookupTimeout is returned when an identity lookup exceeded its deadline.
var ErrLookupTimeout = errors.New("identity lookup timed out")

// ErrDocumentNotFound is returned when no graph exists for a document.
var ErrDocumentNotFound = errors.New("document not found")

// ErrTemplateNotFound is returned when a template name or document type is unknown.
var ErrTemplateNotFound = errors.New("template not found")

// ErrNodeInstanceNotFound is returned when an instance ID is unknown to a graph.
var ErrNodeInstanceNotFound = errors.New("node instance not found")

// ErrNodeStateNotFound is returned by strict node state lookups.
var ErrNodeStateNotFound = errors.New("node state not found")

// ErrActionItemNotFound is returned when an action item ID is unknown.
var ErrActionItemNotFound = errors.New("action item not found")

// ErrInvalidActionItem is returned when an action item is missing required fields.
var ErrInvalidActionItem = errors.New("invalid action item")

// ErrIndexOutOfRange is returned by positional edge access outside the edge list.
var ErrIndexOutOfRange = errors.New("index out of range")

// ErrWithdrawn is returned when a routing operation targets a withdrawn document.
var ErrWithdrawn = fmt.Errorf("%w: document withdrawn", ErrIllegalState)

// TemplateProblem describes a single defect found in a template.
type TemplateProblem struct {
	Node   string `json:"node,omitempty"`
	Reason string `json:"reason"`
}

func (p TemplateProblem) String() string {
	if p.Node == "" {
		return p.Reason
	}
	return fmt.Sprintf("node '%s': %s", p.Node, p.Reason)
}

// TemplateError aggregates every problem found while validating a template.
type TemplateError struct {
	Template string
	Problems []TemplateProblem
}

func (e *TemplateError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("invalid template '%s': %s", e.Template, strings.Join(parts, "; "))
}

func (e *TemplateError) Unwrap() error {
	return ErrInvalidTemplate
}

// GapReason classifies why a recipient could not be resolved.
type GapReason string

const (
	GapEmpty   GapReason = "empty"
	GapTimeout GapReason = "timeout"
	GapLookup  GapReason = "lookup_failed"
)

// GapError describes a recipient that resolved to nobody.
// Gaps never halt routing; they are logged and surfaced through hooks.
type GapError struct {
	DocumentID string
	InstanceID string
	Node       string
	Recipient  Recipient
	Reason     GapReason
	// Retry is true when the gap is transient and a later re-resolution may succeed.
	Retry bool
	Err   error
}

func (e *GapError) Error() string {
	msg := fmt.Sprintf("no recipients for %s at node '%s' (%s)", e.Recipient, e.Node, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GapError) Unwrap() []error {
	errs := []error{ErrResolutionGap}
	if e.Reason == GapTimeout {
		errs = append(errs, ErrLookupTimeout)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
