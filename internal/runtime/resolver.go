package runtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// DefaultLookupTimeout bounds every identity lookup made during resolution.
const DefaultLookupTimeout = 2 * time.Second

// Resolution is the outcome of resolving one active instance.
type Resolution struct {
	Requests []domain.ActionRequest
	Gaps     []*domain.GapError
}

// Resolver derives action requests for active node instances.
// Identity lookups go through an injected Directory; nothing is looked up globally.
type Resolver struct {
	directory ports.Directory
	timeout   time.Duration
	logger    *slog.Logger
}

// ResolverOption configures the Resolver.
type ResolverOption func(*Resolver)

// WithLookupTimeout bounds each directory call.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithResolverLogger configures the logger used to report gaps.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over directory.
func NewResolver(directory ports.Directory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		directory: directory,
		timeout:   DefaultLookupTimeout,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands the recipients declared on node into concrete requests for inst.
//
// Roles and groups are expanded now, not at publish time. A principal with a primary
// delegate for the document type is replaced by the delegate; secondary delegates receive
// a parallel request. Requests are unique per (document, instance, principal, action).
// Recipients that resolve to nobody, or whose lookups fail or time out, become gaps and never
// fail the resolution.
func (r *Resolver) Resolve(ctx context.Context, doc domain.Document, inst *domain.NodeInstance, node *domain.NodeTemplate) *Resolution {
	res := &Resolution{}
	seen := make(map[domain.ItemKey]bool)
	action := node.ActionOrDefault()

	add := func(req domain.ActionRequest) {
		if seen[req.Key()] {
			return
		}
		seen[req.Key()] = true
		res.Requests = append(res.Requests, req)
	}

	gap := func(recipient domain.Recipient, err error) {
		g := &domain.GapError{
			DocumentID: doc.ID,
			InstanceID: inst.ID,
			Node:       inst.Node,
			Recipient:  recipient,
			Reason:     domain.GapEmpty,
		}
		if err != nil {
			g.Err = err
			g.Retry = true
			g.Reason = domain.GapLookup
			if errors.Is(err, context.DeadlineExceeded) {
				g.Reason = domain.GapTimeout
			}
		}
		res.Gaps = append(res.Gaps, g)
		r.logger.Warn("Recipient resolved to nobody",
			"document_id", doc.ID,
			"instance_id", inst.ID,
			"node", inst.Node,
			"recipient", recipient.String(),
			"reason", string(g.Reason),
			"retry", g.Retry,
			"err", err,
		)
	}

	for _, recipient := range node.Recipients {
		principals, err := r.members(ctx, recipient)
		if err != nil || len(principals) == 0 {
			gap(recipient, err)
			continue
		}

		for _, principal := range principals {
			base := domain.ActionRequest{
				DocumentID: doc.ID,
				InstanceID: inst.ID,
				Node:       inst.Node,
				Action:     action,
				Source:     recipient,
			}

			delegate, err := r.primaryDelegate(ctx, principal, doc.Type)
			if err != nil {
				gap(domain.Principal(principal), err)
				continue
			}

			req := base
			req.PrincipalID = principal
			if delegate != "" && delegate != principal {
				req.PrincipalID = delegate
				req.Delegation = domain.DelegationPrimary
				req.DelegatorID = principal
			}
			add(req)

			secondaries, err := r.secondaryDelegates(ctx, principal, doc.Type)
			if err != nil {
				r.logger.Warn("Secondary delegation lookup failed",
					"document_id", doc.ID,
					"principal_id", principal,
					"err", err,
				)
				continue
			}
			for _, s := range secondaries {
				if s == principal || s == req.PrincipalID {
					continue
				}
				sec := base
				sec.PrincipalID = s
				sec.Delegation = domain.DelegationSecondary
				sec.DelegatorID = principal
				add(sec)
			}
		}
	}
	return res
}

func (r *Resolver) members(ctx context.Context, recipient domain.Recipient) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.directory.ResolveRecipients(ctx, recipient)
}

func (r *Resolver) primaryDelegate(ctx context.Context, principal, documentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.directory.PrimaryDelegate(ctx, principal, documentType)
}

func (r *Resolver) secondaryDelegates(ctx context.Context, principal, documentType string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.directory.SecondaryDelegates(ctx, principal, documentType)
}
