// Package actionlist aggregates action items into per-principal action lists and outboxes.
//
// The Service is the only writer the engine uses for items. It owns publication
// (idempotent per item key), retirement into the outbox, moot marking for withdrawn
// documents, and a per-principal materialized view with a time-to-live.
//
// Filters combine structural predicates (dates, document type, action, delegation) with an
// optional expression evaluated by github.com/expr-lang/expr, for example:
//
//	document_type == "invoice" && now - created_at > duration("72h")
package actionlist
