/*
Package domain contains the core domain models of the Waypoint routing engine.

It defines routing templates, the per-document graph of node instances, and the
action items published to principals. The package is kept pure and free of I/O and
persistence, following Hexagonal Architecture principles.

# Key Entities

  - Template / NodeTemplate: An immutable routing definition (simple, split, join and process nodes).
  - Graph: The arena of NodeInstances for one document, with a single edge list backing next/previous navigation.
  - Branch / Barrier: Concurrency lanes created by splits and the join rendezvous that waits on them.
  - ActionRequest / ActionItem: What a principal must do, and the persisted record of it (active or outboxed).
  - ActionListFilter: Read-only predicates applied to a principal's list.
*/
package domain
