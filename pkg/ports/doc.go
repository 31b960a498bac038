/*
Package ports defines the driven ports (interfaces) of the Waypoint engine.

These interfaces decouple routing from external implementations, allowing the engine
to work with various storage backends, template sources, and identity directories.

# Key Interfaces

  - TemplateStore / TemplateSource: Publish and look up routing templates.
  - GraphRepository: Versioned persistence of per-document node instance graphs.
  - ActionItemRepository: Keyed, versioned persistence of action items and the outbox.
  - Directory: Role and group expansion plus delegation lookups.
  - DistributedLocker: Cross-replica serialization of document mutations.

The Run*Contract helpers are shared test suites that every adapter runs.
*/
package ports
