/*
Package waypoint is a document-centric workflow routing engine.

A routing template describes the path a document takes: ordinary nodes that ask people to act,
splits that fan out into parallel branches, joins that wait for them, and processes that nest a
sub-graph. Routing a document materializes the template into a graph of node instances, resolves
the recipients of each active instance (roles, groups and delegations included) and publishes
action items into per-principal action lists. Acting on those items advances the graph.

# Concept

The engine separates the template (immutable, versioned) from the routing state (one graph per
document, saved with an optimistic version) and from the people (a Directory port). Every
mutation of a document runs inside a per-document critical section, optionally backed by a
distributed lock, so that concurrent actions never advance the same instance twice.

Storage is pluggable: the defaults keep everything in memory, pkg/adapters/redis shares graphs
and action items across replicas, and templates can be read from a loam repository of markdown
documents (pkg/adapters/loam) or built in Go with pkg/dsl.

# Usage

	ctx := context.Background()

	dir := memory.NewDirectory().AddRoleMembers("legal", "bob", "carol")
	eng := waypoint.New(waypoint.WithDirectory(dir))

	b := dsl.New("contract-review").ForDocumentType("contract")
	b.Add("legal").Role("legal").Go("archive").
		Add("archive").Principal("alice").Action(domain.ActionFYI)
	tpl, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}
	if _, err := eng.Publish(ctx, tpl); err != nil {
		log.Fatal(err)
	}

	if _, err := eng.Route(ctx, domain.Document{ID: "doc-1", Type: "contract"}); err != nil {
		log.Fatal(err)
	}

	items, _ := eng.ActionList().GetActionList(ctx, "bob", domain.ActionListFilter{})
	eng.Act(ctx, items[0].ID)
*/
package waypoint
