package graph

import "context"

// EnsureSchema creates the uniqueness constraints backing every Metaphysical
// Schema node label plus the State node, run once at startup. MERGE-by-uid
// upserts rely on these indexes to stay fast as the graph grows.
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	stmts := []string{
		"CREATE CONSTRAINT context_uid IF NOT EXISTS FOR (n:Context) REQUIRE n.uid IS UNIQUE",
		"CREATE CONSTRAINT entity_uid IF NOT EXISTS FOR (n:Entity) REQUIRE n.uid IS UNIQUE",
		"CREATE CONSTRAINT event_uid IF NOT EXISTS FOR (n:Event) REQUIRE n.uid IS UNIQUE",
		"CREATE CONSTRAINT concept_uid IF NOT EXISTS FOR (n:Concept) REQUIRE n.uid IS UNIQUE",
		"CREATE CONSTRAINT chunk_uid IF NOT EXISTS FOR (n:Chunk) REQUIRE n.uid IS UNIQUE",
		"CREATE CONSTRAINT macroevent_uid IF NOT EXISTS FOR (n:MacroEvent) REQUIRE n.uid IS UNIQUE",
		"CREATE CONSTRAINT state_id IF NOT EXISTS FOR (n:State) REQUIRE n.id IS UNIQUE",
	}
	for _, stmt := range stmts {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}
