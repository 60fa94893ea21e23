package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/elevend0g/vicw/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CreateState persists a new loop-prevention State node.
func (g *GraphStore) CreateState(ctx context.Context, s domain.State) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (s:State {id: $id})
	           SET s.type = $type, s.desc = $desc, s.status = $status,
	               s.created = $created, s.updated = $updated,
	               s.visit_count = $visitCount, s.last_visited = $lastVisited`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id": s.ID, "type": string(s.Type), "desc": s.Desc, "status": string(s.Status),
		"created": s.Created.Unix(), "updated": s.Updated.Unix(),
		"visitCount": s.VisitCount, "lastVisited": s.LastVisited.Unix(),
	})
	if err != nil {
		return fmt.Errorf("graph: create state %s: %w", s.ID, err)
	}
	return nil
}

// GetActiveStates returns up to limit active states of the given type,
// most recently updated first. Used by the context manager to build the
// per-type-limited state-injection message.
func (g *GraphStore) GetActiveStates(ctx context.Context, stateType domain.StateType, limit int) ([]domain.State, error) {
	return g.statesByStatus(ctx, stateType, domain.StateActive, limit)
}

// GetCompletedStates returns up to limit completed states of the given type,
// most recently updated first.
func (g *GraphStore) GetCompletedStates(ctx context.Context, stateType domain.StateType, limit int) ([]domain.State, error) {
	return g.statesByStatus(ctx, stateType, domain.StateCompleted, limit)
}

func (g *GraphStore) statesByStatus(ctx context.Context, stateType domain.StateType, status domain.StateStatus, limit int) ([]domain.State, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:State {type: $type, status: $status})
	           RETURN s ORDER BY s.updated DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"type": string(stateType), "status": string(status), "limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: states by status: %w", err)
	}

	var out []domain.State
	for result.Next(ctx) {
		rec := result.Record()
		node, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "s")
		if err != nil {
			continue
		}
		out = append(out, stateFromProps(node.Props))
	}
	return out, nil
}

// IncrementStateVisits bumps visit_count and last_visited for a batch of
// states in one round trip, backing the Boredom Tracker's per-turn update.
func (g *GraphStore) IncrementStateVisits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `UNWIND $ids AS id
	           MATCH (s:State {id: id})
	           SET s.visit_count = coalesce(s.visit_count, 0) + 1, s.last_visited = $now`
	_, err := sess.Run(ctx, cypher, map[string]any{"ids": ids, "now": time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("graph: increment state visits: %w", err)
	}
	return nil
}

// UpdateStateStatus transitions a state to a new status, resetting
// visit_count and last_visited to 0 — any status transition clears the boredom count since
// the state is no longer being repeatedly re-injected in its prior form.
func (g *GraphStore) UpdateStateStatus(ctx context.Context, id string, status domain.StateStatus) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:State {id: $id})
	           SET s.status = $status, s.visit_count = 0, s.last_visited = 0, s.updated = $now`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id": id, "status": string(status), "now": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("graph: update state status %s: %w", id, err)
	}
	return nil
}

func stateFromProps(props map[string]any) domain.State {
	s := domain.State{
		ID:     strProp(props, "id"),
		Type:   domain.StateType(strProp(props, "type")),
		Desc:   strProp(props, "desc"),
		Status: domain.StateStatus(strProp(props, "status")),
	}
	if v, ok := props["created"].(int64); ok {
		s.Created = time.Unix(v, 0)
	}
	if v, ok := props["updated"].(int64); ok {
		s.Updated = time.Unix(v, 0)
	}
	if v, ok := props["visit_count"].(int64); ok {
		s.VisitCount = int(v)
	}
	if v, ok := props["last_visited"].(int64); ok {
		s.LastVisited = time.Unix(v, 0)
	}
	return s
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
