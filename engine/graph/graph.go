package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CypherResult is the minimal result-set interface used by GraphStore. It is
// satisfied by neo4j.ResultWithContext and by test doubles.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherRunner is the minimal interface needed to run a query, satisfied by
// both a session and a managed transaction.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a CypherRunner that can also run a managed write
// transaction and must be closed.
type CypherSession interface {
	CypherRunner
	Close(ctx context.Context) error
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
}

// sessionOpener opens a new CypherSession. Abstracting session creation
// behind this interface is what lets GraphStore be exercised against an
// in-memory fake instead of a live Neo4j instance.
type sessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// neo4jOpener opens real sessions against a neo4j.DriverWithContext.
type neo4jOpener struct {
	driver neo4j.DriverWithContext
}

func (o *neo4jOpener) OpenSession(ctx context.Context) CypherSession {
	return &neo4jSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// neo4jSession adapts neo4j.SessionWithContext to CypherSession.
type neo4jSession struct {
	sess neo4j.SessionWithContext
}

func (s *neo4jSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *neo4jSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

func (s *neo4jSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(tx)
	})
}

// GraphStore provides Metaphysical Schema operations over Neo4j.
type GraphStore struct {
	driver neo4j.DriverWithContext
	opener sessionOpener
}

// New creates a GraphStore backed by a live Neo4j driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{driver: driver, opener: &neo4jOpener{driver: driver}}
}

// NewWithOpener creates a GraphStore backed by a custom sessionOpener, used
// in tests to substitute an in-memory fake for the Neo4j driver.
func NewWithOpener(opener sessionOpener) *GraphStore {
	return &GraphStore{opener: opener}
}

// --- Node upserts ---

// UpsertContext creates or updates a Context node.
func (g *GraphStore) UpsertContext(ctx context.Context, c Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Context {uid: $uid})
	           SET n.name = $name, n.domain = $domain, n.description = $description, n.created_at = $createdAt`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"uid": c.UID, "name": c.Name, "domain": c.Domain,
		"description": c.Description, "createdAt": c.CreatedAt.Unix(),
	})
	return err
}

// UpsertEntity creates or updates an Entity node.
func (g *GraphStore) UpsertEntity(ctx context.Context, e Entity) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Entity {uid: $uid})
	           SET n.name = $name, n.subtype = $subtype, n.domain = $domain,
	               n.qdrant_id = $qdrantID, n.description = $description, n.created_at = $createdAt`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"uid": e.UID, "name": e.Name, "subtype": e.Subtype, "domain": e.Domain,
		"qdrantID": e.QdrantID, "description": e.Description, "createdAt": e.CreatedAt.Unix(),
	})
	return err
}

// UpsertEvent creates or updates an Event node.
func (g *GraphStore) UpsertEvent(ctx context.Context, e Event) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Event {uid: $uid})
	           SET n.name = $name, n.subtype = $subtype, n.domain = $domain,
	               n.timestamp = $timestamp, n.flow_id = $flowID, n.flow_step = $flowStep,
	               n.qdrant_id = $qdrantID, n.description = $description, n.created_at = $createdAt`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"uid": e.UID, "name": e.Name, "subtype": e.Subtype, "domain": e.Domain,
		"timestamp": e.Timestamp.Unix(), "flowID": e.FlowID, "flowStep": e.FlowStep,
		"qdrantID": e.QdrantID, "description": e.Description, "createdAt": e.CreatedAt.Unix(),
	})
	return err
}

// UpsertConcept creates or updates a Concept node.
func (g *GraphStore) UpsertConcept(ctx context.Context, c Concept) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Concept {uid: $uid})
	           SET n.name = $name, n.subtype = $subtype, n.domain = $domain,
	               n.qdrant_id = $qdrantID, n.description = $description, n.created_at = $createdAt`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"uid": c.UID, "name": c.Name, "subtype": c.Subtype, "domain": c.Domain,
		"qdrantID": c.QdrantID, "description": c.Description, "createdAt": c.CreatedAt.Unix(),
	})
	return err
}

// UpsertChunk creates or updates a Chunk node.
func (g *GraphStore) UpsertChunk(ctx context.Context, c Chunk) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Chunk {uid: $uid})
	           SET n.content = $content, n.source = $source, n.domain = $domain,
	               n.token_count = $tokenCount, n.qdrant_id = $qdrantID, n.created_at = $createdAt`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"uid": c.UID, "content": c.Content, "source": c.Source, "domain": c.Domain,
		"tokenCount": c.TokenCount, "qdrantID": c.QdrantID, "createdAt": c.CreatedAt.Unix(),
	})
	return err
}

// UpsertMacroEvent creates or updates a MacroEvent node, produced by the
// Sleep Cycle when consolidating aged Events.
func (g *GraphStore) UpsertMacroEvent(ctx context.Context, m MacroEvent) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:MacroEvent {uid: $uid})
	           SET n.name = $name, n.domain = $domain, n.summary = $summary,
	               n.flow_id = $flowID, n.created_at = $createdAt`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"uid": m.UID, "name": m.Name, "domain": m.Domain, "summary": m.Summary,
		"flowID": m.FlowID, "createdAt": m.CreatedAt.Unix(),
	})
	return err
}

// CreateRelationship links two nodes with an allow-listed edge type. Both
// the node labels and the edge type are validated against fixed sets before
// being interpolated into the Cypher string, since Neo4j has no way to
// parameterize labels or relationship types.
func (g *GraphStore) CreateRelationship(ctx context.Context, r Relationship) error {
	if !validLabels[r.StartType] {
		return fmt.Errorf("graph: invalid start label %q", r.StartType)
	}
	if !validLabels[r.EndType] {
		return fmt.Errorf("graph: invalid end label %q", r.EndType)
	}
	relType := sanitizeRelType(r.Type)

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:%s {uid: $startUID}), (b:%s {uid: $endUID})
		 MERGE (a)-[rel:%s]->(b)
		 SET rel += $props`,
		r.StartType, r.EndType, relType,
	)
	props := r.Props
	if props == nil {
		props = map[string]any{}
	}
	_, err := sess.Run(ctx, cypher, map[string]any{
		"startUID": r.StartUID, "endUID": r.EndUID, "props": props,
	})
	return err
}

// ConsolidateEvents links a set of aged Events to a MacroEvent via
// CONSOLIDATED_INTO, additive and non-destructive: the Event nodes remain.
func (g *GraphStore) ConsolidateEvents(ctx context.Context, macroUID string, eventUIDs []string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `UNWIND $eventUIDs AS eventUID
	           MATCH (e:Event {uid: eventUID}), (m:MacroEvent {uid: $macroUID})
	           MERGE (e)-[:CONSOLIDATED_INTO]->(m)`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"eventUIDs": eventUIDs, "macroUID": macroUID,
	})
	return err
}

// ExpandMetaphysicalContext expands a set of seed node UIDs with their
// direct causal/initiating/sequential neighbours, for use by the
// retrieval engine's graph-expansion phase.
func (g *GraphStore) ExpandMetaphysicalContext(ctx context.Context, uids []string) (ExpandedContext, error) {
	var out ExpandedContext
	if len(uids) == 0 {
		return out, nil
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (start) WHERE start.uid IN $uids
	           OPTIONAL MATCH (start)-[:CAUSED]->(c)
	           OPTIONAL MATCH (start)<-[:INITIATED]-(i)
	           OPTIONAL MATCH (start)-[:NEXT]->(n)
	           RETURN start,
	                  collect(DISTINCT {name: c.name, subtype: c.subtype}) AS caused,
	                  collect(DISTINCT {name: i.name, subtype: i.subtype}) AS initiated,
	                  collect(DISTINCT {name: n.name, subtype: n.subtype}) AS nextSteps`

	result, err := sess.Run(ctx, cypher, map[string]any{"uids": uids})
	if err != nil {
		return out, fmt.Errorf("graph: expand context: %w", err)
	}

	for result.Next(ctx) {
		rec := result.Record()
		if node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "start"); err == nil {
			out.Seeds = append(out.Seeds, node.Props)
		}
		out.Caused = append(out.Caused, relatedNodesFrom(rec, "caused")...)
		out.InitiatedBy = append(out.InitiatedBy, relatedNodesFrom(rec, "initiated")...)
		out.Next = append(out.Next, relatedNodesFrom(rec, "nextSteps")...)
	}
	return out, nil
}

func relatedNodesFrom(rec *neo4j.Record, key string) []RelatedNode {
	raw, ok := rec.Get(key)
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []RelatedNode
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		subtype, _ := m["subtype"].(string)
		out = append(out, RelatedNode{Name: name, Subtype: subtype})
	}
	return out
}

// NodeCounts returns the number of nodes per Metaphysical Schema label.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	counts := make(map[string]int64, len(validLabels))
	for label := range validLabels {
		cypher := fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", label)
		result, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			if v, ok := result.Record().Get("c"); ok {
				counts[label] = toInt64(v)
			}
		}
	}
	return counts, nil
}

// RelationshipCounts returns the number of relationships per edge type.
func (g *GraphStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	edgeTypes := []string{EdgeBelongsTo, EdgeMentions, EdgeInitiated, EdgeCaused, EdgeNext, EdgeConsolidatedInto}
	counts := make(map[string]int64, len(edgeTypes))
	for _, t := range edgeTypes {
		cypher := fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r) AS c", t)
		result, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			if v, ok := result.Record().Get("c"); ok {
				counts[t] = toInt64(v)
			}
		}
	}
	return counts, nil
}

// GetOldEvents returns up to limit Event nodes older than the given age,
// not yet consolidated into a MacroEvent, for the Sleep Cycle to batch and
// summarize.
func (g *GraphStore) GetOldEvents(ctx context.Context, olderThan time.Duration, limit int) ([]Event, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cutoff := time.Now().Add(-olderThan).Unix()
	cypher := `MATCH (e:Event) WHERE e.created_at < $cutoff
	           AND NOT (e)-[:CONSOLIDATED_INTO]->(:MacroEvent)
	           RETURN e ORDER BY e.created_at ASC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"cutoff": cutoff, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: get old events: %w", err)
	}

	var out []Event
	for result.Next(ctx) {
		rec := result.Record()
		node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "e")
		if err != nil {
			continue
		}
		out = append(out, eventFromProps(node.Props))
	}
	return out, nil
}

func eventFromProps(props map[string]any) Event {
	e := Event{
		UID:         strProp(props, "uid"),
		Name:        strProp(props, "name"),
		Subtype:     strProp(props, "subtype"),
		Domain:      strProp(props, "domain"),
		FlowID:      strProp(props, "flow_id"),
		QdrantID:    strProp(props, "qdrant_id"),
		Description: strProp(props, "description"),
	}
	if v, ok := props["timestamp"].(int64); ok {
		e.Timestamp = time.Unix(v, 0)
	}
	if v, ok := props["flow_step"].(int64); ok {
		e.FlowStep = int(v)
	}
	if v, ok := props["created_at"].(int64); ok {
		e.CreatedAt = time.Unix(v, 0)
	}
	return e
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// sanitizeRelType ensures the relationship type is a valid Cypher identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "MENTIONS"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
