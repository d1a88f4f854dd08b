package graph

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Statement is one parameterized Cypher statement
type Statement struct {
	Cypher string
	Params map[string]any
}

// every entity node carries :Entity plus one label for its kind
var kindLabels = map[models.EntityKind]string{
	models.EntityKindPerson: "Person",
	models.EntityKindAnimal: "Animal",
	models.EntityKindPlace:  "Place",
}

func label(kind models.EntityKind) string {
	if l, ok := kindLabels[kind]; ok {
		return l
	}
	return "Entity"
}

// UpsertEntity writes the node for an entity view. Attributes are stored as attr_<name>
// and identifiers as "type:value" strings.
func UpsertEntity(view *models.EntityView) Statement {
	e := view.Entity
	props := map[string]any{
		"kind":         string(e.Kind),
		"display_name": e.DisplayName,
		"canonical":    e.Canonical,
		"updated_at":   e.UpdatedAt.UTC(),
	}
	for k, v := range e.Attributes {
		props["attr_"+k] = v
	}
	idents := make([]string, 0, len(view.Identifiers))
	for _, ident := range view.Identifiers {
		idents = append(idents, string(ident.Type)+":"+ident.NormalizedValue)
	}
	props["identifiers"] = idents

	return Statement{
		Cypher: `MERGE (e:Entity {id: $id}) SET e:` + label(e.Kind) + `, e += $props`,
		Params: map[string]any{"id": e.ID, "props": props},
	}
}

// UpsertRelationship writes a RELATED edge keyed by the relationship id
func UpsertRelationship(rel models.Relationship) Statement {
	return Statement{
		Cypher: `MERGE (s:Entity {id: $subject_id})
MERGE (o:Entity {id: $object_id})
MERGE (s)-[r:RELATED {id: $id}]->(o)
SET r.role = $role, r.confidence = $confidence, r.source_system = $source_system`,
		Params: map[string]any{
			"id":            rel.ID,
			"subject_id":    rel.SubjectID,
			"object_id":     rel.ObjectID,
			"role":          rel.Role,
			"confidence":    rel.Confidence,
			"source_system": rel.SourceSystem,
		},
	}
}

// MergeStatements records a committed merge: the duplicate gets a MERGED_INTO edge, its
// RELATED edges are dropped and the moved relationships are written again against the
// canonical entity
func MergeStatements(res *models.MergeResult) []Statement {
	mergedAt := res.MergedAt
	if mergedAt.IsZero() {
		mergedAt = time.Now().UTC()
	}

	stmts := []Statement{
		{
			Cypher: `MERGE (d:Entity {id: $duplicate_id})
MERGE (c:Entity {id: $canonical_id})
SET d.canonical = false, d.merged_into = $canonical_id
MERGE (d)-[m:MERGED_INTO]->(c)
SET m.merged_at = $merged_at, m.conflicts = $conflicts`,
			Params: map[string]any{
				"duplicate_id": res.DuplicateID,
				"canonical_id": res.CanonicalID,
				"merged_at":    mergedAt,
				"conflicts":    len(res.Conflicts),
			},
		},
		{
			Cypher: `MATCH (d:Entity {id: $duplicate_id})-[r:RELATED]-() DELETE r`,
			Params: map[string]any{"duplicate_id": res.DuplicateID},
		},
	}
	for _, rel := range res.RelationshipsMoved {
		stmts = append(stmts, UpsertRelationship(rel))
	}
	return stmts
}
