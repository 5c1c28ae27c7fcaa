package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

const relationColumns = `id, from_object_id, to_object_id, relation_type, metadata, created_at`

// NewRelation is the input for Relations.Create.
type NewRelation struct {
	FromID   string
	ToID     string
	Type     models.RelationType
	Metadata map[string]any
}

// Criteria selects relations for bulk deletion. At least one field must be set;
// set fields are AND-combined.
type Criteria struct {
	ID     string
	FromID string
	ToID   string
	Type   models.RelationType
}

// Relations is the typed, directed edge graph between objects.
type Relations struct {
	db *DB
}

// NewRelations creates a relation graph on db.
func NewRelations(db *DB) *Relations {
	return &Relations{db: db}
}

// Create inserts an edge after checking that both endpoints exist. It does
// not deduplicate; callers that need one edge per (from, to, type) check
// Exists first.
func (g *Relations) Create(ctx context.Context, in NewRelation) (*models.Relation, error) {
	if in.FromID == "" || in.ToID == "" {
		return nil, apperr.Validation("both endpoints are required")
	}
	if in.FromID == in.ToID {
		return nil, apperr.Validation("an object cannot relate to itself")
	}
	if !in.Type.Valid() {
		return nil, apperr.Validation("unknown relation type %q", in.Type)
	}
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Internal("store: generate relation id", err)
	}
	now := g.db.Now()

	err = g.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, endpoint := range []string{in.FromID, in.ToID} {
			ok, err := objectExists(ctx, tx, endpoint)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.NotFound("object", endpoint)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relations (id, from_object_id, to_object_id, relation_type, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id.String(), in.FromID, in.ToID, string(in.Type), string(metaJSON), formatTime(now))
		if err != nil {
			return classify("store: insert relation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta, err := unmarshalMetadata(string(metaJSON))
	if err != nil {
		return nil, apperr.Internal("store: decode metadata", err)
	}
	return &models.Relation{
		ID:           id.String(),
		FromObjectID: in.FromID,
		ToObjectID:   in.ToID,
		RelationType: in.Type,
		Metadata:     meta,
		CreatedAt:    now,
	}, nil
}

// Get retrieves a relation by id.
func (g *Relations) Get(ctx context.Context, id string) (*models.Relation, error) {
	rel, err := scanRelation(g.db.conn.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM relations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("relation", id)
	}
	if err != nil {
		return nil, classify("store: get relation", err)
	}
	return rel, nil
}

// Find returns the edges touching objectID in the given direction, oldest
// first. An empty relType matches every type.
func (g *Relations) Find(ctx context.Context, objectID string, dir models.Direction, relType models.RelationType) ([]models.Relation, error) {
	if !dir.Valid() {
		return nil, apperr.Validation("unknown direction %q", dir)
	}
	if relType != "" && !relType.Valid() {
		return nil, apperr.Validation("unknown relation type %q", relType)
	}

	var (
		clauses []string
		args    []any
	)
	switch dir {
	case models.DirectionFrom:
		clauses = append(clauses, "from_object_id = ?")
		args = append(args, objectID)
	case models.DirectionTo:
		clauses = append(clauses, "to_object_id = ?")
		args = append(args, objectID)
	case models.DirectionBoth:
		clauses = append(clauses, "(from_object_id = ? OR to_object_id = ?)")
		args = append(args, objectID, objectID)
	}
	if relType != "" {
		clauses = append(clauses, "relation_type = ?")
		args = append(args, string(relType))
	}
	return g.query(ctx, `SELECT `+relationColumns+` FROM relations WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
}

// RelatedObjectIDs projects Find onto the opposite endpoint. Each id appears
// once, in edge order.
func (g *Relations) RelatedObjectIDs(ctx context.Context, objectID string, dir models.Direction, relType models.RelationType) ([]string, error) {
	rels, err := g.Find(ctx, objectID, dir, relType)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rels))
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		other := r.Other(objectID)
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out, nil
}

// Exists reports whether an edge from fromID to toID of relType exists.
// Direction matters: a->b does not imply b->a.
func (g *Relations) Exists(ctx context.Context, fromID, toID string, relType models.RelationType) (bool, error) {
	var one int
	err := g.db.conn.QueryRowContext(ctx, `
		SELECT 1 FROM relations
		WHERE from_object_id = ? AND to_object_id = ? AND relation_type = ?
		LIMIT 1
	`, fromID, toID, string(relType)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("store: relation exists", err)
	}
	return true, nil
}

// Delete removes every relation matching c and returns how many were removed.
func (g *Relations) Delete(ctx context.Context, c Criteria) (int64, error) {
	var (
		clauses []string
		args    []any
	)
	if c.ID != "" {
		clauses = append(clauses, "id = ?")
		args = append(args, c.ID)
	}
	if c.FromID != "" {
		clauses = append(clauses, "from_object_id = ?")
		args = append(args, c.FromID)
	}
	if c.ToID != "" {
		clauses = append(clauses, "to_object_id = ?")
		args = append(args, c.ToID)
	}
	if c.Type != "" {
		if !c.Type.Valid() {
			return 0, apperr.Validation("unknown relation type %q", c.Type)
		}
		clauses = append(clauses, "relation_type = ?")
		args = append(args, string(c.Type))
	}
	if len(clauses) == 0 {
		return 0, apperr.Validation("at least one delete criterion is required")
	}

	res, err := g.db.conn.ExecContext(ctx, `DELETE FROM relations WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return 0, classify("store: delete relations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("store: rows affected", err)
	}
	return n, nil
}

// List returns every relation, optionally narrowed to one type.
func (g *Relations) List(ctx context.Context, relType models.RelationType) ([]models.Relation, error) {
	if relType == "" {
		return g.query(ctx, `SELECT `+relationColumns+` FROM relations ORDER BY created_at, id`)
	}
	if !relType.Valid() {
		return nil, apperr.Validation("unknown relation type %q", relType)
	}
	return g.query(ctx, `SELECT `+relationColumns+` FROM relations WHERE relation_type = ? ORDER BY created_at, id`,
		string(relType))
}

func (g *Relations) query(ctx context.Context, q string, args ...any) ([]models.Relation, error) {
	rows, err := g.db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("store: query relations", err)
	}
	defer rows.Close()

	out := make([]models.Relation, 0)
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, classify("store: scan relation", err)
		}
		out = append(out, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store: iterate relations", err)
	}
	return out, nil
}

func scanRelation(s rowScanner) (*models.Relation, error) {
	var (
		rel       models.Relation
		typ       string
		metaJSON  string
		createdAt string
	)
	if err := s.Scan(&rel.ID, &rel.FromObjectID, &rel.ToObjectID, &typ, &metaJSON, &createdAt); err != nil {
		return nil, err
	}
	rel.RelationType = models.RelationType(typ)
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	rel.Metadata = meta
	if rel.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rel, nil
}
