package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const objectColumns = `id, type, title, content, properties, metadata, archived,
	created_at, updated_at, created_date, updated_date`

var propertyKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewObject is the input for Objects.Create.
type NewObject struct {
	Type       models.ObjectType
	Title      string
	Content    string
	Properties models.Properties
	Metadata   map[string]any
}

// Patch is a partial update. Nil fields keep their stored value; a non-nil
// Properties replaces the whole property bag.
type Patch struct {
	Title      *string
	Content    *string
	Properties models.Properties
}

// ListFilter narrows object listings. A nil Archived means "not archived".
type ListFilter struct {
	Type     models.ObjectType
	Archived *bool
}

// CreateHook runs after an object row has been committed.
type CreateHook func(ctx context.Context, obj *models.Object) error

// Objects is the repository for the polymorphic objects table. It is the only
// writer of object rows.
type Objects struct {
	db    *DB
	hooks []CreateHook
}

// NewObjects creates an object repository on db.
func NewObjects(db *DB) *Objects {
	return &Objects{db: db}
}

// OnCreate registers a hook that runs after every successful Create. Hook
// failures are logged and never undo the creation. Register hooks during
// wiring, before the repository is shared between goroutines.
func (r *Objects) OnCreate(h CreateHook) {
	r.hooks = append(r.hooks, h)
}

// Create inserts a new object and then runs the registered create hooks.
func (r *Objects) Create(ctx context.Context, in NewObject) (*models.Object, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation("title must not be empty")
	}
	if !in.Type.Valid() {
		return nil, apperr.Validation("unknown object type %q", in.Type)
	}

	props := in.Properties
	if props == nil {
		props = models.Properties{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return nil, apperr.Validation("properties are not valid JSON: %v", err)
	}
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Internal("store: generate object id", err)
	}
	now := r.db.Now()

	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO objects (id, type, title, content, properties, metadata, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, id.String(), string(in.Type), in.Title, nullString(in.Content), string(propsJSON), string(metaJSON),
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, classify("store: insert object", err)
	}

	// Re-decode so the returned bag has the same value types as a later Get.
	var stored models.Properties
	if err := json.Unmarshal(propsJSON, &stored); err != nil {
		return nil, apperr.Internal("store: decode properties", err)
	}
	meta, err := unmarshalMetadata(string(metaJSON))
	if err != nil {
		return nil, apperr.Internal("store: decode metadata", err)
	}
	obj := &models.Object{
		ID:          id.String(),
		Type:        in.Type,
		Title:       in.Title,
		Content:     in.Content,
		Properties:  stored,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedDate: now.Format(models.DateLayout),
		UpdatedDate: now.Format(models.DateLayout),
	}

	for _, h := range r.hooks {
		if err := h(ctx, obj); err != nil {
			r.db.logger.Warn("store: create hook failed",
				slog.String("object_id", obj.ID),
				slog.String("type", string(obj.Type)),
				slog.String("error", err.Error()))
		}
	}
	return obj, nil
}

// Get retrieves an object by id.
func (r *Objects) Get(ctx context.Context, id string) (*models.Object, error) {
	return getObject(ctx, r.db.conn, id)
}

// GetMany loads the objects with the given ids, in the order of ids. Unknown
// ids are skipped.
func (r *Objects) GetMany(ctx context.Context, ids []string) ([]models.Object, error) {
	if len(ids) == 0 {
		return []models.Object{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	found, err := r.query(ctx, `SELECT `+objectColumns+` FROM objects WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Object, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	out := make([]models.Object, 0, len(found))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			out = append(out, o)
			delete(byID, id)
		}
	}
	return out, nil
}

// List returns a page of objects, newest first. hasMore is true when the page
// is full; it is a heuristic and does not guarantee another row exists.
func (r *Objects) List(ctx context.Context, f ListFilter, limit, offset int) ([]models.Object, bool, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	where, args := f.where()
	args = append(args, limit, offset)
	items, err := r.query(ctx, `SELECT `+objectColumns+` FROM objects WHERE `+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, false, err
	}
	return items, len(items) == limit, nil
}

// Count returns the exact number of objects matching f.
func (r *Objects) Count(ctx context.Context, f ListFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := r.db.conn.QueryRowContext(ctx, `SELECT count(*) FROM objects WHERE `+where, args...).Scan(&n); err != nil {
		return 0, classify("store: count objects", err)
	}
	return n, nil
}

// All returns every object matching f without paging, ordered by id.
func (r *Objects) All(ctx context.Context, f ListFilter) ([]models.Object, error) {
	where, args := f.where()
	return r.query(ctx, `SELECT `+objectColumns+` FROM objects WHERE `+where+` ORDER BY id`, args...)
}

// CreatedOn returns objects whose derived created date equals date
// (YYYY-MM-DD), oldest first. Archived objects are included only on request.
func (r *Objects) CreatedOn(ctx context.Context, date string, includeArchived bool) ([]models.Object, error) {
	q := `SELECT ` + objectColumns + ` FROM objects WHERE created_date = ?`
	if !includeArchived {
		q += ` AND archived = 0`
	}
	return r.query(ctx, q+` ORDER BY created_at, id`, date)
}

// FindByProperty returns the oldest object of type typ whose property key
// equals value. value must be a string, bool or number.
func (r *Objects) FindByProperty(ctx context.Context, typ models.ObjectType, key string, value any) (*models.Object, error) {
	if !propertyKeyRe.MatchString(key) {
		return nil, apperr.Validation("invalid property key %q", key)
	}
	switch value.(type) {
	case string, bool, int, int64, float64:
	default:
		return nil, apperr.Validation("property value for %q must be a scalar", key)
	}
	// The expression matches the daily-note unique index for key "date".
	q := fmt.Sprintf(`SELECT %s FROM objects WHERE type = ? AND json_extract(properties, '$.%s') = ?
		ORDER BY created_at, id LIMIT 1`, objectColumns, key)
	obj, err := scanObject(r.db.conn.QueryRowContext(ctx, q, string(typ), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(string(typ), fmt.Sprintf("%s=%v", key, value))
	}
	if err != nil {
		return nil, classify("store: find by property", err)
	}
	return obj, nil
}

// FindByTitles returns objects of type typ whose title is one of titles.
func (r *Objects) FindByTitles(ctx context.Context, typ models.ObjectType, titles []string) ([]models.Object, error) {
	if len(titles) == 0 {
		return []models.Object{}, nil
	}
	args := make([]any, 0, len(titles)+1)
	args = append(args, string(typ))
	for _, t := range titles {
		args = append(args, t)
	}
	return r.query(ctx, `SELECT `+objectColumns+` FROM objects WHERE type = ? AND title IN (`+
		placeholders(len(titles))+`) ORDER BY created_at, id`, args...)
}

// Update applies a partial update and refreshes updated_at.
func (r *Objects) Update(ctx context.Context, id string, p Patch) (*models.Object, error) {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, apperr.Validation("title must not be empty")
	}

	var out *models.Object
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getObject(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Title != nil {
			cur.Title = *p.Title
		}
		if p.Content != nil {
			cur.Content = *p.Content
		}
		if p.Properties != nil {
			cur.Properties = p.Properties
		}
		propsJSON, err := json.Marshal(cur.Properties)
		if err != nil {
			return apperr.Validation("properties are not valid JSON: %v", err)
		}

		now := r.db.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE objects SET title = ?, content = ?, properties = ?, updated_at = ?
			WHERE id = ?
		`, cur.Title, nullString(cur.Content), string(propsJSON), formatTime(now), id); err != nil {
			return classify("store: update object", err)
		}
		out, err = getObject(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Archive sets the soft-delete flag and refreshes updated_at.
func (r *Objects) Archive(ctx context.Context, id string, archived bool) (*models.Object, error) {
	res, err := r.db.conn.ExecContext(ctx, `UPDATE objects SET archived = ?, updated_at = ? WHERE id = ?`,
		archived, formatTime(r.db.Now()), id)
	if err != nil {
		return nil, classify("store: archive object", err)
	}
	if err := requireRow(res, "object", id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes the object and every relation touching it in one transaction.
func (r *Objects) Delete(ctx context.Context, id string) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE from_object_id = ? OR to_object_id = ?`, id, id); err != nil {
			return classify("store: delete object relations", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id)
		if err != nil {
			return classify("store: delete object", err)
		}
		return requireRow(res, "object", id)
	})
}

// Exists reports whether an object with id exists.
func (r *Objects) Exists(ctx context.Context, id string) (bool, error) {
	return objectExists(ctx, r.db.conn, id)
}

func (r *Objects) query(ctx context.Context, q string, args ...any) ([]models.Object, error) {
	rows, err := r.db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("store: query objects", err)
	}
	defer rows.Close()

	out := make([]models.Object, 0)
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, classify("store: scan object", err)
		}
		out = append(out, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store: iterate objects", err)
	}
	return out, nil
}

func (f ListFilter) where() (string, []any) {
	archived := false
	if f.Archived != nil {
		archived = *f.Archived
	}
	clauses := []string{"archived = ?"}
	args := []any{archived}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	return strings.Join(clauses, " AND "), args
}

func getObject(ctx context.Context, q querier, id string) (*models.Object, error) {
	obj, err := scanObject(q.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("object", id)
	}
	if err != nil {
		return nil, classify("store: get object", err)
	}
	return obj, nil
}

func objectExists(ctx context.Context, q querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("store: object exists", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(s rowScanner) (*models.Object, error) {
	var (
		obj                  models.Object
		typ                  string
		content              sql.NullString
		propsJSON, metaJSON  string
		createdAt, updatedAt string
	)
	if err := s.Scan(&obj.ID, &typ, &obj.Title, &content, &propsJSON, &metaJSON, &obj.Archived,
		&createdAt, &updatedAt, &obj.CreatedDate, &obj.UpdatedDate); err != nil {
		return nil, err
	}
	obj.Type = models.ObjectType(typ)
	obj.Content = content.String

	if err := json.Unmarshal([]byte(propsJSON), &obj.Properties); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	if obj.Properties == nil {
		obj.Properties = models.Properties{}
	}
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	obj.Metadata = meta

	if obj.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if obj.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &obj, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Validation("metadata is not valid JSON: %v", err)
	}
	return b, nil
}

func unmarshalMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" || s == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("store: rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
