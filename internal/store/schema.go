package store

import (
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// created_date / updated_date are generated from the fixed-width UTC
// timestamps, so they can never be written directly.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS objects (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL CHECK (type IN (%s)),
	title        TEXT NOT NULL CHECK (length(trim(title)) > 0),
	content      TEXT,
	properties   TEXT NOT NULL DEFAULT '{}' CHECK (json_valid(properties)),
	metadata     TEXT NOT NULL DEFAULT '{}' CHECK (json_valid(metadata)),
	archived     INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	created_date TEXT GENERATED ALWAYS AS (substr(created_at, 1, 10)) VIRTUAL,
	updated_date TEXT GENERATED ALWAYS AS (substr(updated_at, 1, 10)) VIRTUAL
);

CREATE INDEX IF NOT EXISTS idx_objects_type_archived ON objects(type, archived);
CREATE INDEX IF NOT EXISTS idx_objects_created_date ON objects(created_date);
CREATE INDEX IF NOT EXISTS idx_objects_updated_date ON objects(updated_date);
CREATE INDEX IF NOT EXISTS idx_objects_title ON objects(type, title);

-- At most one daily note per calendar date.
CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_daily_note_date
	ON objects(json_extract(properties, '$.%s'))
	WHERE type = '%s';

CREATE TABLE IF NOT EXISTS relations (
	id             TEXT PRIMARY KEY,
	from_object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	to_object_id   TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	relation_type  TEXT NOT NULL CHECK (relation_type IN (%s)),
	metadata       TEXT NOT NULL DEFAULT '{}' CHECK (json_valid(metadata)),
	created_at     TEXT NOT NULL,
	CHECK (from_object_id <> to_object_id)
);

CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_object_id, relation_type);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_object_id, relation_type);
CREATE INDEX IF NOT EXISTS idx_relations_type ON relations(relation_type);
`

// schemaSQL renders the schema with CHECK constraints taken from the enums in
// package models.
func schemaSQL() string {
	objectTypes := make([]string, 0, len(models.ObjectTypes()))
	for _, t := range models.ObjectTypes() {
		objectTypes = append(objectTypes, string(t))
	}
	relationTypes := make([]string, 0, len(models.RelationTypes()))
	for _, t := range models.RelationTypes() {
		relationTypes = append(relationTypes, string(t))
	}
	return fmt.Sprintf(schemaTemplate,
		sqlList(objectTypes),
		models.DailyNoteDateKey,
		models.TypeDailyNote,
		sqlList(relationTypes),
	)
}

func sqlList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}
