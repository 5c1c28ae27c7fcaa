package mcpserver

import (
	"strings"

	"github.com/starford/ansuz/internal/models"
)

const contractBody = `## Objects

Every entity is an object with a type, a non-empty title, optional Markdown
content and a JSON properties bag. Properties are free-form; common keys:

- task: status (todo, doing, done), priority (low, medium, high), due (YYYY-MM-DD)
- project: status, owner
- person: email, role
- daily-note: date (YYYY-MM-DD, set automatically)

New objects are linked to the daily note of their creation date (UTC) with a
created_on relation. Daily notes and the created_on edges are managed by the
server; do not create them yourself.

## Relations

Relations are directed: from_id -> to_id. Use blocks for "A blocks B",
parent_of for hierarchy, tagged_with for object -> tag and member_of for
object -> collection. Prefer tag_object over creating tagged_with edges
by hand.

## Query specification

Queries are JSON objects. Every field is optional; set fields are AND-combined.

` + "```" + `json
{
  "objectType": "task",
  "archived": false,
  "properties": {"status": "todo", "priority": "high"},
  "tags": ["urgent", "work"],
  "dateRange": {"start": "2025-01-01", "end": "2025-01-31"},
  "sort": {"field": "updatedAt", "order": "desc"},
  "limit": 20
}
` + "```" + `

- properties match by equality on scalar values.
- tags match objects carrying any of the listed tag titles.
- dateRange filters on createdAt and both ends are inclusive.
- sort.field is createdAt, updatedAt, title, type or any property key.
  The default order is updatedAt descending.
`

// ObjectModelContract describes the object model that LLM consumers should
// follow when creating objects, relations and queries.
func ObjectModelContract() string {
	var b strings.Builder
	b.WriteString("# Ansuz Object Model\n\n## Object types\n\n")
	for _, t := range models.ObjectTypes() {
		b.WriteString("- " + string(t) + "\n")
	}
	b.WriteString("\n## Relation types\n\n")
	for _, t := range models.RelationTypes() {
		b.WriteString("- " + string(t) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(contractBody)
	return b.String()
}
