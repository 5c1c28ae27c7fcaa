package models

import (
	"fmt"
	"time"
)

// RelationType is the closed set of edge kinds.
type RelationType string

const (
	RelParentOf   RelationType = "parent_of"
	RelBlocks     RelationType = "blocks"
	RelMemberOf   RelationType = "member_of"
	RelTaggedWith RelationType = "tagged_with"
	RelCreatedOn  RelationType = "created_on"
	RelReferences RelationType = "references"
	RelAssignedTo RelationType = "assigned_to"
	RelRelatedTo  RelationType = "related_to"
)

var relationTypes = []RelationType{
	RelParentOf,
	RelBlocks,
	RelMemberOf,
	RelTaggedWith,
	RelCreatedOn,
	RelReferences,
	RelAssignedTo,
	RelRelatedTo,
}

// RelationTypes returns every recognized relation type in declaration order.
func RelationTypes() []RelationType {
	out := make([]RelationType, len(relationTypes))
	copy(out, relationTypes)
	return out
}

// Valid reports whether t is a recognized relation type.
func (t RelationType) Valid() bool {
	for _, v := range relationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseRelationType converts s into a RelationType.
func ParseRelationType(s string) (RelationType, error) {
	t := RelationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown relation type %q", s)
	}
	return t, nil
}

// Direction selects which endpoint of an edge a lookup matches on.
type Direction string

const (
	// DirectionFrom matches edges whose source is the object.
	DirectionFrom Direction = "from"
	// DirectionTo matches edges whose target is the object.
	DirectionTo Direction = "to"
	// DirectionBoth matches either endpoint.
	DirectionBoth Direction = "both"
)

// Valid reports whether d is one of the three directions.
func (d Direction) Valid() bool {
	return d == DirectionFrom || d == DirectionTo || d == DirectionBoth
}

// Relation is a directed, typed edge between two objects.
type Relation struct {
	ID           string         `json:"id"`
	FromObjectID string         `json:"fromObjectId"`
	ToObjectID   string         `json:"toObjectId"`
	RelationType RelationType   `json:"relationType"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Other returns the endpoint of r that is not objectID. For edges that do not
// touch objectID it returns the target.
func (r *Relation) Other(objectID string) string {
	if r.ToObjectID == objectID {
		return r.FromObjectID
	}
	return r.ToObjectID
}
