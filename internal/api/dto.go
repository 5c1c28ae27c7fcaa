package api

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/objectservice"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/store"
)

// ObjectPage is a page of objects (aliased from the service layer).
type ObjectPage = objectservice.ObjectPage

func validObjectType(v any) error {
	t, _ := v.(models.ObjectType)
	if t != "" && !t.Valid() {
		return fmt.Errorf("unknown object type %q", t)
	}
	return nil
}

func validRelationType(v any) error {
	t, _ := v.(models.RelationType)
	if t != "" && !t.Valid() {
		return fmt.Errorf("unknown relation type %q", t)
	}
	return nil
}

// CreateObjectRequest is the request body for creating an object.
type CreateObjectRequest struct {
	Type       models.ObjectType `json:"type" example:"task" validate:"required"`
	Title      string            `json:"title" example:"Write report" validate:"required"`
	Content    string            `json:"content,omitempty" example:"Draft the Q1 summary"`
	Properties models.Properties `json:"properties,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// Validate checks the request.
func (r CreateObjectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, validation.By(validObjectType)),
		validation.Field(&r.Title, validation.Required),
	)
}

func (r CreateObjectRequest) toStore() store.NewObject {
	return store.NewObject{
		Type:       r.Type,
		Title:      r.Title,
		Content:    r.Content,
		Properties: r.Properties,
		Metadata:   r.Metadata,
	}
}

// UpdateObjectRequest is a partial update. Omitted fields keep their value.
type UpdateObjectRequest struct {
	Title      *string           `json:"title,omitempty" example:"Write final report"`
	Content    *string           `json:"content,omitempty"`
	Properties models.Properties `json:"properties,omitempty"`
}

// Validate checks the request.
func (r UpdateObjectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.NilOrNotEmpty),
	)
}

// ArchiveRequest toggles the archived flag.
type ArchiveRequest struct {
	Archived *bool `json:"archived" example:"true" validate:"required"`
}

// Validate checks the request.
func (r ArchiveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Archived, validation.NotNil),
	)
}

// CreateRelationRequest is the request body for creating a relation.
type CreateRelationRequest struct {
	FromObjectID string              `json:"fromObjectId" validate:"required"`
	ToObjectID   string              `json:"toObjectId" validate:"required"`
	RelationType models.RelationType `json:"relationType" example:"blocks" validate:"required"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// Validate checks the request.
func (r CreateRelationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FromObjectID, validation.Required),
		validation.Field(&r.ToObjectID, validation.Required),
		validation.Field(&r.RelationType, validation.Required, validation.By(validRelationType)),
	)
}

// TagRequest attaches a tag, either an existing tag object by id or a tag
// title that is created on demand.
type TagRequest struct {
	TagID string `json:"tagId,omitempty"`
	Title string `json:"title,omitempty" example:"urgent"`
}

// Validate checks that exactly one of tagId and title is set.
func (r TagRequest) Validate() error {
	if (r.TagID == "") == (r.Title == "") {
		return errors.New("exactly one of tagId and title is required")
	}
	return nil
}

// MemberRequest adds an object to a collection.
type MemberRequest struct {
	ObjectID string `json:"objectId" validate:"required"`
}

// Validate checks the request.
func (r MemberRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ObjectID, validation.Required),
	)
}

// CreateQueryRequest saves a query specification.
type CreateQueryRequest struct {
	Title string     `json:"title" example:"High priority tasks" validate:"required"`
	Spec  query.Spec `json:"spec"`
}

// Validate checks the request.
func (r CreateQueryRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
	); err != nil {
		return err
	}
	return r.Spec.Validate()
}

// DeletedResponse reports how many rows a bulk delete removed.
type DeletedResponse struct {
	Deleted int64 `json:"deleted" example:"2"`
}

// ExistsResponse answers a relation existence check.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// ObjectsResponse wraps an unpaged object list.
type ObjectsResponse struct {
	Objects []models.Object `json:"objects" validate:"required"`
}

// RelationsResponse wraps a relation list.
type RelationsResponse struct {
	Relations []models.Relation `json:"relations" validate:"required"`
}

// TimelineResponse lists the objects created on a date.
type TimelineResponse struct {
	Date    string          `json:"date" example:"2025-01-15"`
	Objects []models.Object `json:"objects" validate:"required"`
}
