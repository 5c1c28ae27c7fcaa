// Package models defines the domain types for Ansuz.
package models

import (
	"fmt"
	"time"
)

// ObjectType is the closed set of object kinds.
type ObjectType string

const (
	TypeNote       ObjectType = "note"
	TypeProject    ObjectType = "project"
	TypeTask       ObjectType = "task"
	TypePerson     ObjectType = "person"
	TypeMeeting    ObjectType = "meeting"
	TypeDailyNote  ObjectType = "daily-note"
	TypeTag        ObjectType = "tag"
	TypeCollection ObjectType = "collection"
	TypeQuery      ObjectType = "query"
	TypeCustom     ObjectType = "custom"
)

var objectTypes = []ObjectType{
	TypeNote,
	TypeProject,
	TypeTask,
	TypePerson,
	TypeMeeting,
	TypeDailyNote,
	TypeTag,
	TypeCollection,
	TypeQuery,
	TypeCustom,
}

// ObjectTypes returns every recognized object type in declaration order.
func ObjectTypes() []ObjectType {
	out := make([]ObjectType, len(objectTypes))
	copy(out, objectTypes)
	return out
}

// Valid reports whether t is a recognized object type.
func (t ObjectType) Valid() bool {
	for _, v := range objectTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseObjectType converts s into an ObjectType.
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown object type %q", s)
	}
	return t, nil
}

// DailyNoteDateKey is the property that holds a daily note's calendar date.
const DailyNoteDateKey = "date"

// DateLayout is the calendar-day format used by derived dates and daily notes.
const DateLayout = "2006-01-02"

// Properties is the open, type-specific property bag of an object. Values are
// JSON scalars, arrays or objects; the store treats the bag as opaque.
type Properties map[string]any

// Object is the polymorphic entity stored in the objects table.
type Object struct {
	ID          string         `json:"id"`
	Type        ObjectType     `json:"type"`
	Title       string         `json:"title"`
	Content     string         `json:"content,omitempty"`
	Properties  Properties     `json:"properties"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Archived    bool           `json:"archived"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CreatedDate string         `json:"createdDate"`
	UpdatedDate string         `json:"updatedDate"`
}

// Property returns the value stored under key and whether it was present.
func (o *Object) Property(key string) (any, bool) {
	if o.Properties == nil {
		return nil, false
	}
	v, ok := o.Properties[key]
	return v, ok
}
