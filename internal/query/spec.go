// Package query executes filter/sort/limit specifications against the object
// store, either from a saved query object or inline.
package query

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Sort orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Built-in sort fields. Any other field name sorts by the property of that key.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldTitle     = "title"
	FieldType      = "type"
)

// Spec is a query specification. The zero value matches every non-archived
// object, newest update first.
type Spec struct {
	ObjectType models.ObjectType `json:"objectType,omitempty"`
	Archived   *bool             `json:"archived,omitempty"`
	Properties map[string]any    `json:"properties,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	DateRange  *DateRange        `json:"dateRange,omitempty"`
	Sort       *Sort             `json:"sort,omitempty"`
	Limit      *int              `json:"limit,omitempty"`
}

// DateRange bounds createdAt, both ends inclusive. A bound is either a
// YYYY-MM-DD date, covering that whole UTC day, or an RFC 3339 timestamp.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Sort selects the ordering of results.
type Sort struct {
	Field string `json:"field"`
	Order string `json:"order,omitempty"`
}

// Validate checks the specification.
func (s Spec) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.ObjectType, validation.By(func(v any) error {
			t, _ := v.(models.ObjectType)
			if t != "" && !t.Valid() {
				return fmt.Errorf("unknown object type %q", t)
			}
			return nil
		})),
		validation.Field(&s.Properties, validation.By(func(v any) error {
			props, _ := v.(map[string]any)
			for k, val := range props {
				if !isScalar(val) {
					return fmt.Errorf("value for %q must be a string, number, boolean or null", k)
				}
			}
			return nil
		})),
		validation.Field(&s.Tags, validation.Each(validation.Required)),
		validation.Field(&s.DateRange),
		validation.Field(&s.Sort),
		validation.Field(&s.Limit, validation.Min(0)),
	)
	if err != nil {
		return apperr.Validation("query spec: %v", err)
	}
	return nil
}

// Validate checks the sort clause.
func (s Sort) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Field, validation.Required),
		validation.Field(&s.Order, validation.In(OrderAsc, OrderDesc)),
	)
}

// Validate checks that both bounds parse and start is not after end.
func (d DateRange) Validate() error {
	start, _, err := d.bounds()
	if err != nil {
		return err
	}
	if d.Start != "" && d.End != "" {
		endInclusive, err := parseBound(d.End, false)
		if err != nil {
			return err
		}
		if start.After(endInclusive) {
			return fmt.Errorf("start %q is after end %q", d.Start, d.End)
		}
	}
	return nil
}

// bounds returns the inclusive lower bound and the exclusive upper bound.
// Zero values mean unbounded.
func (d DateRange) bounds() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if d.Start != "" {
		if start, err = parseBound(d.Start, false); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if d.End != "" {
		if end, err = parseBound(d.End, true); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

// parseBound parses a date or timestamp. With upper set it returns the first
// instant after the bound.
func parseBound(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(models.DateLayout, s); err == nil {
		if upper {
			return t.AddDate(0, 0, 1), nil
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	t = t.UTC()
	if upper {
		return t.Add(time.Nanosecond), nil
	}
	return t, nil
}

// ParseSpec reads a specification out of a saved query's properties.
func ParseSpec(props models.Properties) (Spec, error) {
	var s Spec
	raw, err := json.Marshal(props)
	if err != nil {
		return s, apperr.Validation("query properties: %v", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, apperr.Validation("query properties: %v", err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// ToProperties encodes s as the properties of a saved query object.
func (s Spec) ToProperties() (models.Properties, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, apperr.Validation("query spec: %v", err)
	}
	var props models.Properties
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, apperr.Validation("query spec: %v", err)
	}
	return props, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}
