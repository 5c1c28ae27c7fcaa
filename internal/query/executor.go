package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// Executor runs query specifications.
type Executor struct {
	objects   *store.Objects
	relations *store.Relations
	logger    *slog.Logger
}

// NewExecutor creates an Executor over the given repository and graph.
func NewExecutor(objects *store.Objects, relations *store.Relations, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{objects: objects, relations: relations, logger: logger}
}

// Execute loads the saved query object queryID and runs its specification.
func (e *Executor) Execute(ctx context.Context, queryID string) ([]models.Object, error) {
	obj, err := e.objects.Get(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if obj.Type != models.TypeQuery {
		return nil, apperr.NotFound("query", queryID)
	}
	spec, err := ParseSpec(obj.Properties)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, spec)
}

// Test runs spec without saving it. For the same data it returns exactly what
// Execute returns for a saved query holding spec.
func (e *Executor) Test(ctx context.Context, spec Spec) ([]models.Object, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return e.run(ctx, spec)
}

func (e *Executor) run(ctx context.Context, spec Spec) ([]models.Object, error) {
	start := time.Now()

	candidates, err := e.objects.All(ctx, store.ListFilter{Type: spec.ObjectType, Archived: spec.Archived})
	if err != nil {
		return nil, err
	}

	var tagged map[string]struct{}
	if len(spec.Tags) > 0 {
		if tagged, err = e.taggedWithAny(ctx, spec.Tags); err != nil {
			return nil, err
		}
	}

	var lo, hi time.Time
	if spec.DateRange != nil {
		if lo, hi, err = spec.DateRange.bounds(); err != nil {
			return nil, apperr.Validation("query spec: dateRange: %v", err)
		}
	}

	out := make([]models.Object, 0, len(candidates))
	for _, obj := range candidates {
		if tagged != nil {
			if _, ok := tagged[obj.ID]; !ok {
				continue
			}
		}
		if !lo.IsZero() && obj.CreatedAt.Before(lo) {
			continue
		}
		if !hi.IsZero() && !obj.CreatedAt.Before(hi) {
			continue
		}
		if !matchProperties(obj.Properties, spec.Properties) {
			continue
		}
		out = append(out, obj)
	}

	sortObjects(out, spec.Sort)

	if spec.Limit != nil && *spec.Limit < len(out) {
		out = out[:*spec.Limit]
	}

	e.logger.Debug("query: executed",
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(out)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// taggedWithAny returns the ids of objects tagged with at least one of the tag
// titles. Unknown titles match nothing.
func (e *Executor) taggedWithAny(ctx context.Context, titles []string) (map[string]struct{}, error) {
	tags, err := e.objects.FindByTitles(ctx, models.TypeTag, titles)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, tag := range tags {
		ids, err := e.relations.RelatedObjectIDs(ctx, tag.ID, models.DirectionTo, models.RelTaggedWith)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

// matchProperties reports whether every key in want is present in props with
// an equal value. A nil wanted value matches a missing key or a null.
func matchProperties(props models.Properties, want map[string]any) bool {
	for k, w := range want {
		got, ok := props[k]
		if w == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !valuesEqual(got, w) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// sortObjects orders objs by s, defaulting to updatedAt descending. Objects
// missing a sorted property go last in either order. Ties fall back to id.
func sortObjects(objs []models.Object, s *Sort) {
	field, desc := FieldUpdatedAt, true
	if s != nil {
		field = s.Field
		desc = s.Order == OrderDesc
	}

	sort.SliceStable(objs, func(i, j int) bool {
		a, b := &objs[i], &objs[j]
		var c int
		switch field {
		case FieldCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		case FieldUpdatedAt:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		case FieldTitle:
			c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case FieldType:
			c = strings.Compare(string(a.Type), string(b.Type))
		default:
			av, aok := a.Property(field)
			bv, bok := b.Property(field)
			aok = aok && av != nil
			bok = bok && bv != nil
			switch {
			case !aok && !bok:
				c = 0
			case !aok:
				return false
			case !bok:
				return true
			default:
				c = compareValues(av, bv)
			}
		}
		if c == 0 {
			return a.ID < b.ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareValues orders numbers numerically, booleans false first and anything
// else by its string form. Numbers sort before non-numbers.
func compareValues(a, b any) int {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}
	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	}
	return strings.Compare(stringify(a), stringify(b))
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
