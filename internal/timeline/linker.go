// Package timeline keeps one daily note per calendar date and links every new
// object to the daily note of the day it was created.
package timeline

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/singleflight"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// AutoLinkKey marks created_on edges made by the linker in relation metadata.
const AutoLinkKey = "auto"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateDate checks that date is a real calendar date in YYYY-MM-DD form.
func ValidateDate(date string) error {
	err := validation.Validate(date,
		validation.Required,
		validation.Match(dateRe).Error("must be in YYYY-MM-DD format"),
		validation.Date(models.DateLayout).Error("must be a valid calendar date"),
	)
	if err != nil {
		return apperr.Validation("date %q: %v", date, err)
	}
	return nil
}

// Title returns the title given to the daily note of date.
func Title(date string) string {
	return "Daily Note - " + date
}

// Linker maintains daily notes and created_on edges.
type Linker struct {
	objects   *store.Objects
	relations *store.Relations
	now       func() time.Time
	logger    *slog.Logger

	// Collapses concurrent get-or-create calls for the same date in this
	// process. The unique index on the date property covers other processes.
	group singleflight.Group
}

// Option configures a Linker.
type Option func(*Linker)

// WithClock overrides the time source used to compute today's date.
func WithClock(now func() time.Time) Option {
	return func(l *Linker) {
		l.now = now
	}
}

// WithLogger sets the linker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linker) {
		l.logger = logger
	}
}

// NewLinker creates a Linker over the given repository and graph.
func NewLinker(objects *store.Objects, relations *store.Relations, opts ...Option) *Linker {
	l := &Linker{
		objects:   objects,
		relations: relations,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attach registers the auto-link hook on the object repository.
func (l *Linker) Attach() {
	l.objects.OnCreate(l.LinkCreated)
}

// Today returns the current UTC calendar date.
func (l *Linker) Today() string {
	return l.now().UTC().Format(models.DateLayout)
}

// DailyNote returns the daily note for date without creating it.
func (l *Linker) DailyNote(ctx context.Context, date string) (*models.Object, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	return l.objects.FindByProperty(ctx, models.TypeDailyNote, models.DailyNoteDateKey, date)
}

// GetOrCreateDailyNote returns the daily note for date, creating it when
// missing. Calling it repeatedly or concurrently for one date yields the same
// object.
func (l *Linker) GetOrCreateDailyNote(ctx context.Context, date string) (*models.Object, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	v, err, _ := l.group.Do(date, func() (any, error) {
		return l.getOrCreate(ctx, date)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Object), nil
}

func (l *Linker) getOrCreate(ctx context.Context, date string) (*models.Object, error) {
	note, err := l.objects.FindByProperty(ctx, models.TypeDailyNote, models.DailyNoteDateKey, date)
	if err == nil {
		return note, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	note, err = l.objects.Create(ctx, store.NewObject{
		Type:       models.TypeDailyNote,
		Title:      Title(date),
		Properties: models.Properties{models.DailyNoteDateKey: date},
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		l.logger.Debug("timeline: daily note created concurrently, re-reading", slog.String("date", date))
		return l.objects.FindByProperty(ctx, models.TypeDailyNote, models.DailyNoteDateKey, date)
	}
	if err != nil {
		return nil, err
	}
	l.logger.Debug("timeline: daily note created", slog.String("date", date), slog.String("id", note.ID))
	return note, nil
}

// LinkCreated creates the automatic created_on edge from obj to the daily note
// of its creation date. Daily notes themselves are never linked.
func (l *Linker) LinkCreated(ctx context.Context, obj *models.Object) error {
	if obj.Type == models.TypeDailyNote {
		return nil
	}
	date := obj.CreatedDate
	if date == "" {
		date = obj.CreatedAt.UTC().Format(models.DateLayout)
	}
	note, err := l.GetOrCreateDailyNote(ctx, date)
	if err != nil {
		return err
	}
	_, err = l.relations.Create(ctx, store.NewRelation{
		FromID:   obj.ID,
		ToID:     note.ID,
		Type:     models.RelCreatedOn,
		Metadata: map[string]any{AutoLinkKey: true},
	})
	return err
}

// CreatedOn lists the non-archived objects created on date using the derived
// created_date column. Daily notes are left out so the result matches Timeline.
func (l *Linker) CreatedOn(ctx context.Context, date string) ([]models.Object, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	all, err := l.objects.CreatedOn(ctx, date, false)
	if err != nil {
		return nil, err
	}
	out := make([]models.Object, 0, len(all))
	for _, o := range all {
		if o.Type != models.TypeDailyNote {
			out = append(out, o)
		}
	}
	return out, nil
}

// Timeline lists the non-archived objects linked to the daily note of date
// through created_on edges, oldest first. A date without a daily note has an
// empty timeline.
func (l *Linker) Timeline(ctx context.Context, date string) ([]models.Object, error) {
	note, err := l.DailyNote(ctx, date)
	if errors.Is(err, apperr.ErrNotFound) {
		return []models.Object{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids, err := l.relations.RelatedObjectIDs(ctx, note.ID, models.DirectionTo, models.RelCreatedOn)
	if err != nil {
		return nil, err
	}
	linked, err := l.objects.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.Object, 0, len(linked))
	for _, o := range linked {
		if !o.Archived {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
