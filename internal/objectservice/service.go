// Package objectservice composes the object repository, relation graph,
// timeline linker and query executor into the operations exposed by the REST
// and MCP transports.
package objectservice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/timeline"
)

// Event kinds passed to a Notifier.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Notifier receives change notifications. *sse.Broker satisfies it.
type Notifier interface {
	PublishObjectEvent(kind, id string)
	PublishRelationEvent(kind, id string)
}

// ObjectPage is one page of an object listing.
type ObjectPage struct {
	Items   []models.Object `json:"items"`
	HasMore bool            `json:"hasMore"`
	Total   int             `json:"total"`
}

// Service coordinates the storage, timeline and query components.
type Service struct {
	objects   *store.Objects
	relations *store.Relations
	linker    *timeline.Linker
	queries   *query.Executor
	notifier  Notifier
	logger    *slog.Logger

	// Serializes check-then-insert membership writes (tags, collections).
	memberMu sync.Mutex
}

// Option configures a Service.
type Option func(*config)

type config struct {
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// WithNotifier sets the sink for change notifications.
func WithNotifier(n Notifier) Option {
	return func(c *config) { c.notifier = n }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock sets the clock used to resolve "today" for daily notes.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New wires a Service on db and attaches the timeline auto-link hook to its
// object repository.
func New(db *store.DB, opts ...Option) *Service {
	c := config{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}

	objects := store.NewObjects(db)
	relations := store.NewRelations(db)
	linker := timeline.NewLinker(objects, relations,
		timeline.WithClock(c.now),
		timeline.WithLogger(c.logger),
	)
	linker.Attach()

	s := &Service{
		objects:   objects,
		relations: relations,
		linker:    linker,
		queries:   query.NewExecutor(objects, relations, c.logger),
		notifier:  c.notifier,
		logger:    c.logger,
	}
	objects.OnCreate(func(_ context.Context, obj *models.Object) error {
		s.objectChanged(EventCreated, obj.ID)
		return nil
	})
	return s
}

// Objects returns the underlying object repository.
func (s *Service) Objects() *store.Objects { return s.objects }

// Relations returns the underlying relation graph.
func (s *Service) Relations() *store.Relations { return s.relations }

// CreateObject creates an object. Non daily-note objects are linked to the
// daily note of their creation date.
func (s *Service) CreateObject(ctx context.Context, in store.NewObject) (*models.Object, error) {
	return s.objects.Create(ctx, in)
}

// GetObject returns the object with id.
func (s *Service) GetObject(ctx context.Context, id string) (*models.Object, error) {
	return s.objects.Get(ctx, id)
}

// ListObjects returns a page of objects, newest first, with the exact total
// for the filter alongside the hasMore heuristic.
func (s *Service) ListObjects(ctx context.Context, f store.ListFilter, limit, offset int) (*ObjectPage, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, apperr.Validation("unknown object type %q", f.Type)
	}
	items, more, err := s.objects.List(ctx, f, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.objects.Count(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ObjectPage{Items: items, HasMore: more, Total: total}, nil
}

// UpdateObject applies a partial update.
func (s *Service) UpdateObject(ctx context.Context, id string, p store.Patch) (*models.Object, error) {
	obj, err := s.objects.Update(ctx, id, p)
	if err != nil {
		return nil, err
	}
	s.objectChanged(EventUpdated, id)
	return obj, nil
}

// ArchiveObject sets or clears the archived flag.
func (s *Service) ArchiveObject(ctx context.Context, id string, archived bool) (*models.Object, error) {
	obj, err := s.objects.Archive(ctx, id, archived)
	if err != nil {
		return nil, err
	}
	s.objectChanged(EventUpdated, id)
	return obj, nil
}

// DeleteObject removes an object and every relation touching it.
func (s *Service) DeleteObject(ctx context.Context, id string) error {
	if err := s.objects.Delete(ctx, id); err != nil {
		return err
	}
	s.objectChanged(EventDeleted, id)
	return nil
}

// CreateRelation creates a typed edge. Parallel edges are allowed.
func (s *Service) CreateRelation(ctx context.Context, in store.NewRelation) (*models.Relation, error) {
	rel, err := s.relations.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.relationChanged(EventCreated, rel.ID)
	return rel, nil
}

// GetRelation returns the relation with id.
func (s *Service) GetRelation(ctx context.Context, id string) (*models.Relation, error) {
	return s.relations.Get(ctx, id)
}

// FindRelations lists the edges touching objectID.
func (s *Service) FindRelations(ctx context.Context, objectID string, dir models.Direction, relType models.RelationType) ([]models.Relation, error) {
	return s.relations.Find(ctx, objectID, dir, relType)
}

// RelatedObjects resolves the opposite endpoints of the edges touching
// objectID.
func (s *Service) RelatedObjects(ctx context.Context, objectID string, dir models.Direction, relType models.RelationType) ([]models.Object, error) {
	ids, err := s.relations.RelatedObjectIDs(ctx, objectID, dir, relType)
	if err != nil {
		return nil, err
	}
	return s.objects.GetMany(ctx, ids)
}

// RelationExists reports whether the directed edge exists.
func (s *Service) RelationExists(ctx context.Context, fromID, toID string, relType models.RelationType) (bool, error) {
	return s.relations.Exists(ctx, fromID, toID, relType)
}

// DeleteRelations removes every edge matching c and returns how many went.
func (s *Service) DeleteRelations(ctx context.Context, c store.Criteria) (int64, error) {
	n, err := s.relations.Delete(ctx, c)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.relationChanged(EventDeleted, c.ID)
	}
	return n, nil
}

// EnsureTag returns the tag object titled title, creating it when missing.
func (s *Service) EnsureTag(ctx context.Context, title string) (*models.Object, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("tag title must not be empty")
	}
	s.memberMu.Lock()
	defer s.memberMu.Unlock()

	found, err := s.objects.FindByTitles(ctx, models.TypeTag, []string{title})
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return &found[0], nil
	}
	return s.objects.Create(ctx, store.NewObject{Type: models.TypeTag, Title: title})
}

// TagObject links objectID to tagID with a tagged_with edge. Tagging an
// object twice with the same tag fails with a conflict.
func (s *Service) TagObject(ctx context.Context, objectID, tagID string) (*models.Relation, error) {
	return s.addMember(ctx, objectID, tagID, models.TypeTag, models.RelTaggedWith)
}

// UntagObject removes the tagged_with edge from objectID to tagID.
func (s *Service) UntagObject(ctx context.Context, objectID, tagID string) error {
	return s.removeMember(ctx, objectID, tagID, models.RelTaggedWith)
}

// ObjectsByTag lists the non-archived objects tagged with tagID.
func (s *Service) ObjectsByTag(ctx context.Context, tagID string) ([]models.Object, error) {
	return s.members(ctx, tagID, models.TypeTag, models.RelTaggedWith)
}

// TagsOf lists the tags attached to objectID.
func (s *Service) TagsOf(ctx context.Context, objectID string) ([]models.Object, error) {
	if _, err := s.objects.Get(ctx, objectID); err != nil {
		return nil, err
	}
	return s.RelatedObjects(ctx, objectID, models.DirectionFrom, models.RelTaggedWith)
}

// AddToCollection links objectID to collectionID with a member_of edge.
func (s *Service) AddToCollection(ctx context.Context, objectID, collectionID string) (*models.Relation, error) {
	return s.addMember(ctx, objectID, collectionID, models.TypeCollection, models.RelMemberOf)
}

// RemoveFromCollection removes the member_of edge from objectID to
// collectionID.
func (s *Service) RemoveFromCollection(ctx context.Context, objectID, collectionID string) error {
	return s.removeMember(ctx, objectID, collectionID, models.RelMemberOf)
}

// CollectionMembers lists the non-archived members of collectionID.
func (s *Service) CollectionMembers(ctx context.Context, collectionID string) ([]models.Object, error) {
	return s.members(ctx, collectionID, models.TypeCollection, models.RelMemberOf)
}

func (s *Service) addMember(ctx context.Context, objectID, groupID string, groupType models.ObjectType, relType models.RelationType) (*models.Relation, error) {
	group, err := s.objects.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Type != groupType {
		return nil, apperr.Validation("object %q is a %s, not a %s", groupID, group.Type, groupType)
	}

	s.memberMu.Lock()
	defer s.memberMu.Unlock()

	exists, err := s.relations.Exists(ctx, objectID, groupID, relType)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict("object %q is already linked to %s %q", objectID, groupType, group.Title)
	}
	rel, err := s.relations.Create(ctx, store.NewRelation{FromID: objectID, ToID: groupID, Type: relType})
	if err != nil {
		return nil, err
	}
	s.relationChanged(EventCreated, rel.ID)
	return rel, nil
}

func (s *Service) removeMember(ctx context.Context, objectID, groupID string, relType models.RelationType) error {
	n, err := s.relations.Delete(ctx, store.Criteria{FromID: objectID, ToID: groupID, Type: relType})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(string(relType), objectID+"->"+groupID)
	}
	s.relationChanged(EventDeleted, "")
	return nil
}

func (s *Service) members(ctx context.Context, groupID string, groupType models.ObjectType, relType models.RelationType) ([]models.Object, error) {
	group, err := s.objects.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Type != groupType {
		return nil, apperr.Validation("object %q is a %s, not a %s", groupID, group.Type, groupType)
	}
	linked, err := s.RelatedObjects(ctx, groupID, models.DirectionTo, relType)
	if err != nil {
		return nil, err
	}
	out := make([]models.Object, 0, len(linked))
	for _, o := range linked {
		if !o.Archived {
			out = append(out, o)
		}
	}
	return out, nil
}

// CreateQuery saves spec as a query object titled title.
func (s *Service) CreateQuery(ctx context.Context, title string, spec query.Spec) (*models.Object, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	props, err := spec.ToProperties()
	if err != nil {
		return nil, err
	}
	return s.objects.Create(ctx, store.NewObject{Type: models.TypeQuery, Title: title, Properties: props})
}

// ExecuteQuery runs the saved query queryID.
func (s *Service) ExecuteQuery(ctx context.Context, queryID string) ([]models.Object, error) {
	return s.queries.Execute(ctx, queryID)
}

// TestQuery runs spec without saving it.
func (s *Service) TestQuery(ctx context.Context, spec query.Spec) ([]models.Object, error) {
	return s.queries.Test(ctx, spec)
}

// Today returns the current UTC date.
func (s *Service) Today() string {
	return s.linker.Today()
}

// DailyNote returns the daily note for date, creating it when missing. An
// empty date means today.
func (s *Service) DailyNote(ctx context.Context, date string) (*models.Object, error) {
	if date == "" {
		date = s.linker.Today()
	}
	return s.linker.GetOrCreateDailyNote(ctx, date)
}

// Timeline lists the objects created on date. viaGraph selects the
// created_on traversal instead of the derived date column.
func (s *Service) Timeline(ctx context.Context, date string, viaGraph bool) ([]models.Object, error) {
	if date == "" {
		date = s.linker.Today()
	}
	if viaGraph {
		return s.linker.Timeline(ctx, date)
	}
	return s.linker.CreatedOn(ctx, date)
}

func (s *Service) objectChanged(kind, id string) {
	if s.notifier != nil {
		s.notifier.PublishObjectEvent(kind, id)
	}
}

func (s *Service) relationChanged(kind, id string) {
	if s.notifier != nil {
		s.notifier.PublishRelationEvent(kind, id)
	}
}
