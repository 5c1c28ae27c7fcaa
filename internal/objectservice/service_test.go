package objectservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/testutil"
)

type recorded struct {
	target string
	kind   string
	id     string
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) PublishObjectEvent(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{target: "object", kind: kind, id: id})
}

func (r *recorder) PublishRelationEvent(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{target: "relation", kind: kind, id: id})
}

func (r *recorder) objectEvents(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, e := range r.events {
		if e.target == "object" && e.kind == kind {
			ids = append(ids, e.id)
		}
	}
	return ids
}

func newService(t *testing.T) (*Service, *recorder, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	db := testutil.TestDB(t, store.WithClock(clock.Now))
	rec := &recorder{}
	return New(db, WithNotifier(rec), WithClock(clock.Now)), rec, clock
}

func create(t *testing.T, s *Service, typ models.ObjectType, title string, props models.Properties) *models.Object {
	t.Helper()
	obj, err := s.CreateObject(context.Background(), store.NewObject{Type: typ, Title: title, Properties: props})
	require.NoError(t, err)
	return obj
}

func objectIDs(objs []models.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.ID
	}
	return out
}

func TestTagTwiceConflicts(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	o := create(t, s, models.TypeNote, "O", nil)
	tag, err := s.EnsureTag(ctx, "Tag1")
	require.NoError(t, err)

	_, err = s.TagObject(ctx, o.ID, tag.ID)
	require.NoError(t, err)
	_, err = s.TagObject(ctx, o.ID, tag.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)

	tagged, err := s.ObjectsByTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{o.ID}, objectIDs(tagged))

	tags, err := s.TagsOf(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{tag.ID}, objectIDs(tags))
}

func TestTagValidation(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	o := create(t, s, models.TypeNote, "O", nil)
	notATag := create(t, s, models.TypeProject, "P", nil)

	_, err := s.TagObject(ctx, o.ID, notATag.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.TagObject(ctx, o.ID, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	tag, err := s.EnsureTag(ctx, "t")
	require.NoError(t, err)
	_, err = s.TagObject(ctx, tag.ID, tag.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = s.UntagObject(ctx, o.ID, tag.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.EnsureTag(ctx, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEnsureTagIsIdempotent(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	a, err := s.EnsureTag(ctx, "work")
	require.NoError(t, err)
	b, err := s.EnsureTag(ctx, " work ")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	n, err := s.Objects().Count(ctx, store.ListFilter{Type: models.TypeTag})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUntagThenRetag(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	o := create(t, s, models.TypeTask, "O", nil)
	tag, err := s.EnsureTag(ctx, "later")
	require.NoError(t, err)

	_, err = s.TagObject(ctx, o.ID, tag.ID)
	require.NoError(t, err)
	require.NoError(t, s.UntagObject(ctx, o.ID, tag.ID))

	tagged, err := s.ObjectsByTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Empty(t, tagged)

	_, err = s.TagObject(ctx, o.ID, tag.ID)
	require.NoError(t, err)
}

func TestCollections(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	coll := create(t, s, models.TypeCollection, "Reading list", nil)
	a := create(t, s, models.TypeNote, "a", nil)
	b := create(t, s, models.TypeNote, "b", nil)

	_, err := s.AddToCollection(ctx, a.ID, coll.ID)
	require.NoError(t, err)
	_, err = s.AddToCollection(ctx, b.ID, coll.ID)
	require.NoError(t, err)
	_, err = s.AddToCollection(ctx, a.ID, coll.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)

	members, err := s.CollectionMembers(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, objectIDs(members))

	_, err = s.ArchiveObject(ctx, b.ID, true)
	require.NoError(t, err)
	members, err = s.CollectionMembers(ctx, coll.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, objectIDs(members))

	require.NoError(t, s.RemoveFromCollection(ctx, a.ID, coll.ID))
	members, err = s.CollectionMembers(ctx, coll.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = s.CollectionMembers(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateObjectLinksToTodayAndNotifies(t *testing.T) {
	s, rec, _ := newService(t)
	ctx := context.Background()

	p1 := create(t, s, models.TypeProject, "P1", nil)
	t1 := create(t, s, models.TypeTask, "T1", nil)

	note, err := s.DailyNote(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", note.Properties[models.DailyNoteDateKey])

	linked, err := s.RelatedObjects(ctx, note.ID, models.DirectionTo, models.RelCreatedOn)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p1.ID, t1.ID}, objectIDs(linked))

	// The daily note is announced too, since the linker creates it through
	// the same repository.
	assert.ElementsMatch(t, []string{p1.ID, note.ID, t1.ID}, rec.objectEvents(EventCreated))
}

func TestTimelineModesAgree(t *testing.T) {
	s, _, clock := newService(t)
	ctx := context.Background()

	a := create(t, s, models.TypeNote, "a", nil)
	clock.Advance(time.Hour)
	b := create(t, s, models.TypeTask, "b", nil)
	clock.Set(time.Date(2025, 1, 16, 8, 0, 0, 0, time.UTC))
	create(t, s, models.TypeTask, "next day", nil)

	fast, err := s.Timeline(ctx, "2025-01-15", false)
	require.NoError(t, err)
	graph, err := s.Timeline(ctx, "2025-01-15", true)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, objectIDs(fast))
	assert.Equal(t, objectIDs(fast), objectIDs(graph))

	today, err := s.Timeline(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "next day", today[0].Title)
}

func TestListObjectsReportsTotal(t *testing.T) {
	s, _, clock := newService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		create(t, s, models.TypeTask, "task", nil)
		clock.Advance(time.Second)
	}

	page, err := s.ListObjects(ctx, store.ListFilter{Type: models.TypeTask}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 5, page.Total)

	page, err = s.ListObjects(ctx, store.ListFilter{Type: models.TypeTask}, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	_, err = s.ListObjects(ctx, store.ListFilter{Type: "widget"}, 10, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSavedQueries(t *testing.T) {
	s, _, clock := newService(t)
	ctx := context.Background()

	var high []string
	for i := 0; i < 5; i++ {
		obj := create(t, s, models.TypeTask, "high", models.Properties{"priority": "high"})
		high = append(high, obj.ID)
		clock.Advance(time.Minute)
	}
	create(t, s, models.TypeTask, "low", models.Properties{"priority": "low"})

	limit := 3
	spec := query.Spec{
		ObjectType: models.TypeTask,
		Properties: map[string]any{"priority": "high"},
		Sort:       &query.Sort{Field: query.FieldCreatedAt, Order: query.OrderDesc},
		Limit:      &limit,
	}
	saved, err := s.CreateQuery(ctx, "Top priorities", spec)
	require.NoError(t, err)
	assert.Equal(t, models.TypeQuery, saved.Type)

	executed, err := s.ExecuteQuery(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{high[4], high[3], high[2]}, objectIDs(executed))

	tested, err := s.TestQuery(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, objectIDs(executed), objectIDs(tested))

	bad := -1
	_, err = s.CreateQuery(ctx, "broken", query.Spec{Limit: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteObjectCascadesAndNotifies(t *testing.T) {
	s, rec, _ := newService(t)
	ctx := context.Background()

	a := create(t, s, models.TypeProject, "a", nil)
	b := create(t, s, models.TypeTask, "b", nil)
	_, err := s.CreateRelation(ctx, store.NewRelation{FromID: a.ID, ToID: b.ID, Type: models.RelParentOf})
	require.NoError(t, err)

	require.NoError(t, s.DeleteObject(ctx, a.ID))
	assert.Equal(t, []string{a.ID}, rec.objectEvents(EventDeleted))

	rels, err := s.FindRelations(ctx, b.ID, models.DirectionBoth, models.RelParentOf)
	require.NoError(t, err)
	assert.Empty(t, rels)

	err = s.DeleteObject(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
