package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/objectservice"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/testutil"
)

var testNow = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// testEnv sets up a temp SQLite DB, service and router. An empty authToken
// means auth is disabled.
func testEnv(t *testing.T, authToken string) (*objectservice.Service, http.Handler) {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) (*objectservice.Service, http.Handler) {
	t.Helper()
	clock := testutil.NewClock(testNow)
	db := testutil.TestDB(t, store.WithClock(func() time.Time {
		clock.Advance(time.Second)
		return clock.Now()
	}))
	svc := objectservice.New(db, objectservice.WithClock(clock.Now))
	return svc, NewRouter(svc, authEnabled, authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func createObject(t *testing.T, router http.Handler, typ, title string, props map[string]any) models.Object {
	t.Helper()
	w := do(t, router, http.MethodPost, "/objects", map[string]any{"type": typ, "title": title, "properties": props})
	if w.Code != http.StatusCreated {
		t.Fatalf("create %s %q = %d, body = %s", typ, title, w.Code, w.Body.String())
	}
	return decode[models.Object](t, w)
}

func TestCreateAndGetObject(t *testing.T) {
	_, router := testEnv(t, "")

	created := createObject(t, router, "task", "Write report", map[string]any{"priority": "high"})
	if created.ID == "" || created.CreatedDate != "2025-01-15" {
		t.Fatalf("created = %+v", created)
	}

	w := do(t, router, http.MethodGet, "/objects/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[models.Object](t, w)
	if got.Title != "Write report" || got.Properties["priority"] != "high" {
		t.Errorf("got = %+v", got)
	}
}

func TestCreateObjectValidation(t *testing.T) {
	_, router := testEnv(t, "")

	cases := []any{
		map[string]any{"type": "task", "title": ""},
		map[string]any{"type": "task", "title": "   "},
		map[string]any{"type": "widget", "title": "x"},
		map[string]any{"title": "no type"},
		map[string]any{"type": "task", "title": "x", "bogus": 1},
	}
	for i, body := range cases {
		w := do(t, router, http.MethodPost, "/objects", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400 (%s)", i, w.Code, w.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/objects", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON = %d, want 400", w.Code)
	}
}

func TestGetObject_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/objects/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing object = %d, want 404", w.Code)
	}
}

func TestUpdateObjectPartial(t *testing.T) {
	_, router := testEnv(t, "")
	obj := createObject(t, router, "note", "Draft", map[string]any{"status": "open"})

	w := do(t, router, http.MethodPatch, "/objects/"+obj.ID, map[string]any{"content": "body"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode[models.Object](t, w)
	if got.Title != "Draft" || got.Content != "body" || got.Properties["status"] != "open" {
		t.Errorf("partial update lost fields: %+v", got)
	}
	if !got.UpdatedAt.After(obj.UpdatedAt) {
		t.Errorf("updatedAt not refreshed: %v -> %v", obj.UpdatedAt, got.UpdatedAt)
	}

	w = do(t, router, http.MethodPatch, "/objects/"+obj.ID, map[string]any{"title": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty title patch = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPatch, "/objects/ghost", map[string]any{"title": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("patch missing = %d, want 404", w.Code)
	}
}

func TestArchiveAndList(t *testing.T) {
	_, router := testEnv(t, "")
	a := createObject(t, router, "task", "a", nil)
	createObject(t, router, "task", "b", nil)

	w := do(t, router, http.MethodPost, "/objects/"+a.ID+"/archive", map[string]any{"archived": true})
	if w.Code != http.StatusOK || !decode[models.Object](t, w).Archived {
		t.Fatalf("archive = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, "/objects/"+a.ID+"/archive", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("archive without flag = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/objects?type=task&limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	page := decode[ObjectPage](t, w)
	if len(page.Items) != 1 || page.Items[0].Title != "b" || page.Total != 1 || !page.HasMore {
		t.Errorf("page = %+v", page)
	}

	w = do(t, router, http.MethodGet, "/objects?type=task&archived=true", nil)
	page = decode[ObjectPage](t, w)
	if len(page.Items) != 1 || page.Items[0].ID != a.ID {
		t.Errorf("archived page = %+v", page)
	}

	w = do(t, router, http.MethodGet, "/objects?archived=maybe", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad archived flag = %d, want 400", w.Code)
	}
}

func TestDeleteObjectCascades(t *testing.T) {
	_, router := testEnv(t, "")
	a := createObject(t, router, "project", "a", nil)
	b := createObject(t, router, "task", "b", nil)

	w := do(t, router, http.MethodPost, "/relations", map[string]any{
		"fromObjectId": a.ID, "toObjectId": b.ID, "relationType": "parent_of",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create relation = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodDelete, "/objects/"+a.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/objects/"+b.ID+"/relations?type=parent_of", nil)
	if rels := decode[RelationsResponse](t, w).Relations; len(rels) != 0 {
		t.Errorf("relations survived delete: %+v", rels)
	}
	w = do(t, router, http.MethodDelete, "/objects/"+a.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestRelationEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	a := createObject(t, router, "task", "a", nil)
	b := createObject(t, router, "task", "b", nil)

	w := do(t, router, http.MethodPost, "/relations", map[string]any{
		"fromObjectId": a.ID, "toObjectId": a.ID, "relationType": "blocks",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("self relation = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/relations", map[string]any{
		"fromObjectId": a.ID, "toObjectId": "ghost", "relationType": "blocks",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing endpoint = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodPost, "/relations", map[string]any{
		"fromObjectId": a.ID, "toObjectId": b.ID, "relationType": "likes",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/relations", map[string]any{
		"fromObjectId": a.ID, "toObjectId": b.ID, "relationType": "blocks",
		"metadata": map[string]any{"reason": "waiting"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	rel := decode[models.Relation](t, w)

	w = do(t, router, http.MethodGet, "/relations/exists?from="+a.ID+"&to="+b.ID+"&type=blocks", nil)
	if !decode[ExistsResponse](t, w).Exists {
		t.Error("exists(a,b) = false")
	}
	w = do(t, router, http.MethodGet, "/relations/exists?from="+b.ID+"&to="+a.ID+"&type=blocks", nil)
	if decode[ExistsResponse](t, w).Exists {
		t.Error("exists(b,a) = true")
	}

	w = do(t, router, http.MethodGet, "/objects/"+b.ID+"/related?direction=to&type=blocks", nil)
	if objs := decode[ObjectsResponse](t, w).Objects; len(objs) != 1 || objs[0].ID != a.ID {
		t.Errorf("related = %+v", objs)
	}

	w = do(t, router, http.MethodGet, "/relations/"+rel.ID, nil)
	if w.Code != http.StatusOK || decode[models.Relation](t, w).Metadata["reason"] != "waiting" {
		t.Errorf("get relation = %d, %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodDelete, "/relations", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("delete without criteria = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/relations?from="+a.ID+"&type=blocks", nil)
	if w.Code != http.StatusOK || decode[DeletedResponse](t, w).Deleted != 1 {
		t.Errorf("bulk delete = %d, %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodDelete, "/relations/"+rel.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete gone relation = %d, want 404", w.Code)
	}
}

func TestTagTwiceConflict(t *testing.T) {
	_, router := testEnv(t, "")
	obj := createObject(t, router, "note", "O", nil)

	w := do(t, router, http.MethodPost, "/objects/"+obj.ID+"/tags", map[string]any{"title": "Tag1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("first tag = %d, body = %s", w.Code, w.Body.String())
	}
	tagID := decode[models.Relation](t, w).ToObjectID

	w = do(t, router, http.MethodPost, "/objects/"+obj.ID+"/tags", map[string]any{"tagId": tagID})
	if w.Code != http.StatusConflict {
		t.Errorf("second tag = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/objects/"+obj.ID+"/tags", map[string]any{"tagId": tagID, "title": "Tag1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("ambiguous tag request = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/tags/"+tagID+"/objects", nil)
	if objs := decode[ObjectsResponse](t, w).Objects; len(objs) != 1 || objs[0].ID != obj.ID {
		t.Errorf("objects by tag = %+v", objs)
	}

	w = do(t, router, http.MethodDelete, "/objects/"+obj.ID+"/tags/"+tagID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("untag = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/objects/"+obj.ID+"/tags", nil)
	if tags := decode[ObjectsResponse](t, w).Objects; len(tags) != 0 {
		t.Errorf("tags after untag = %+v", tags)
	}
}

func TestCollectionEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	coll := createObject(t, router, "collection", "Reading", nil)
	obj := createObject(t, router, "note", "Book", nil)

	path := "/collections/" + coll.ID + "/members"
	if w := do(t, router, http.MethodPost, path, map[string]any{"objectId": obj.ID}); w.Code != http.StatusCreated {
		t.Fatalf("add = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, path, map[string]any{"objectId": obj.ID}); w.Code != http.StatusConflict {
		t.Errorf("add twice = %d, want 409", w.Code)
	}
	w := do(t, router, http.MethodGet, path, nil)
	if objs := decode[ObjectsResponse](t, w).Objects; len(objs) != 1 {
		t.Errorf("members = %+v", objs)
	}
	if w := do(t, router, http.MethodDelete, path+"/"+obj.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("remove = %d", w.Code)
	}
	if w := do(t, router, http.MethodDelete, path+"/"+obj.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("remove twice = %d, want 404", w.Code)
	}
}

func TestDailyNoteAndTimeline(t *testing.T) {
	_, router := testEnv(t, "")
	p1 := createObject(t, router, "project", "P1", nil)
	t1 := createObject(t, router, "task", "T1", nil)

	w := do(t, router, http.MethodGet, "/daily-notes/today", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("daily note = %d, body = %s", w.Code, w.Body.String())
	}
	note := decode[models.Object](t, w)
	if note.Title != "Daily Note - 2025-01-15" {
		t.Errorf("title = %q", note.Title)
	}

	w = do(t, router, http.MethodGet, "/daily-notes/2025-01-15", nil)
	if decode[models.Object](t, w).ID != note.ID {
		t.Error("daily note not idempotent")
	}
	w = do(t, router, http.MethodGet, "/daily-notes/2025-02-29", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid date = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/objects/"+note.ID+"/relations?direction=to&type=created_on", nil)
	if rels := decode[RelationsResponse](t, w).Relations; len(rels) != 2 {
		t.Errorf("created_on edges = %d, want 2", len(rels))
	}

	for _, via := range []string{"", "?via=graph"} {
		w = do(t, router, http.MethodGet, "/timeline/2025-01-15"+via, nil)
		tl := decode[TimelineResponse](t, w)
		if len(tl.Objects) != 2 || tl.Objects[0].ID != p1.ID || tl.Objects[1].ID != t1.ID {
			t.Errorf("timeline%s = %+v", via, tl)
		}
	}
}

func TestQueryEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	var high []string
	for i := 0; i < 5; i++ {
		high = append(high, createObject(t, router, "task", "high", map[string]any{"priority": "high"}).ID)
	}
	createObject(t, router, "task", "low", map[string]any{"priority": "low"})

	spec := map[string]any{
		"objectType": "task",
		"properties": map[string]any{"priority": "high"},
		"sort":       map[string]any{"field": "createdAt", "order": "desc"},
		"limit":      3,
	}
	w := do(t, router, http.MethodPost, "/queries", map[string]any{"title": "Top", "spec": spec})
	if w.Code != http.StatusCreated {
		t.Fatalf("create query = %d, body = %s", w.Code, w.Body.String())
	}
	saved := decode[models.Object](t, w)

	w = do(t, router, http.MethodPost, "/queries/"+saved.ID+"/execute", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("execute = %d, body = %s", w.Code, w.Body.String())
	}
	executed := decode[ObjectsResponse](t, w).Objects
	want := []string{high[4], high[3], high[2]}
	if len(executed) != 3 {
		t.Fatalf("executed = %d results", len(executed))
	}
	for i := range want {
		if executed[i].ID != want[i] {
			t.Errorf("executed[%d] = %s, want %s", i, executed[i].ID, want[i])
		}
	}

	w = do(t, router, http.MethodPost, "/queries/test", spec)
	tested := decode[ObjectsResponse](t, w).Objects
	if !bytes.Equal(mustJSON(t, tested), mustJSON(t, executed)) {
		t.Error("test and execute results differ")
	}

	w = do(t, router, http.MethodPost, "/queries/test", map[string]any{"limit": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid spec = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/queries/"+high[0]+"/execute", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("execute non-query = %d, want 404", w.Code)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodPost, "/objects", map[string]any{"type": "note", "title": "x"},
		"Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/objects", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/objects", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/objects", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	_, router := testEnvFull(t, true, "secret", broker)

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	_, router := testEnvFull(t, true, "tok", broker)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}
