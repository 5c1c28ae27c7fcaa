package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/objectservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *objectservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/objects", func(r chi.Router) {
		r.Get("/", h.ListObjects)
		r.Post("/", h.CreateObject)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetObject)
			r.Patch("/", h.UpdateObject)
			r.Delete("/", h.DeleteObject)
			r.Post("/archive", h.ArchiveObject)
			r.Get("/relations", h.ObjectRelations)
			r.Get("/related", h.RelatedObjects)
			r.Get("/tags", h.ObjectTags)
			r.Post("/tags", h.TagObject)
			r.Delete("/tags/{tagId}", h.UntagObject)
		})
	})


	r.Route("/relations", func(r chi.Router) {
		r.Post("/", h.CreateRelation)
		r.Delete("/", h.DeleteRelations)
		r.Get("/exists", h.RelationExists)
		r.Get("/{id}", h.GetRelation)
		r.Delete("/{id}", h.DeleteRelation)
	})

	r.Get("/tags/{id}/objects", h.ObjectsByTag)

	r.Route("/collections/{id}/members", func(r chi.Router) {
		r.Get("/", h.CollectionMembers)
		r.Post("/", h.AddToCollection)
		r.Delete("/{objectId}", h.RemoveFromCollection)
	})

	r.Get("/daily-notes/{date}", h.DailyNote)
	r.Get("/timeline/{date}", h.Timeline)

	r.Route("/queries", func(r chi.Router) {
		r.Post("/", h.CreateQuery)
		r.Post("/test", h.TestQuery)
		r.Post("/{id}/execute", h.ExecuteQuery)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
