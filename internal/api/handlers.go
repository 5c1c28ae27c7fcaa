package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/objectservice"
	"github.com/starford/ansuz/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	svc *objectservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *objectservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListObjects handles GET /api/objects.
//
//	@Summary		List objects, newest first
//	@Tags			objects
//	@Produce		json
//	@Param			type		query		string	false	"Filter by object type"
//	@Param			archived	query		bool	false	"List archived objects instead"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	ObjectPage
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects [get]
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	f := store.ListFilter{Type: models.ObjectType(q.Get("type"))}
	if raw := q.Get("archived"); raw != "" {
		archived, err := parseBool(raw)
		if err != nil {
			writeError(w, r, "list objects", apperr.Validation("archived: %v", err))
			return
		}
		f.Archived = &archived
	}

	page, err := h.svc.ListObjects(r.Context(), f, limit, offset)
	if err != nil {
		writeError(w, r, "list objects", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateObject handles POST /api/objects.
//
//	@Summary		Create an object
//	@Description	Non daily-note objects are linked to today's daily note.
//	@Tags			objects
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateObjectRequest	true	"Object to create"
//	@Success		201		{object}	models.Object
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects [post]
func (h *Handler) CreateObject(w http.ResponseWriter, r *http.Request) {
	var req CreateObjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create object", err)
		return
	}
	obj, err := h.svc.CreateObject(r.Context(), req.toStore())
	if err != nil {
		writeError(w, r, "create object", err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}

// GetObject handles GET /api/objects/{id}.
//
//	@Summary		Get an object by id
//	@Tags			objects
//	@Produce		json
//	@Param			id	path		string	true	"Object id"
//	@Success		200	{object}	models.Object
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id} [get]
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	obj, err := h.svc.GetObject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get object", err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// UpdateObject handles PATCH /api/objects/{id}.
//
//	@Summary		Partially update an object
//	@Tags			objects
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Object id"
//	@Param			body	body		UpdateObjectRequest	true	"Fields to change"
//	@Success		200		{object}	models.Object
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id} [patch]
func (h *Handler) UpdateObject(w http.ResponseWriter, r *http.Request) {
	var req UpdateObjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "update object", err)
		return
	}
	obj, err := h.svc.UpdateObject(r.Context(), chi.URLParam(r, "id"), store.Patch{
		Title:      req.Title,
		Content:    req.Content,
		Properties: req.Properties,
	})
	if err != nil {
		writeError(w, r, "update object", err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// ArchiveObject handles POST /api/objects/{id}/archive.
//
//	@Summary		Archive or restore an object
//	@Tags			objects
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Object id"
//	@Param			body	body		ArchiveRequest	true	"Archive flag"
//	@Success		200		{object}	models.Object
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id}/archive [post]
func (h *Handler) ArchiveObject(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "archive object", err)
		return
	}
	obj, err := h.svc.ArchiveObject(r.Context(), chi.URLParam(r, "id"), *req.Archived)
	if err != nil {
		writeError(w, r, "archive object", err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// DeleteObject handles DELETE /api/objects/{id}.
//
//	@Summary		Delete an object and every relation touching it
//	@Tags			objects
//	@Param			id	path	string	true	"Object id"
//	@Success		204	"Object deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id} [delete]
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteObject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "delete object", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ObjectRelations handles GET /api/objects/{id}/relations.
//
//	@Summary		List relations touching an object
//	@Tags			relations
//	@Produce		json
//	@Param			id			path		string	true	"Object id"
//	@Param			direction	query		string	false	"Edge direction"	Enums(from, to, both)
//	@Param			type		query		string	false	"Relation type"
//	@Success		200			{object}	RelationsResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id}/relations [get]
func (h *Handler) ObjectRelations(w http.ResponseWriter, r *http.Request) {
	dir, relType := edgeFilter(r)
	rels, err := h.svc.FindRelations(r.Context(), chi.URLParam(r, "id"), dir, relType)
	if err != nil {
		writeError(w, r, "find relations", err)
		return
	}
	writeJSON(w, http.StatusOK, RelationsResponse{Relations: rels})
}

// RelatedObjects handles GET /api/objects/{id}/related.
//
//	@Summary		List objects at the other end of an object's relations
//	@Tags			relations
//	@Produce		json
//	@Param			id			path		string	true	"Object id"
//	@Param			direction	query		string	false	"Edge direction"	Enums(from, to, both)
//	@Param			type		query		string	false	"Relation type"
//	@Success		200			{object}	ObjectsResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id}/related [get]
func (h *Handler) RelatedObjects(w http.ResponseWriter, r *http.Request) {
	dir, relType := edgeFilter(r)
	objs, err := h.svc.RelatedObjects(r.Context(), chi.URLParam(r, "id"), dir, relType)
	if err != nil {
		writeError(w, r, "related objects", err)
		return
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{Objects: objs})
}

func edgeFilter(r *http.Request) (models.Direction, models.RelationType) {
	q := r.URL.Query()
	dir := models.Direction(q.Get("direction"))
	if dir == "" {
		dir = models.DirectionBoth
	}
	return dir, models.RelationType(q.Get("type"))
}
