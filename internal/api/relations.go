package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// CreateRelation handles POST /api/relations.
//
//	@Summary		Create a typed relation between two objects
//	@Tags			relations
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRelationRequest	true	"Relation to create"
//	@Success		201		{object}	models.Relation
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations [post]
func (h *Handler) CreateRelation(w http.ResponseWriter, r *http.Request) {
	var req CreateRelationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create relation", err)
		return
	}
	rel, err := h.svc.CreateRelation(r.Context(), store.NewRelation{
		FromID:   req.FromObjectID,
		ToID:     req.ToObjectID,
		Type:     req.RelationType,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, "create relation", err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// GetRelation handles GET /api/relations/{id}.
//
//	@Summary		Get a relation by id
//	@Tags			relations
//	@Produce		json
//	@Param			id	path		string	true	"Relation id"
//	@Success		200	{object}	models.Relation
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/{id} [get]
func (h *Handler) GetRelation(w http.ResponseWriter, r *http.Request) {
	rel, err := h.svc.GetRelation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get relation", err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// RelationExists handles GET /api/relations/exists.
//
//	@Summary		Check whether a directed relation exists
//	@Tags			relations
//	@Produce		json
//	@Param			from	query		string	true	"Source object id"
//	@Param			to		query		string	true	"Target object id"
//	@Param			type	query		string	true	"Relation type"
//	@Success		200		{object}	ExistsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/exists [get]
func (h *Handler) RelationExists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, relType := q.Get("from"), q.Get("to"), models.RelationType(q.Get("type"))
	if from == "" || to == "" || !relType.Valid() {
		writeError(w, r, "relation exists", apperr.Validation("from, to and a valid type are required"))
		return
	}
	ok, err := h.svc.RelationExists(r.Context(), from, to, relType)
	if err != nil {
		writeError(w, r, "relation exists", err)
		return
	}
	writeJSON(w, http.StatusOK, ExistsResponse{Exists: ok})
}

// DeleteRelations handles DELETE /api/relations.
//
//	@Summary		Delete every relation matching the criteria
//	@Description	At least one criterion is required.
//	@Tags			relations
//	@Produce		json
//	@Param			id		query		string	false	"Relation id"
//	@Param			from	query		string	false	"Source object id"
//	@Param			to		query		string	false	"Target object id"
//	@Param			type	query		string	false	"Relation type"
//	@Success		200		{object}	DeletedResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations [delete]
func (h *Handler) DeleteRelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := h.svc.DeleteRelations(r.Context(), store.Criteria{
		ID:     q.Get("id"),
		FromID: q.Get("from"),
		ToID:   q.Get("to"),
		Type:   models.RelationType(q.Get("type")),
	})
	if err != nil {
		writeError(w, r, "delete relations", err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Deleted: n})
}

// DeleteRelation handles DELETE /api/relations/{id}.
//
//	@Summary		Delete a single relation
//	@Tags			relations
//	@Param			id	path	string	true	"Relation id"
//	@Success		204	"Relation deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/relations/{id} [delete]
func (h *Handler) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.DeleteRelations(r.Context(), store.Criteria{ID: id})
	if err != nil {
		writeError(w, r, "delete relation", err)
		return
	}
	if n == 0 {
		writeError(w, r, "delete relation", apperr.NotFound("relation", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ObjectTags handles GET /api/objects/{id}/tags.
//
//	@Summary		List the tags of an object
//	@Tags			tags
//	@Produce		json
//	@Param			id	path		string	true	"Object id"
//	@Success		200	{object}	ObjectsResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id}/tags [get]
func (h *Handler) ObjectTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.TagsOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "object tags", err)
		return
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{Objects: tags})
}

// TagObject handles POST /api/objects/{id}/tags.
//
//	@Summary		Tag an object
//	@Description	Pass tagId for an existing tag or title to create the tag on demand.
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Object id"
//	@Param			body	body		TagRequest	true	"Tag"
//	@Success		201		{object}	models.Relation
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id}/tags [post]
func (h *Handler) TagObject(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "tag object", err)
		return
	}
	tagID := req.TagID
	if tagID == "" {
		tag, err := h.svc.EnsureTag(r.Context(), req.Title)
		if err != nil {
			writeError(w, r, "tag object", err)
			return
		}
		tagID = tag.ID
	}
	rel, err := h.svc.TagObject(r.Context(), chi.URLParam(r, "id"), tagID)
	if err != nil {
		writeError(w, r, "tag object", err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// UntagObject handles DELETE /api/objects/{id}/tags/{tagId}.
//
//	@Summary		Remove a tag from an object
//	@Tags			tags
//	@Param			id		path	string	true	"Object id"
//	@Param			tagId	path	string	true	"Tag object id"
//	@Success		204		"Tag removed"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id}/tags/{tagId} [delete]
func (h *Handler) UntagObject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UntagObject(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tagId")); err != nil {
		writeError(w, r, "untag object", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ObjectsByTag handles GET /api/tags/{id}/objects.
//
//	@Summary		List the objects carrying a tag
//	@Tags			tags
//	@Produce		json
//	@Param			id	path		string	true	"Tag object id"
//	@Success		200	{object}	ObjectsResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/{id}/objects [get]
func (h *Handler) ObjectsByTag(w http.ResponseWriter, r *http.Request) {
	objs, err := h.svc.ObjectsByTag(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "objects by tag", err)
		return
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{Objects: objs})
}

// CollectionMembers handles GET /api/collections/{id}/members.
//
//	@Summary		List the members of a collection
//	@Tags			collections
//	@Produce		json
//	@Param			id	path		string	true	"Collection object id"
//	@Success		200	{object}	ObjectsResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/collections/{id}/members [get]
func (h *Handler) CollectionMembers(w http.ResponseWriter, r *http.Request) {
	objs, err := h.svc.CollectionMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "collection members", err)
		return
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{Objects: objs})
}

// AddToCollection handles POST /api/collections/{id}/members.
//
//	@Summary		Add an object to a collection
//	@Tags			collections
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Collection object id"
//	@Param			body	body		MemberRequest	true	"Member"
//	@Success		201		{object}	models.Relation
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/collections/{id}/members [post]
func (h *Handler) AddToCollection(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "add to collection", err)
		return
	}
	rel, err := h.svc.AddToCollection(r.Context(), req.ObjectID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "add to collection", err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// RemoveFromCollection handles DELETE /api/collections/{id}/members/{objectId}.
//
//	@Summary		Remove an object from a collection
//	@Tags			collections
//	@Param			id			path	string	true	"Collection object id"
//	@Param			objectId	path	string	true	"Member object id"
//	@Success		204			"Member removed"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/collections/{id}/members/{objectId} [delete]
func (h *Handler) RemoveFromCollection(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveFromCollection(r.Context(), chi.URLParam(r, "objectId"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "remove from collection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
