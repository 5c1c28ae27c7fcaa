package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/query"
)

// DailyNote handles GET /api/daily-notes/{date}.
//
//	@Summary		Get or create the daily note for a date
//	@Description	The date "today" resolves to the current UTC date.
//	@Tags			timeline
//	@Produce		json
//	@Param			date	path		string	true	"Date as YYYY-MM-DD or today"
//	@Success		200		{object}	models.Object
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/daily-notes/{date} [get]
func (h *Handler) DailyNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.DailyNote(r.Context(), dateParam(r))
	if err != nil {
		writeError(w, r, "daily note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Timeline handles GET /api/timeline/{date}.
//
//	@Summary		List the objects created on a date
//	@Tags			timeline
//	@Produce		json
//	@Param			date	path		string	true	"Date as YYYY-MM-DD or today"
//	@Param			via		query		string	false	"Read path"	Enums(index, graph)
//	@Success		200		{object}	TimelineResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/timeline/{date} [get]
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	date := dateParam(r)
	if date == "" {
		date = h.svc.Today()
	}
	objs, err := h.svc.Timeline(r.Context(), date, r.URL.Query().Get("via") == "graph")
	if err != nil {
		writeError(w, r, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, TimelineResponse{Date: date, Objects: objs})
}

func dateParam(r *http.Request) string {
	d := chi.URLParam(r, "date")
	if d == "today" {
		return ""
	}
	return d
}

// CreateQuery handles POST /api/queries.
//
//	@Summary		Save a query
//	@Tags			queries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateQueryRequest	true	"Query to save"
//	@Success		201		{object}	models.Object
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queries [post]
func (h *Handler) CreateQuery(w http.ResponseWriter, r *http.Request) {
	var req CreateQueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create query", err)
		return
	}
	obj, err := h.svc.CreateQuery(r.Context(), req.Title, req.Spec)
	if err != nil {
		writeError(w, r, "create query", err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}

// ExecuteQuery handles POST /api/queries/{id}/execute.
//
//	@Summary		Run a saved query
//	@Tags			queries
//	@Produce		json
//	@Param			id	path		string	true	"Query object id"
//	@Success		200	{object}	ObjectsResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queries/{id}/execute [post]
func (h *Handler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	objs, err := h.svc.ExecuteQuery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "execute query", err)
		return
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{Objects: objs})
}

// TestQuery handles POST /api/queries/test.
//
//	@Summary		Run a query specification without saving it
//	@Tags			queries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		query.Spec	true	"Query specification"
//	@Success		200		{object}	ObjectsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queries/test [post]
func (h *Handler) TestQuery(w http.ResponseWriter, r *http.Request) {
	var spec query.Spec
	if err := decodeJSON(w, r, &spec); err != nil {
		writeError(w, r, "test query", err)
		return
	}
	objs, err := h.svc.TestQuery(r.Context(), spec)
	if err != nil {
		writeError(w, r, "test query", err)
		return
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{Objects: objs})
}
