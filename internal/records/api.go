package records

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// API serves the records tables read-only over HTTP for dashboards and
// manual inspection. Writes only happen through the assistant tools.
type API struct {
	store *Store
}

// NewAPI wraps a store for HTTP access.
func NewAPI(store *Store) *API {
	return &API{store: store}
}

// Routes returns a router mountable under /api.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/diaries", a.listDiaries)
	r.Get("/diaries/{id}", a.getDiary)
	r.Get("/chat_memories", a.listChatMemories)
	r.Get("/milestones", a.listMilestones)
	r.Get("/promises", a.listPromises)
	r.Get("/wishlists", a.listWishlists)
	return r
}

func (a *API) listDiaries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	diaries, err := a.store.RecentDiaries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"diaries": emptyIfNil(diaries)})
}

func (a *API) getDiary(w http.ResponseWriter, r *http.Request) {
	d, err := a.store.GetDiary(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, d)
}

func (a *API) listChatMemories(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	memories, err := a.store.ListChatMemories(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"chat_memories": emptyIfNil(memories)})
}

func (a *API) listMilestones(w http.ResponseWriter, r *http.Request) {
	milestones, err := a.store.ListMilestones(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"milestones": emptyIfNil(milestones)})
}

func (a *API) listPromises(w http.ResponseWriter, r *http.Request) {
	promises, err := a.store.ListPromises(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"promises": emptyIfNil(promises)})
}

func (a *API) listWishlists(w http.ResponseWriter, r *http.Request) {
	wishes, err := a.store.ListWishlists(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"wishlists": emptyIfNil(wishes)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// emptyIfNil keeps list responses as [] instead of null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
