package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mjelva/kbase/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Tree and metadata reads.
	r.Get("/tree", h.Tree)
	r.Get("/meta/*", h.Metadata)

	// Name search.
	r.Get("/search", h.Search)

	// Notes CRUD.
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)

	// Directories.
	r.Post("/dirs", h.CreateDir)
	r.Delete("/dirs/*", h.DeleteDir)

	// Move and copy work on files and directories alike.
	r.Post("/move", h.Move)
	r.Post("/copy", h.Copy)

	// Index operations.
	r.Post("/index/rebuild", h.Rebuild)
	r.Get("/index/health", h.Health)

	// SSE change feed (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
