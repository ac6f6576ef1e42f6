package api

import (
	"github.com/mjelva/kbase/internal/index"
	"github.com/mjelva/kbase/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content"`
}

// CreateDirRequest is the request body for creating a directory.
type CreateDirRequest struct {
	Path string `json:"path"`
}

// TransferRequest is the request body for move and copy operations.
type TransferRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// SearchResponse wraps name-search results.
type SearchResponse struct {
	Results []index.Node `json:"results"`
	Total   int          `json:"total"`
}

// RebuildResponse reports the node count after a forced rebuild.
type RebuildResponse struct {
	Count int `json:"count"`
}
