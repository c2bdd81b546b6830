// Package media defines the collaborator interfaces for track search
// and audio resolution. The room subsystem never calls these; they back
// the HTTP surface only.
package media

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("media not found")

// Meta describes a resolved audio stream.
type Meta struct {
	Title         string
	Duration      float64
	ContentType   string
	ContentLength int64
}

// Track is one search result.
type Track struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// Resolver turns an external content id into a playable audio stream.
// May be slow or fail; callers own the returned stream.
type Resolver interface {
	Resolve(ctx context.Context, id string) (io.ReadCloser, Meta, error)
}

// Searcher returns ranked track candidates for a text query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Track, error)
}
