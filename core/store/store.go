// Package store holds the document stores the engine reads notes from and
// commits edited text to. Every store implements compare-and-swap on the
// note's version token.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/versioning"
)

var (
	ErrNoteNotFound    = errors.New("note not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrNoteExists      = errors.New("note already exists")
	ErrInvalidRef      = errors.New("invalid note reference")
)

// DocumentStore is the persistence the engine consumes.
type DocumentStore interface {
	Get(ctx context.Context, noteRef string) (content.Document, error)
	// Put replaces the note text when expectedVersion still matches the
	// stored version, returning the new version. An empty expectedVersion
	// skips the check.
	Put(ctx context.Context, noteRef, text, expectedVersion string) (string, error)
}

type NoteInfo struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug,omitempty"`
	Version   string    `json:"version"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lister is implemented by stores that can enumerate their notes.
type Lister interface {
	List(ctx context.Context) ([]NoteInfo, error)
}

// Creator is implemented by stores that own note identity.
type Creator interface {
	Create(ctx context.Context, id, slug, text string) (content.Document, error)
}

// checkVersion reports ErrVersionConflict when expected is set and differs
// from current.
func checkVersion(current, expected string) error {
	if expected == "" || versioning.TokensMatch(current, expected) {
		return nil
	}
	return ErrVersionConflict
}
