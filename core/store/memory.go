package store

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/versioning"
)

type memNote struct {
	id       string
	slug     string
	text     string
	revision int64
	version  string
	updated  time.Time
}

// MemoryStore keeps notes in process. Notes can be addressed by id or slug.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]*memNote
	slugs map[string]string
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes: make(map[string]*memNote),
		slugs: make(map[string]string),
		now:   time.Now,
	}
}

func (s *MemoryStore) lookup(ref string) (*memNote, bool) {
	if n, ok := s.notes[ref]; ok {
		return n, true
	}
	if id, ok := s.slugs[ref]; ok {
		return s.notes[id], true
	}
	return nil, false
}

func (s *MemoryStore) Create(ctx context.Context, id, slug, text string) (content.Document, error) {
	if err := ctx.Err(); err != nil {
		return content.Document{}, err
	}
	if id == "" {
		return content.Document{}, ErrInvalidRef
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lookup(id); exists {
		return content.Document{}, ErrNoteExists
	}
	if slug != "" {
		if _, exists := s.lookup(slug); exists {
			return content.Document{}, ErrNoteExists
		}
		s.slugs[slug] = id
	}

	n := &memNote{id: id, slug: slug, text: text, revision: 1, updated: s.now()}
	n.version = versioning.RevisionToken(text, n.revision)
	s.notes[id] = n
	return content.Document{Text: n.text, Version: n.version}, nil
}

func (s *MemoryStore) Get(ctx context.Context, noteRef string) (content.Document, error) {
	if err := ctx.Err(); err != nil {
		return content.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.lookup(noteRef)
	if !ok {
		return content.Document{}, ErrNoteNotFound
	}
	return content.Document{Text: n.text, Version: n.version}, nil
}

func (s *MemoryStore) Put(ctx context.Context, noteRef, text, expectedVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.lookup(noteRef)
	if !ok {
		return "", ErrNoteNotFound
	}
	if err := checkVersion(n.version, expectedVersion); err != nil {
		return "", err
	}

	n.text = text
	n.revision++
	n.version = versioning.RevisionToken(text, n.revision)
	n.updated = s.now()
	return n.version, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]NoteInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]NoteInfo, 0, len(s.notes))
	for _, n := range s.notes {
		infos = append(infos, NoteInfo{
			ID:        n.id,
			Slug:      n.slug,
			Version:   n.version,
			Size:      utf8.RuneCountInString(n.text),
			UpdatedAt: n.updated,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}
