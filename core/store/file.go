package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/database"
	"github.com/adalundhe/notepatch/core/versioning"
)

const defaultFileLockTimeout = 5 * time.Second

// FileStore treats markdown files under a root directory as notes. A note
// ref is a slash-separated path relative to the root. Versions are content
// tokens, and writers on the same file are serialized by an advisory lock.
type FileStore struct {
	root        string
	lockDir     string
	lockTimeout time.Duration
}

func NewFileStore(root, lockDir string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if lockDir == "" {
		lockDir = filepath.Join(abs, ".notepatch", "locks")
	}
	return &FileStore{root: abs, lockDir: lockDir, lockTimeout: defaultFileLockTimeout}, nil
}

func (s *FileStore) Root() string {
	return s.root
}

// path maps a ref onto the filesystem, refusing anything that escapes root.
func (s *FileStore) path(noteRef string) (string, error) {
	if noteRef == "" {
		return "", ErrInvalidRef
	}
	p := filepath.Join(s.root, filepath.FromSlash(noteRef))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, noteRef)
	}
	return p, nil
}

func (s *FileStore) Get(ctx context.Context, noteRef string) (content.Document, error) {
	if err := ctx.Err(); err != nil {
		return content.Document{}, err
	}
	p, err := s.path(noteRef)
	if err != nil {
		return content.Document{}, err
	}
	return readDocument(p)
}

func readDocument(p string) (content.Document, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return content.Document{}, ErrNoteNotFound
	}
	if err != nil {
		return content.Document{}, err
	}
	text := string(data)
	return content.Document{Text: text, Version: versioning.ContentToken(text)}, nil
}

func (s *FileStore) Put(ctx context.Context, noteRef, text, expectedVersion string) (string, error) {
	p, err := s.path(noteRef)
	if err != nil {
		return "", err
	}

	lock, err := database.NewAdvisoryLock(s.lockDir, lockName(p))
	if err != nil {
		return "", fmt.Errorf("create lock: %w", err)
	}
	if err := lock.Acquire(ctx, s.lockTimeout); err != nil {
		return "", fmt.Errorf("lock %s: %w", noteRef, err)
	}
	defer lock.Release()

	current, err := readDocument(p)
	if err != nil {
		return "", err
	}
	if err := checkVersion(current.Version, expectedVersion); err != nil {
		return "", err
	}

	if err := writeAtomic(p, []byte(text)); err != nil {
		return "", err
	}
	return versioning.ContentToken(text), nil
}

func (s *FileStore) Create(ctx context.Context, id, _ string, text string) (content.Document, error) {
	if err := ctx.Err(); err != nil {
		return content.Document{}, err
	}
	p, err := s.path(id)
	if err != nil {
		return content.Document{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return content.Document{}, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return content.Document{}, ErrNoteExists
	}
	if err != nil {
		return content.Document{}, err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return content.Document{}, err
	}
	if err := f.Close(); err != nil {
		return content.Document{}, err
	}
	return content.Document{Text: text, Version: versioning.ContentToken(text)}, nil
}

// List walks the root for markdown files, skipping dot directories.
func (s *FileStore) List(ctx context.Context) ([]NoteInfo, error) {
	var infos []NoteInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isMarkdown(d.Name()) {
			return nil
		}
		doc, err := readDocument(p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.root, p)
		infos = append(infos, NoteInfo{
			ID:        filepath.ToSlash(rel),
			Version:   doc.Version,
			Size:      utf8.RuneCountInString(doc.Text),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func isMarkdown(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func lockName(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:8])
}

func writeAtomic(p string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(p); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		cleanup()
		return err
	}
	return nil
}
