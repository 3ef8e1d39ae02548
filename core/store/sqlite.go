package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/database"
	"github.com/adalundhe/notepatch/core/versioning"
)

var noteMigrations = []database.Migration{
	{
		Version:     1,
		Description: "create notes",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS notes (
				id TEXT PRIMARY KEY,
				slug TEXT UNIQUE,
				content TEXT NOT NULL,
				revision INTEGER NOT NULL,
				version TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at)`,
		},
	},
}

// SQLiteStore persists notes in a SQLite database. Writes bump a revision
// counter and are guarded by a conditional UPDATE.
type SQLiteStore struct {
	pool *database.Pool
	now  func() time.Time
}

// OpenSQLiteStore opens the database at path and migrates it.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	pool, err := database.Open(path, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("open notes db: %w", err)
	}
	s, err := NewSQLiteStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(ctx context.Context, pool *database.Pool) (*SQLiteStore, error) {
	if err := database.NewMigrator(pool, noteMigrations).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate notes db: %w", err)
	}
	return &SQLiteStore{pool: pool, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, id, slug, text string) (content.Document, error) {
	if id == "" {
		return content.Document{}, ErrInvalidRef
	}

	version := versioning.RevisionToken(text, 1)
	err := s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM notes WHERE id IN (?, ?) OR slug IN (?, ?)`,
			id, slug, id, slug,
		).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrNoteExists
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notes (id, slug, content, revision, version, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
			id, nullable(slug), text, version, s.now().UnixMilli(),
		)
		return err
	})
	if err != nil {
		return content.Document{}, err
	}
	return content.Document{Text: text, Version: version}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, noteRef string) (content.Document, error) {
	var doc content.Document
	err := s.pool.QueryRow(ctx,
		`SELECT content, version FROM notes WHERE id = ? OR slug = ? LIMIT 1`,
		[]any{noteRef, noteRef},
		&doc.Text, &doc.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Document{}, ErrNoteNotFound
	}
	if err != nil {
		return content.Document{}, fmt.Errorf("get note %s: %w", noteRef, err)
	}
	return doc, nil
}

func (s *SQLiteStore) Put(ctx context.Context, noteRef, text, expectedVersion string) (string, error) {
	var newVersion string
	err := s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		var id, current string
		var revision int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, revision, version FROM notes WHERE id = ? OR slug = ? LIMIT 1`,
			noteRef, noteRef,
		).Scan(&id, &revision, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoteNotFound
		}
		if err != nil {
			return err
		}
		if err := checkVersion(current, expectedVersion); err != nil {
			return err
		}

		newVersion = versioning.RevisionToken(text, revision+1)
		res, err := tx.ExecContext(ctx,
			`UPDATE notes SET content = ?, revision = ?, version = ?, updated_at = ? WHERE id = ? AND revision = ?`,
			text, revision+1, newVersion, s.now().UnixMilli(), id, revision,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newVersion, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]NoteInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(slug, ''), version, content, updated_at FROM notes ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var infos []NoteInfo
	for rows.Next() {
		var info NoteInfo
		var text string
		var updated int64
		if err := rows.Scan(&info.ID, &info.Slug, &info.Version, &text, &updated); err != nil {
			return nil, err
		}
		info.Size = len([]rune(text))
		info.UpdatedAt = time.UnixMilli(updated)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
