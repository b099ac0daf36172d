package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/twogether/internal/model"
)

type NoteStore struct {
	db *sql.DB
}

func NewNoteStore(db *sql.DB) *NoteStore {
	return &NoteStore{db: db}
}

func scanNote(scanner interface{ Scan(...any) error }) (*model.Note, error) {
	var n model.Note
	var pinned int

	err := scanner.Scan(&n.ID, &n.CoupleID, &n.Content, &pinned, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Pinned = pinned != 0
	return &n, nil
}

const noteCols = `id, couple_id, content, pinned, created_by, created_at, updated_at`

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *NoteStore) Create(ctx context.Context, coupleID, createdBy int64, content string, pinned bool) (*model.Note, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (couple_id, content, pinned, created_by) VALUES (?, ?, ?, ?)`,
		coupleID, content, boolInt(pinned), createdBy,
	)
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, coupleID, id)
}

func (s *NoteStore) GetByID(ctx context.Context, coupleID, id int64) (*model.Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteCols+` FROM notes WHERE id = ? AND couple_id = ?`, id, coupleID)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// List returns a couple's notes, pinned first, newest first.
func (s *NoteStore) List(ctx context.Context, coupleID int64) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+noteCols+` FROM notes WHERE couple_id = ? ORDER BY pinned DESC, created_at DESC, id DESC`,
		coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := []model.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// Update replaces a note's content and pin state. It returns nil if the note
// does not exist in the couple.
func (s *NoteStore) Update(ctx context.Context, coupleID, id int64, content string, pinned bool) (*model.Note, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notes SET content = ?, pinned = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND couple_id = ?`,
		content, boolInt(pinned), id, coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, coupleID, id)
}

func (s *NoteStore) Delete(ctx context.Context, coupleID, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND couple_id = ?`, id, coupleID)
	if err != nil {
		return false, fmt.Errorf("delete note: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
