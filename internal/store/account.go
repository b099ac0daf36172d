package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/twogether/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var coupleID sql.NullInt64
	err := scanner.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.AvatarURL, &coupleID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if coupleID.Valid {
		a.CoupleID = &coupleID.Int64
	}
	return &a, nil
}

const accountCols = `id, email, password_hash, name, avatar_url, couple_id, created_at, updated_at`

func (s *AccountStore) Create(ctx context.Context, email, passwordHash, name, avatarURL string) (*model.Account, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (email, password_hash, name, avatar_url) VALUES (?, ?, ?, ?)`,
		email, passwordHash, name, avatarURL,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AccountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// UpdateProfile changes the display fields of an account. The couple
// reference is owned by CoupleStore and never written here.
func (s *AccountStore) UpdateProfile(ctx context.Context, id int64, name, avatarURL string) (*model.Account, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET name = ?, avatar_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, avatarURL, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update account profile: %w", err)
	}
	return s.GetByID(ctx, id)
}
