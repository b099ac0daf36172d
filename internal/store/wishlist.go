package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/twogether/internal/model"
)

type WishlistStore struct {
	db *sql.DB
}

func NewWishlistStore(db *sql.DB) *WishlistStore {
	return &WishlistStore{db: db}
}

// WishlistInput holds the writable fields of a wishlist item.
type WishlistInput struct {
	Title       string
	Description string
	LinkURL     string
	ImageURL    string
	RecipientID *int64
	Status      string
}

func scanWishlistItem(scanner interface{ Scan(...any) error }) (*model.WishlistItem, error) {
	var w model.WishlistItem
	var recipientID sql.NullInt64

	err := scanner.Scan(
		&w.ID, &w.CoupleID, &w.Title, &w.Description, &w.LinkURL, &w.ImageURL,
		&recipientID, &w.AddedBy, &w.Status, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if recipientID.Valid {
		w.RecipientID = &recipientID.Int64
	}
	return &w, nil
}

const wishlistCols = `id, couple_id, title, description, link_url, image_url, recipient_id, added_by, status, created_at, updated_at`

func (s *WishlistStore) Create(ctx context.Context, coupleID, addedBy int64, in WishlistInput) (*model.WishlistItem, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO wishlist_items (couple_id, title, description, link_url, image_url, recipient_id, added_by, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		coupleID, in.Title, in.Description, in.LinkURL, in.ImageURL, nullInt64(in.RecipientID), addedBy, in.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert wishlist item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, coupleID, id)
}

func (s *WishlistStore) GetByID(ctx context.Context, coupleID, id int64) (*model.WishlistItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+wishlistCols+` FROM wishlist_items WHERE id = ? AND couple_id = ?`, id, coupleID)
	w, err := scanWishlistItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wishlist item: %w", err)
	}
	return w, nil
}

func (s *WishlistStore) List(ctx context.Context, coupleID int64) ([]model.WishlistItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+wishlistCols+` FROM wishlist_items WHERE couple_id = ? ORDER BY created_at DESC, id DESC`,
		coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list wishlist items: %w", err)
	}
	defer rows.Close()

	items := []model.WishlistItem{}
	for rows.Next() {
		w, err := scanWishlistItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		items = append(items, *w)
	}
	return items, rows.Err()
}

func (s *WishlistStore) Update(ctx context.Context, coupleID, id int64, in WishlistInput) (*model.WishlistItem, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE wishlist_items SET title = ?, description = ?, link_url = ?, image_url = ?, recipient_id = ?, status = ?,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND couple_id = ?`,
		in.Title, in.Description, in.LinkURL, in.ImageURL, nullInt64(in.RecipientID), in.Status, id, coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("update wishlist item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, coupleID, id)
}

func (s *WishlistStore) Delete(ctx context.Context, coupleID, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM wishlist_items WHERE id = ? AND couple_id = ?`, id, coupleID)
	if err != nil {
		return false, fmt.Errorf("delete wishlist item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
