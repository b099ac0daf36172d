package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/twogether/internal/model"
)

// CoupleStore is the tenancy registry: invite code to couple, and account to
// couple membership. It is the only writer of couple member lists, invite
// codes and accounts.couple_id.
type CoupleStore struct {
	db *sql.DB
}

func NewCoupleStore(db *sql.DB) *CoupleStore {
	return &CoupleStore{db: db}
}

func scanCouple(scanner interface{ Scan(...any) error }) (*model.Couple, error) {
	var c model.Couple
	err := scanner.Scan(&c.ID, &c.InviteCode, &c.MemberCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const coupleCols = `id, invite_code, member_count, created_at, updated_at`

func (s *CoupleStore) GetByID(ctx context.Context, id int64) (*model.Couple, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+coupleCols+` FROM couples WHERE id = ?`, id)
	c, err := scanCouple(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get couple: %w", err)
	}
	return c, nil
}

func (s *CoupleStore) GetByInviteCode(ctx context.Context, code string) (*model.Couple, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+coupleCols+` FROM couples WHERE invite_code = ?`, code)
	c, err := scanCouple(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get couple by invite code: %w", err)
	}
	return c, nil
}

// ListMembers returns the members of a couple in join order.
func (s *CoupleStore) ListMembers(ctx context.Context, coupleID int64) ([]model.CoupleMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.name, a.email, a.avatar_url, cm.joined_at
		 FROM couple_members cm
		 JOIN accounts a ON a.id = cm.account_id
		 WHERE cm.couple_id = ?
		 ORDER BY cm.joined_at ASC, cm.id ASC`,
		coupleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list couple members: %w", err)
	}
	defer rows.Close()

	var members []model.CoupleMember
	for rows.Next() {
		var m model.CoupleMember
		if err := rows.Scan(&m.AccountID, &m.Name, &m.Email, &m.AvatarURL, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan couple member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateWithMember creates a couple holding inviteCode with accountID as its
// first member. The couple row, the member row, the account's couple
// reference and the account's push subscriptions are written in one
// transaction.
func (s *CoupleStore) CreateWithMember(ctx context.Context, accountID int64, inviteCode string) (*model.Couple, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureUnpaired(ctx, tx, accountID); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO couples (invite_code, member_count) VALUES (?, 1)`,
		inviteCode,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrInviteCodeTaken
		}
		return nil, fmt.Errorf("insert couple: %w", err)
	}
	coupleID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := addMember(ctx, tx, coupleID, accountID); err != nil {
		return nil, err
	}

	c, err := scanCouple(tx.QueryRowContext(ctx, `SELECT `+coupleCols+` FROM couples WHERE id = ?`, coupleID))
	if err != nil {
		return nil, fmt.Errorf("read couple: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit couple: %w", err)
	}
	return c, nil
}

// Join admits accountID into the couple holding inviteCode. The capacity
// check is a conditional increment of member_count executed in the same
// transaction as the membership writes, so concurrent joins against a couple
// with one member admit at most one account.
func (s *CoupleStore) Join(ctx context.Context, accountID int64, inviteCode string) (*model.Couple, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureUnpaired(ctx, tx, accountID); err != nil {
		return nil, err
	}

	var coupleID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM couples WHERE invite_code = ?`, inviteCode).Scan(&coupleID)
	if err == sql.ErrNoRows {
		return nil, ErrCoupleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve invite code: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE couples SET member_count = member_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND member_count < ?`,
		coupleID, model.MaxCoupleMembers,
	)
	if err != nil {
		return nil, fmt.Errorf("reserve couple seat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrCoupleFull
	}

	if err := addMember(ctx, tx, coupleID, accountID); err != nil {
		return nil, err
	}

	c, err := scanCouple(tx.QueryRowContext(ctx, `SELECT `+coupleCols+` FROM couples WHERE id = ?`, coupleID))
	if err != nil {
		return nil, fmt.Errorf("read couple: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit join: %w", err)
	}
	return c, nil
}

// RotateInviteCode replaces the invite code of a couple in a single
// statement; the old code stops resolving as the new one starts.
func (s *CoupleStore) RotateInviteCode(ctx context.Context, coupleID int64, inviteCode string) (*model.Couple, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE couples SET invite_code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		inviteCode, coupleID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrInviteCodeTaken
		}
		return nil, fmt.Errorf("rotate invite code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrCoupleNotFound
	}
	return s.GetByID(ctx, coupleID)
}

func ensureUnpaired(ctx context.Context, tx *sql.Tx, accountID int64) error {
	var coupleID sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT couple_id FROM accounts WHERE id = ?`, accountID).Scan(&coupleID)
	if err != nil {
		return fmt.Errorf("read account couple: %w", err)
	}
	if coupleID.Valid {
		return ErrAccountPaired
	}
	return nil
}

// addMember writes the membership row and the account's back-reference, and
// moves the account's push subscriptions into the couple's scope.
func addMember(ctx context.Context, tx *sql.Tx, coupleID, accountID int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO couple_members (couple_id, account_id) VALUES (?, ?)`,
		coupleID, accountID,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrAccountPaired
		}
		return fmt.Errorf("insert couple member: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET couple_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND couple_id IS NULL`,
		coupleID, accountID,
	)
	if err != nil {
		return fmt.Errorf("set account couple: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccountPaired
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE push_subscriptions SET couple_id = ?, updated_at = CURRENT_TIMESTAMP WHERE account_id = ?`,
		coupleID, accountID,
	); err != nil {
		return fmt.Errorf("scope push subscriptions: %w", err)
	}
	return nil
}
