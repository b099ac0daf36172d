// Package pairing forms couples: it issues and rotates invite codes and
// admits a second account into a couple.
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/store"
)

var (
	ErrAlreadyPaired = errors.New("account is already paired")
	ErrNotPaired     = errors.New("account is not paired")
	ErrInvalidCode   = errors.New("invalid invite code")
	ErrTenantFull    = errors.New("couple already has two members")
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// Pairing is the result of creating or joining a couple.
type Pairing struct {
	CoupleID   int64  `json:"couple_id"`
	InviteCode string `json:"invite_code,omitempty"`
}

// Membership describes an account's couple, if any.
type Membership struct {
	Paired     bool                 `json:"paired"`
	CoupleID   int64                `json:"couple_id,omitempty"`
	InviteCode string               `json:"invite_code,omitempty"`
	Members    []model.CoupleMember `json:"members,omitempty"`
}

// Service is the only mutator of couple membership and invite codes.
type Service struct {
	couples  *store.CoupleStore
	accounts *store.AccountStore
	logger   *slog.Logger

	// newCode and backoff are replaceable in tests.
	newCode func() (string, error)
	backoff func() retry.Backoff
}

func NewService(couples *store.CoupleStore, accounts *store.AccountStore, logger *slog.Logger) *Service {
	return &Service{
		couples:  couples,
		accounts: accounts,
		logger:   logger.With("component", "pairing"),
		newCode:  GenerateCode,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewExponential(10*time.Millisecond))
		},
	}
}

// GenerateCode returns a random invite code drawn from A-Z0-9.
func GenerateCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeCode trims and upper-cases user supplied invite codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// retryable marks invite code collisions and lock contention for another
// attempt with a fresh code.
func retryable(err error) error {
	if errors.Is(err, store.ErrInviteCodeTaken) || store.IsBusy(err) {
		return retry.RetryableError(err)
	}
	return err
}

// CreateCouple creates a couple with accountID as its only member.
func (s *Service) CreateCouple(ctx context.Context, accountID int64) (*Pairing, error) {
	var couple *model.Couple
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		c, err := s.couples.CreateWithMember(ctx, accountID, code)
		if err != nil {
			return retryable(err)
		}
		couple = c
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrAccountPaired) {
			return nil, ErrAlreadyPaired
		}
		return nil, fmt.Errorf("create couple: %w", err)
	}

	s.logger.Info("couple created", "couple_id", couple.ID, "account_id", accountID)
	return &Pairing{CoupleID: couple.ID, InviteCode: couple.InviteCode}, nil
}

// RotateInviteCode gives the caller's couple a fresh invite code.
func (s *Service) RotateInviteCode(ctx context.Context, accountID int64) (string, error) {
	coupleID, err := s.coupleOf(ctx, accountID)
	if err != nil {
		return "", err
	}
	if coupleID == 0 {
		return "", ErrNotPaired
	}

	var couple *model.Couple
	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		c, err := s.couples.RotateInviteCode(ctx, coupleID, code)
		if err != nil {
			return retryable(err)
		}
		couple = c
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("rotate invite code: %w", err)
	}

	s.logger.Info("invite code rotated", "couple_id", coupleID, "account_id", accountID)
	return couple.InviteCode, nil
}

// JoinCouple admits accountID into the couple whose invite code is code.
func (s *Service) JoinCouple(ctx context.Context, accountID int64, code string) (*Pairing, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	var couple *model.Couple
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		c, err := s.couples.Join(ctx, accountID, code)
		if err != nil {
			if store.IsBusy(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		couple = c
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrAccountPaired):
		return nil, ErrAlreadyPaired
	case errors.Is(err, store.ErrCoupleNotFound):
		return nil, ErrInvalidCode
	case errors.Is(err, store.ErrCoupleFull):
		return nil, ErrTenantFull
	default:
		return nil, fmt.Errorf("join couple: %w", err)
	}

	s.logger.Info("couple joined", "couple_id", couple.ID, "account_id", accountID)
	return &Pairing{CoupleID: couple.ID}, nil
}

// Describe reports the caller's couple, its invite code and its members.
func (s *Service) Describe(ctx context.Context, accountID int64) (*Membership, error) {
	coupleID, err := s.coupleOf(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if coupleID == 0 {
		return &Membership{Paired: false}, nil
	}

	c, err := s.couples.GetByID(ctx, coupleID)
	if err != nil {
		return nil, fmt.Errorf("describe couple: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("describe couple: couple %d missing", coupleID)
	}
	members, err := s.couples.ListMembers(ctx, coupleID)
	if err != nil {
		return nil, fmt.Errorf("describe couple: %w", err)
	}
	return &Membership{
		Paired:     true,
		CoupleID:   c.ID,
		InviteCode: c.InviteCode,
		Members:    members,
	}, nil
}

// coupleOf returns the couple id of an account, or 0 when unpaired.
func (s *Service) coupleOf(ctx context.Context, accountID int64) (int64, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load account: %w", err)
	}
	if a == nil {
		return 0, fmt.Errorf("load account: account %d not found", accountID)
	}
	if a.CoupleID == nil {
		return 0, nil
	}
	return *a.CoupleID, nil
}
