package pairing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/twogether/internal/database"
	"github.com/dukerupert/twogether/internal/store"
)

type testEnv struct {
	svc      *Service
	accounts *store.AccountStore
	couples  *store.CoupleStore
}

func setupTestEnv(t *testing.T, dbPath string) *testEnv {
	t.Helper()
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := store.NewAccountStore(db)
	couples := store.NewCoupleStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{
		svc:      NewService(couples, accounts, logger),
		accounts: accounts,
		couples:  couples,
	}
}

func (e *testEnv) account(t *testing.T, email string) int64 {
	t.Helper()
	a, err := e.accounts.Create(context.Background(), email, "hash", email, "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a.ID
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != codeLength {
			t.Errorf("len(%q) = %d, want %d", code, len(code), codeLength)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Errorf("code %q contains %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 95 {
		t.Errorf("only %d distinct codes out of 100", len(seen))
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc123", "ABC123"},
		{"  AbC123\n", "ABC123"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCode(tt.in); got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateThenDescribe(t *testing.T) {
	env := setupTestEnv(t, ":memory:")
	ctx := context.Background()
	alice := env.account(t, "alice@example.com")

	p, err := env.svc.CreateCouple(ctx, alice)
	if err != nil {
		t.Fatalf("create couple: %v", err)
	}
	if len(p.InviteCode) != codeLength {
		t.Errorf("invite code = %q", p.InviteCode)
	}

	m, err := env.svc.Describe(ctx, alice)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !m.Paired {
		t.Error("expected paired")
	}
	if m.CoupleID != p.CoupleID {
		t.Errorf("couple_id = %d, want %d", m.CoupleID, p.CoupleID)
	}
	if len(m.Members) != 1 || m.Members[0].AccountID != alice {
		t.Errorf("members = %+v, want [alice]", m.Members)
	}

	if _, err := env.svc.CreateCouple(ctx, alice); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("second create: err = %v, want ErrAlreadyPaired", err)
	}
}

func TestDescribeUnpaired(t *testing.T) {
	env := setupTestEnv(t, ":memory:")
	alice := env.account(t, "alice@example.com")

	m, err := env.svc.Describe(context.Background(), alice)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if m.Paired || m.CoupleID != 0 || len(m.Members) != 0 {
		t.Errorf("membership = %+v, want unpaired", m)
	}
}

func TestCreateRetriesCodeCollision(t *testing.T) {
	env := setupTestEnv(t, ":memory:")
	ctx := context.Background()
	alice := env.account(t, "alice@example.com")
	bob := env.account(t, "bob@example.com")

	codes := []string{"SAME01", "SAME01", "OTHER2"}
	var calls int
	env.svc.newCode = func() (string, error) {
		c := codes[calls]
		calls++
		return c, nil
	}
	env.svc.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(5, retry.NewConstant(time.Nanosecond))
	}

	if _, err := env.svc.CreateCouple(ctx, alice); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	p, err := env.svc.CreateCouple(ctx, bob)
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if p.InviteCode != "OTHER2" {
		t.Errorf("invite code = %q, want %q", p.InviteCode, "OTHER2")
	}
	if calls != 3 {
		t.Errorf("code generations = %d, want 3", calls)
	}
}

func TestJoin(t *testing.T) {
	env := setupTestEnv(t, ":memory:")
	ctx := context.Background()
	alice := env.account(t, "alice@example.com")
	bob := env.account(t, "bob@example.com")
	carol := env.account(t, "carol@example.com")

	p, _ := env.svc.CreateCouple(ctx, alice)

	if _, err := env.svc.JoinCouple(ctx, bob, "ZZZZZZ"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("unknown code: err = %v, want ErrInvalidCode", err)
	}
	if _, err := env.svc.JoinCouple(ctx, bob, "   "); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("blank code: err = %v, want ErrInvalidCode", err)
	}

	joined, err := env.svc.JoinCouple(ctx, bob, " "+strings.ToLower(p.InviteCode)+" ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.CoupleID != p.CoupleID {
		t.Errorf("couple_id = %d, want %d", joined.CoupleID, p.CoupleID)
	}

	if _, err := env.svc.JoinCouple(ctx, carol, p.InviteCode); !errors.Is(err, ErrTenantFull) {
		t.Errorf("third member: err = %v, want ErrTenantFull", err)
	}
	if _, err := env.svc.JoinCouple(ctx, bob, p.InviteCode); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("rejoin: err = %v, want ErrAlreadyPaired", err)
	}

	m, _ := env.svc.Describe(ctx, bob)
	if len(m.Members) != 2 || m.Members[0].AccountID != alice || m.Members[1].AccountID != bob {
		t.Errorf("members = %+v, want [alice bob]", m.Members)
	}
}

func TestConcurrentJoin(t *testing.T) {
	env := setupTestEnv(t, filepath.Join(t.TempDir(), "pairing.db"))
	ctx := context.Background()
	alice := env.account(t, "alice@example.com")
	bob := env.account(t, "bob@example.com")
	carol := env.account(t, "carol@example.com")

	p, err := env.svc.CreateCouple(ctx, alice)
	if err != nil {
		t.Fatalf("create couple: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{bob, carol} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = env.svc.JoinCouple(ctx, id, p.InviteCode)
		}(i, id)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTenantFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || full != 1 {
		t.Errorf("ok = %d, full = %d, want 1 and 1", ok, full)
	}

	m, _ := env.svc.Describe(ctx, alice)
	if len(m.Members) != 2 {
		t.Errorf("members = %d, want 2", len(m.Members))
	}
}

func TestRotateInviteCode(t *testing.T) {
	env := setupTestEnv(t, ":memory:")
	ctx := context.Background()
	alice := env.account(t, "alice@example.com")
	bob := env.account(t, "bob@example.com")

	if _, err := env.svc.RotateInviteCode(ctx, alice); !errors.Is(err, ErrNotPaired) {
		t.Errorf("unpaired rotate: err = %v, want ErrNotPaired", err)
	}

	p, _ := env.svc.CreateCouple(ctx, alice)
	next, err := env.svc.RotateInviteCode(ctx, alice)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next == p.InviteCode {
		t.Fatalf("rotated code equals old code %q", next)
	}

	if _, err := env.svc.JoinCouple(ctx, bob, p.InviteCode); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("old code: err = %v, want ErrInvalidCode", err)
	}
	if _, err := env.svc.JoinCouple(ctx, bob, next); err != nil {
		t.Errorf("new code: %v", err)
	}
}

func TestGeneratorFailureSurfaces(t *testing.T) {
	env := setupTestEnv(t, ":memory:")
	alice := env.account(t, "alice@example.com")
	env.svc.newCode = func() (string, error) { return "", fmt.Errorf("entropy exhausted") }

	if _, err := env.svc.CreateCouple(context.Background(), alice); err == nil {
		t.Error("expected error when code generation fails")
	}
}
