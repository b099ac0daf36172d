package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/twogether/internal/auth"
	"github.com/dukerupert/twogether/internal/model"
	"github.com/dukerupert/twogether/internal/store"
)

const minPasswordLength = 8

type AuthHandler struct {
	accounts *store.AccountStore
	tokens   *auth.Tokens
	logger   *slog.Logger
	cost     int
}

func NewAuthHandler(accounts *store.AccountStore, tokens *auth.Tokens, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		tokens:   tokens,
		logger:   logger.With("component", "auth"),
		cost:     bcrypt.DefaultCost,
	}
}

type registerRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatar_url"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	Account     *model.Account `json:"account"`
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "name is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to create account")
		return
	}

	account, err := h.accounts.Create(r.Context(), req.Email, string(hash), req.Name, strings.TrimSpace(req.AvatarURL))
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusConflict, codeConflict, "email already registered")
			return
		}
		h.logger.Error("create account", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to create account")
		return
	}

	h.logger.Info("account registered", "account_id", account.ID)
	h.respondWithToken(w, http.StatusCreated, account)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}

	account, err := h.accounts.GetByEmail(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		h.logger.Error("load account", "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "login failed")
		return
	}
	if account == nil || bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid email or password")
		return
	}

	h.respondWithToken(w, http.StatusOK, account)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, account *model.Account) {
	token, err := h.tokens.Issue(account.ID)
	if err != nil {
		h.logger.Error("issue token", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to issue token")
		return
	}
	writeJSON(w, status, tokenResponse{AccessToken: token, TokenType: "bearer", Account: account})
}

// Me handles GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetByID(r.Context(), auth.AccountID(r.Context()))
	if err != nil || account == nil {
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type profileRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateMe handles PUT /me
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := h.accounts.GetByID(ctx, auth.AccountID(ctx))
	if err != nil || account == nil {
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to load account")
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}

	name, avatar := account.Name, account.AvatarURL
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "name cannot be empty")
			return
		}
	}
	if req.AvatarURL != nil {
		avatar = strings.TrimSpace(*req.AvatarURL)
	}

	updated, err := h.accounts.UpdateProfile(ctx, account.ID, name, avatar)
	if err != nil {
		h.logger.Error("update profile", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
