package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/metrics"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/storage"
	"github.com/ashita-ai/madoguchi/internal/trace"
)

// ChatPipeline runs one user message through the processing pipeline.
type ChatPipeline interface {
	Process(ctx context.Context, userID, message string) model.ChatResult
}

// UserStore persists and authenticates user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
}

// HistoryReader recalls a user's recent conversation turns, newest first.
type HistoryReader interface {
	RecentTurns(ctx context.Context, userID string, limit int) ([]model.ConversationTurn, error)
}

// Pinger reports storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	pipeline ChatPipeline
	registry *escalation.Registry
	users    UserStore
	history  HistoryReader
	metrics  *metrics.Store
	traces   *trace.Store
	jwtMgr   *auth.JWTManager
	db       Pinger
	logger   *slog.Logger

	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	historyLimit        int
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): History, DB.
type HandlersDeps struct {
	Pipeline            ChatPipeline
	Registry            *escalation.Registry
	Users               UserStore
	History             HistoryReader
	Metrics             *metrics.Store
	Traces              *trace.Store
	JWTMgr              *auth.JWTManager
	DB                  Pinger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	HistoryLimit        int
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		pipeline:            d.Pipeline,
		registry:            d.Registry,
		users:               d.Users,
		history:             d.History,
		metrics:             d.Metrics,
		traces:              d.Traces,
		jwtMgr:              d.JWTMgr,
		db:                  d.DB,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		historyLimit:        d.HistoryLimit,
	}
}

// tokenResponse is the body returned by the register and login endpoints.
type tokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

// HandleRegister handles POST /api/auth/register.
// New accounts always get the "user" role; reviewer accounts are seeded
// out of band.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("password hash failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	user := model.User{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "username already taken")
			return
		}
		h.logger.Error("user creation failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	token, exp, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.logger.Error("token issue failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	h.logger.Info("user registered", "username", user.Username)
	writeJSON(w, r, http.StatusCreated, tokenResponse{Token: token, ExpiresAt: exp, User: user})
}

// HandleLogin handles POST /api/auth/login.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		// Burn the same hashing cost as a real check so response timing
		// does not reveal whether the username exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, exp, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.logger.Error("token issue failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp, User: user})
}

// HandleChat handles POST /api/chat.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	var req model.ChatRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	result := h.pipeline.Process(r.Context(), claims.Username, req.Message)
	writeJSON(w, r, http.StatusOK, result)
}

// HandleHistory handles GET /api/history. Users see only their own turns.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	turns := []model.ConversationTurn{}
	if h.history != nil {
		var err error
		turns, err = h.history.RecentTurns(r.Context(), claims.Username, limit)
		if err != nil {
			h.logger.Error("history lookup failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
			return
		}
		if turns == nil {
			turns = []model.ConversationTurn{}
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"turns": turns,
		"count": len(turns),
	})
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres,omitempty"`
	Uptime   int64  `json:"uptime_seconds"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	resp := healthResponse{
		Version: h.version,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	if h.db != nil {
		resp.Postgres = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			resp.Postgres = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	resp.Status = status

	writeJSON(w, r, httpStatus, resp)
}

// SeedAdmin creates the initial admin user if it does not exist yet.
// A configured admin password is required on a fresh database.
func (h *Handlers) SeedAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		h.logger.Info("no admin credentials configured, skipping admin seed")
		return nil
	}

	if _, err := h.users.GetUserByUsername(ctx, username); err == nil {
		h.logger.Debug("admin user already exists", "username", username)
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("seed admin: lookup: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("seed admin: hash password: %w", err)
	}

	user := model.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			return nil
		}
		return fmt.Errorf("seed admin: create: %w", err)
	}

	h.logger.Info("admin user seeded", "username", username)
	return nil
}
