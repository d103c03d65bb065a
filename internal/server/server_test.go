package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/metrics"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/storage"
	"github.com/ashita-ai/madoguchi/internal/trace"
)

// memUsers is an in-process UserStore for handler tests.
type memUsers struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]model.User)}
}

func (m *memUsers) CreateUser(_ context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return storage.ErrDuplicateUsername
	}
	m.users[user.Username] = user
	return nil
}

func (m *memUsers) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return user, nil
}

// echoPipeline is a canned ChatPipeline for handler tests.
type echoPipeline struct {
	lastUserID string
}

func (p *echoPipeline) Process(_ context.Context, userID, message string) model.ChatResult {
	p.lastUserID = userID
	return model.ChatResult{
		Response:  "echo: " + message,
		Intent:    model.IntentQuestion,
		AgentType: model.AgentSupport,
		TraceID:   uuid.New(),
		Timestamp: time.Now().UTC(),
	}
}

type testServer struct {
	srv      *Server
	pipeline *echoPipeline
	users    *memUsers
	store    *escalation.MemoryStore
	registry *escalation.Registry
	traces   *trace.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	ts := &testServer{
		pipeline: &echoPipeline{},
		users:    newMemUsers(),
		store:    escalation.NewMemoryStore(),
		traces:   trace.NewStore(100, nil),
	}
	ts.registry = escalation.NewRegistry(ts.store, logger)

	h := NewHandlers(HandlersDeps{
		Pipeline:            ts.pipeline,
		Registry:            ts.registry,
		Users:               ts.users,
		Metrics:             metrics.NewStore(),
		Traces:              ts.traces,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		HistoryLimit:        5,
	})
	ts.srv = New(Config{Handlers: h, Logger: logger, Port: 0})
	return ts
}

// do sends a request through the full middleware chain.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:9999"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func (ts *testServer) register(t *testing.T, username, password string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", model.CredentialsRequest{
		Username: username, Password: password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &resp)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (ts *testServer) loginAdmin(t *testing.T) string {
	t.Helper()
	require.NoError(t, ts.srv.Handlers().SeedAdmin(context.Background(), "admin", "admin-password"))
	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", model.CredentialsRequest{
		Username: "admin", Password: "admin-password",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &resp)
	return resp.Token
}

func (ts *testServer) createEscalation(t *testing.T) model.EscalationRecord {
	t.Helper()
	rec, err := ts.registry.Create(context.Background(), "user-1", "I want a refund", "I can help.", "refund", "sensitive intent requires human review: refund")
	require.NoError(t, err)
	return rec
}

func TestHealthOpen(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
	}
	decodeData(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRegisterLoginChat(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "alice", "hunter2hunter2")

	rec := ts.do(t, http.MethodPost, "/api/chat", token, model.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.ChatResult
	decodeData(t, rec, &result)
	assert.Equal(t, "echo: hello", result.Response)
	assert.Equal(t, "alice", ts.pipeline.lastUserID)
}

func TestRegisterDuplicate(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice", "hunter2hunter2")

	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", model.CredentialsRequest{
		Username: "alice", Password: "hunter2hunter2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", model.CredentialsRequest{
		Username: "bob", Password: "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice", "hunter2hunter2")

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", model.CredentialsRequest{
		Username: "alice", Password: "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", model.CredentialsRequest{
		Username: "nobody", Password: "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/chat", "", model.ChatRequest{Message: "hello"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/chat", "not-a-token", model.ChatRequest{Message: "hello"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "alice", "hunter2hunter2")

	rec := ts.do(t, http.MethodPost, "/api/chat", token, model.ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHITLRequiresReviewerRole(t *testing.T) {
	ts := newTestServer(t)
	userToken := ts.register(t, "alice", "hunter2hunter2")

	for _, path := range []string{
		"/api/hitl/pending",
		"/api/hitl/stats",
		"/api/monitoring/metrics",
		"/api/monitoring/dashboard",
	} {
		rec := ts.do(t, http.MethodGet, path, userToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestHITLReviewLifecycle(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.loginAdmin(t)
	created := ts.createEscalation(t)

	rec := ts.do(t, http.MethodGet, "/api/hitl/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Count       int                      `json:"count"`
		Escalations []model.EscalationRecord `json:"escalations"`
	}
	decodeData(t, rec, &pending)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, created.ID, pending.Escalations[0].ID)

	path := fmt.Sprintf("/api/hitl/escalations/%s/approve", created.ID)
	rec = ts.do(t, http.MethodPost, path, adminToken, model.ReviewRequest{Response: "approved answer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved model.EscalationRecord
	decodeData(t, rec, &approved)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, "admin", *approved.ReviewedBy)

	// A second review hits the already-transitioned record.
	rec = ts.do(t, http.MethodPost, path, adminToken, model.ReviewRequest{Response: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	resolvePath := fmt.Sprintf("/api/hitl/escalations/%s/resolve", created.ID)
	rec = ts.do(t, http.MethodPost, resolvePath, adminToken, model.ResolveRequest{Response: "all done"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved model.EscalationRecord
	decodeData(t, rec, &resolved)
	assert.Equal(t, model.StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	// Double resolution is rejected.
	rec = ts.do(t, http.MethodPost, resolvePath, adminToken, model.ResolveRequest{Response: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHITLEdit(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.loginAdmin(t)
	created := ts.createEscalation(t)

	path := fmt.Sprintf("/api/hitl/escalations/%s/edit", created.ID)
	rec := ts.do(t, http.MethodPost, path, adminToken, model.EditRequest{
		OriginalResponse: created.AIResponse,
		EditedResponse:   "a better answer",
		Reason:           "tone",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var edited model.EscalationRecord
	decodeData(t, rec, &edited)
	assert.Equal(t, model.StatusEdited, edited.Status)
	require.NotNil(t, edited.HumanResponse)
	assert.Equal(t, "a better answer", *edited.HumanResponse)

	rows := ts.store.FeedbackFor(created.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "edited", rows[0].Action)
	require.NotNil(t, rows[0].OriginalResponse)
	assert.Equal(t, created.AIResponse, *rows[0].OriginalResponse)
}

func TestHITLEscalationLookup(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.loginAdmin(t)

	rec := ts.do(t, http.MethodGet, "/api/hitl/escalations/not-a-uuid", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/hitl/escalations/"+uuid.NewString(), adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHITLStats(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.loginAdmin(t)
	ts.createEscalation(t)
	ts.createEscalation(t)

	rec := ts.do(t, http.MethodGet, "/api/hitl/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats escalation.Stats
	decodeData(t, rec, &stats)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 2, stats.ByStatus[model.StatusPending])
}

func TestMonitoringEndpoints(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.loginAdmin(t)

	traceID := ts.traces.Start("chat", nil)
	ts.traces.AddSpan(traceID, "guardrail_check", model.AgentGuardrail, 0.5, nil)
	ts.traces.Complete(traceID, model.TraceCompleted, nil)

	rec := ts.do(t, http.MethodGet, "/api/monitoring/metrics", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	decodeData(t, rec, &snap)

	rec = ts.do(t, http.MethodGet, "/api/monitoring/traces", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count   int                `json:"count"`
		Summary model.TraceSummary `json:"summary"`
	}
	decodeData(t, rec, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 1, list.Summary.Completed)

	rec = ts.do(t, http.MethodGet, "/api/monitoring/traces/"+traceID.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr model.Trace
	decodeData(t, rec, &tr)
	assert.Equal(t, traceID, tr.TraceID)
	assert.Len(t, tr.Spans, 1)

	rec = ts.do(t, http.MethodGet, "/api/monitoring/traces/nope", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/monitoring/dashboard", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryWithoutStore(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "alice", "hunter2hunter2")

	rec := ts.do(t, http.MethodGet, "/api/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	decodeData(t, rec, &resp)
	assert.Zero(t, resp.Count)

	rec = ts.do(t, http.MethodGet, "/api/history?limit=500", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownFieldRejected(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "alice", "hunter2hunter2")

	rec := ts.do(t, http.MethodPost, "/api/chat", token, map[string]any{
		"message": "hi", "bogus": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
