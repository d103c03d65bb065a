package storage_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/escalation"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/storage"
	"github.com/ashita-ai/madoguchi/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), slog.New(slog.DiscardHandler))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test DB: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func insertEscalation(t *testing.T, status model.EscalationStatus) model.EscalationRecord {
	t.Helper()
	rec := model.EscalationRecord{
		ID:          uuid.New(),
		UserID:      "user-" + uuid.NewString()[:8],
		UserMessage: "this is unacceptable",
		AIResponse:  "I understand your frustration.",
		Intent:      "complaint",
		Reason:      "sensitive intent: complaint",
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, testDB.InsertEscalation(context.Background(), rec))
	return rec
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	user := model.User{
		ID:           uuid.New(),
		Username:     "alice-" + uuid.NewString()[:8],
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$abc$def",
		Role:         model.RoleAgent,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, testDB.CreateUser(ctx, user))

	got, err := testDB.GetUserByUsername(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, user.PasswordHash, got.PasswordHash)
	assert.Equal(t, model.RoleAgent, got.Role)

	err = testDB.CreateUser(ctx, user)
	assert.ErrorIs(t, err, storage.ErrDuplicateUsername)

	_, err = testDB.GetUserByUsername(ctx, "nobody-here")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRecentTurnsWindow(t *testing.T) {
	ctx := context.Background()
	userID := "turns-" + uuid.NewString()[:8]

	base := time.Now().UTC().Add(-time.Hour)
	for i := range 7 {
		turn := model.ConversationTurn{
			ID:        uuid.New(),
			UserID:    userID,
			Message:   fmt.Sprintf("message %d", i),
			Response:  fmt.Sprintf("response %d", i),
			AgentType: model.AgentSupport,
			Metadata:  map[string]any{"intent": "question"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, testDB.InsertTurn(ctx, turn))
	}

	turns, err := testDB.RecentTurns(ctx, userID, 5)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	assert.Equal(t, "message 6", turns[0].Message)
	assert.Equal(t, "message 2", turns[4].Message)
	assert.Equal(t, "question", turns[0].Metadata["intent"])

	turns, err = testDB.RecentTurns(ctx, "no-such-user", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestEscalationRoundTrip(t *testing.T) {
	ctx := context.Background()
	rec := insertEscalation(t, model.StatusPending)

	got, err := testDB.FindEscalation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.UserMessage, got.UserMessage)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.HumanResponse)
	assert.Nil(t, got.ReviewedAt)

	_, err = testDB.FindEscalation(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTransitionReviewThenResolve(t *testing.T) {
	ctx := context.Background()
	rec := insertEscalation(t, model.StatusPending)

	resp := "Here is the corrected answer."
	reviewer := "agent-yt"
	now := time.Now().UTC()
	err := testDB.Transition(ctx, rec.ID,
		[]model.EscalationStatus{model.StatusPending},
		escalation.Update{
			Status:        model.StatusEdited,
			HumanResponse: &resp,
			ReviewedBy:    &reviewer,
			ReviewedAt:    &now,
		},
	)
	require.NoError(t, err)

	got, err := testDB.FindEscalation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEdited, got.Status)
	require.NotNil(t, got.HumanResponse)
	assert.Equal(t, resp, *got.HumanResponse)

	// Resolve after review keeps the reviewer's response.
	other := "late response"
	resolver := "agent-other"
	later := time.Now().UTC()
	err = testDB.Transition(ctx, rec.ID,
		[]model.EscalationStatus{model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusEdited},
		escalation.Update{
			Status:        model.StatusResolved,
			HumanResponse: &other,
			ReviewedBy:    &resolver,
			ResolvedAt:    &later,
		},
	)
	require.NoError(t, err)

	got, err = testDB.FindEscalation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)
	assert.Equal(t, resp, *got.HumanResponse)
	assert.Equal(t, reviewer, *got.ReviewedBy)
	assert.NotNil(t, got.ResolvedAt)
}

func TestTransitionGuards(t *testing.T) {
	ctx := context.Background()
	rec := insertEscalation(t, model.StatusResolved)

	err := testDB.Transition(ctx, rec.ID,
		[]model.EscalationStatus{model.StatusPending},
		escalation.Update{Status: model.StatusApproved},
	)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	err = testDB.Transition(ctx, uuid.New(),
		[]model.EscalationStatus{model.StatusPending},
		escalation.Update{Status: model.StatusApproved},
	)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTransitionConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	rec := insertEscalation(t, model.StatusPending)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := range racers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp := fmt.Sprintf("winner %d", n)
			who := fmt.Sprintf("agent-%d", n)
			now := time.Now().UTC()
			errs[n] = testDB.Transition(ctx, rec.ID,
				[]model.EscalationStatus{model.StatusPending},
				escalation.Update{
					Status:        model.StatusApproved,
					HumanResponse: &resp,
					ReviewedBy:    &who,
					ReviewedAt:    &now,
				},
			)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, model.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, won, "exactly one transition must win")
}

func TestFindEscalationsByStatusOrder(t *testing.T) {
	ctx := context.Background()
	a := insertEscalation(t, model.StatusPending)
	b := insertEscalation(t, model.StatusPending)

	recs, err := testDB.FindEscalationsByStatus(ctx, model.StatusPending)
	require.NoError(t, err)

	idx := make(map[uuid.UUID]int)
	for i, rec := range recs {
		assert.Equal(t, model.StatusPending, rec.Status)
		idx[rec.ID] = i
	}
	require.Contains(t, idx, a.ID)
	require.Contains(t, idx, b.ID)
	if !a.CreatedAt.Equal(b.CreatedAt) {
		assert.Less(t, idx[b.ID], idx[a.ID], "newest first")
	}
}

func TestFeedbackAndStats(t *testing.T) {
	ctx := context.Background()
	rec := insertEscalation(t, model.StatusPending)

	orig := rec.AIResponse
	require.NoError(t, testDB.InsertFeedback(ctx, escalation.Feedback{
		EscalationID:     rec.ID,
		Reviewer:         "agent-yt",
		Action:           "edited",
		Response:         "fixed answer",
		OriginalResponse: &orig,
		CreatedAt:        time.Now().UTC(),
	}))

	stats, err := testDB.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Positive(t, stats.Total)
	assert.Positive(t, stats.ByStatus[model.StatusPending])
}
