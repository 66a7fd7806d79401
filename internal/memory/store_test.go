package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, logging.NewNop())
	require.NoError(t, err)
	return s
}

func TestSaveAndGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, &Memory{
		UserID:          "u1",
		Type:            TypePreference,
		Title:           "tone",
		Content:         json.RawMessage(`{"tone":"formal"}`),
		ImportanceScore: 0.8,
		RelevanceTags:   []string{"style", "tone"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, int64(0), saved.AccessCount)

	got, err := s.GetByID(ctx, saved.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tone", got.Title)
	assert.Equal(t, TypePreference, got.Type)
	assert.JSONEq(t, `{"tone":"formal"}`, string(got.Content))
	assert.Equal(t, []string{"style", "tone"}, got.RelevanceTags)
	assert.Equal(t, 0.8, got.ImportanceScore)
}

func TestSaveClampsImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"above one", 3.5, 1.0},
		{"below zero", -0.2, 0.0},
		{"unset defaults", 0, 0.5},
		{"in range", 0.4, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved, err := s.Save(ctx, &Memory{
				UserID:          "u1",
				Type:            TypeKnowledge,
				Content:         json.RawMessage(`{"fact":"x"}`),
				ImportanceScore: tt.score,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, saved.ImportanceScore)
		})
	}
}

func TestSaveUpsertPreservesCreatedAtAndAccessCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, &Memory{
		UserID:  "u1",
		Type:    TypeKnowledge,
		Content: json.RawMessage(`{"v":1}`),
	})
	require.NoError(t, err)

	// Read bumps access count.
	_, err = s.GetByID(ctx, saved.ID, "u1")
	require.NoError(t, err)
	s.FlushAccessUpdates()

	updated, err := s.Save(ctx, &Memory{
		ID:      saved.ID,
		UserID:  "u1",
		Type:    TypeKnowledge,
		Content: json.RawMessage(`{"v":2}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(updated.Content))
	assert.Equal(t, int64(1), updated.AccessCount)
	assert.Equal(t, saved.CreatedAt, updated.CreatedAt)
}

func TestSaveValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &Memory{Type: TypeKnowledge, Content: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrEmptyUserID)

	_, err = s.Save(ctx, &Memory{UserID: "u1", Type: "mood", Content: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = s.Save(ctx, &Memory{UserID: "u1", Type: TypeKnowledge, Content: json.RawMessage(`{not json`)})
	assert.ErrorIs(t, err, ErrInvalidContent)

	// Preference content must be a JSON object.
	_, err = s.Save(ctx, &Memory{UserID: "u1", Type: TypePreference, Content: json.RawMessage(`"formal"`)})
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestGetScopedToUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, &Memory{
		UserID:  "u1",
		Type:    TypeKnowledge,
		Content: json.RawMessage(`{"fact":"x"}`),
	})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, saved.ID, "u2")
	require.NoError(t, err)
	assert.Nil(t, got, "record owned by another user must be invisible")

	got, err = s.GetByID(ctx, "no-such-id", "u1")
	require.NoError(t, err)
	assert.Nil(t, got, "not-found must return nil, not an error")
}

func TestGetByTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*Memory{
		{UserID: "u1", Type: TypePreference, Title: "tone", Content: json.RawMessage(`{"tone":"formal"}`), ImportanceScore: 0.9},
		{UserID: "u1", Type: TypeKnowledge, Title: "tone", Content: json.RawMessage(`{"note":"casual on fridays"}`), ImportanceScore: 0.3},
	} {
		_, err := s.Save(ctx, m)
		require.NoError(t, err)
	}

	got, err := s.GetByTitle(ctx, "u1", "tone", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.9, got.ImportanceScore, "highest importance wins without a type filter")

	got, err = s.GetByTitle(ctx, "u1", "tone", TypeKnowledge)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, TypeKnowledge, got.Type)

	got, err = s.GetByTitle(ctx, "u2", "tone", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccessCountIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, &Memory{
		UserID:  "u1",
		Type:    TypeKnowledge,
		Content: json.RawMessage(`{"fact":"x"}`),
	})
	require.NoError(t, err)

	const reads = 5
	for i := 0; i < reads; i++ {
		_, err := s.GetByID(ctx, saved.ID, "u1")
		require.NoError(t, err)
	}
	s.FlushAccessUpdates()

	got, err := s.GetByID(ctx, saved.ID, "u1")
	require.NoError(t, err)
	s.FlushAccessUpdates()
	assert.Equal(t, int64(reads), got.AccessCount)
	assert.True(t, got.LastAccessedAt.After(saved.LastAccessedAt) || got.LastAccessedAt.Equal(saved.LastAccessedAt))
}

func TestQueryMinImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scores := []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	for _, score := range scores {
		_, err := s.Save(ctx, &Memory{
			UserID:          "u1",
			Type:            TypeKnowledge,
			Content:         json.RawMessage(`{"s":true}`),
			ImportanceScore: score,
		})
		require.NoError(t, err)
	}

	got, err := s.Query(ctx, QueryOptions{UserID: "u1", MinImportanceScore: 0.5})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.ImportanceScore, 0.5)
	}

	// Sorted by importance descending.
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].ImportanceScore, got[i].ImportanceScore)
	}
}

func TestQueryScenarioSinglePreference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &Memory{
		UserID:          "u1",
		Type:            TypePreference,
		Title:           "tone",
		Content:         json.RawMessage(`{"tone":"formal"}`),
		ImportanceScore: 0.8,
	})
	require.NoError(t, err)

	got, err := s.Query(ctx, QueryOptions{UserID: "u1", MinImportanceScore: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tone", got[0].Title)
}

func TestQueryTagOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for title, tags := range map[string][]string{
		"a": {"go", "style"},
		"b": {"python"},
		"c": {"style", "docs"},
	} {
		_, err := s.Save(ctx, &Memory{
			UserID:        "u1",
			Type:          TypePattern,
			Title:         title,
			Content:       json.RawMessage(`{}`),
			RelevanceTags: tags,
		})
		require.NoError(t, err)
	}

	got, err := s.Query(ctx, QueryOptions{UserID: "u1", RelevanceTags: []string{"style", "rust"}})
	require.NoError(t, err)
	assert.Len(t, got, 2, "ANY-overlap: a and c match on style")
}

func TestQueryPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Save(ctx, &Memory{
			UserID:          "u1",
			Type:            TypeKnowledge,
			Content:         json.RawMessage(`{}`),
			ImportanceScore: 0.1 * float64(i+1),
		})
		require.NoError(t, err)
	}

	page1, err := s.Query(ctx, QueryOptions{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := s.Query(ctx, QueryOptions{UserID: "u1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)
}

func TestQueryDegradesWhenStoreUnavailable(t *testing.T) {
	db, err := storage.OpenMemory()
	require.NoError(t, err)

	s, err := NewStore(db, logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, db.Close())

	got, err := s.Query(context.Background(), QueryOptions{UserID: "u1"})
	require.NoError(t, err, "read path must degrade, not fail")
	assert.Empty(t, got)
}

func TestUpdatePatchSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, &Memory{
		UserID:          "u1",
		Type:            TypePreference,
		Title:           "tone",
		Content:         json.RawMessage(`{"tone":"formal"}`),
		ImportanceScore: 0.4,
	})
	require.NoError(t, err)

	score := 1.7 // will be clamped
	title := "voice"
	updated, err := s.Update(ctx, saved.ID, "u1", Patch{
		Title:           &title,
		ImportanceScore: &score,
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "voice", updated.Title)
	assert.Equal(t, 1.0, updated.ImportanceScore)
	assert.JSONEq(t, `{"tone":"formal"}`, string(updated.Content), "unpatched fields stay")
	assert.True(t, updated.UpdatedAt.After(saved.UpdatedAt) || updated.UpdatedAt.Equal(saved.UpdatedAt))

	// Wrong owner gets nil, not an error.
	got, err := s.Update(ctx, saved.ID, "u2", Patch{Title: &title})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, &Memory{
		UserID:  "u1",
		Type:    TypeInteraction,
		Content: json.RawMessage(`{"summary":"hi"}`),
	})
	require.NoError(t, err)
	assert.Nil(t, saved.ExpiresAt)

	expiry := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	updated, err := s.Update(ctx, saved.ID, "u1", Patch{ExpiresAt: &expiry})
	require.NoError(t, err)
	require.NotNil(t, updated.ExpiresAt)
	assert.True(t, updated.ExpiresAt.Equal(expiry))
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, &Memory{
		UserID:  "u1",
		Type:    TypeKnowledge,
		Content: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	ok, err := s.Delete(ctx, saved.ID, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, saved.ID, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "second delete reports absent")

	ok, err = s.Delete(ctx, "no-such-id", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}
