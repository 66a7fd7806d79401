package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/adaptd/internal/adaptation"
	"github.com/fyrsmithlabs/adaptd/internal/auth"
	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/memory"
	"github.com/fyrsmithlabs/adaptd/internal/orchestrator"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
	"github.com/fyrsmithlabs/adaptd/internal/tracking"
)

type serverDeps struct {
	orch     *orchestrator.Orchestrator
	store    *memory.Store
	tracker  *tracking.Tracker
	registry *pipeline.Registry
	auth     auth.Authenticator
}

func newServerDeps(t *testing.T) serverDeps {
	t.Helper()

	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := memory.NewStore(db, logging.NewNop())
	require.NoError(t, err)

	tracker, err := tracking.NewTracker(db, logging.NewNop())
	require.NoError(t, err)

	registry, err := pipeline.NewRegistry(pipeline.Defaults())
	require.NoError(t, err)

	provider, err := adaptation.NewStaticProvider([]*adaptation.Template{
		{ID: "p1", Content: "base", FallbackContent: "fallback"},
	})
	require.NoError(t, err)

	orch, err := orchestrator.New(nil, registry, provider, logging.NewNop())
	require.NoError(t, err)

	authenticator, err := auth.NewAPIKeyAuthenticator(map[string]string{"key-1": "u1"})
	require.NoError(t, err)

	return serverDeps{orch: orch, store: store, tracker: tracker, registry: registry, auth: authenticator}
}

func TestNewServer(t *testing.T) {
	d := newServerDeps(t)

	s, err := NewServer(nil, d.orch, d.store, d.tracker, d.registry, d.auth)
	require.NoError(t, err)
	assert.NotNil(t, s.mcp)
}

func TestNewServerValidation(t *testing.T) {
	d := newServerDeps(t)

	_, err := NewServer(nil, nil, d.store, d.tracker, d.registry, d.auth)
	assert.ErrorContains(t, err, "orchestrator")

	_, err = NewServer(nil, d.orch, nil, d.tracker, d.registry, d.auth)
	assert.ErrorContains(t, err, "memory store")

	_, err = NewServer(nil, d.orch, d.store, nil, d.registry, d.auth)
	assert.ErrorContains(t, err, "tracker")

	_, err = NewServer(nil, d.orch, d.store, d.tracker, nil, d.auth)
	assert.ErrorContains(t, err, "registry")

	_, err = NewServer(nil, d.orch, d.store, d.tracker, d.registry, nil)
	assert.ErrorContains(t, err, "authenticator")
}

func TestAuthenticate(t *testing.T) {
	d := newServerDeps(t)
	s, err := NewServer(nil, d.orch, d.store, d.tracker, d.registry, d.auth)
	require.NoError(t, err)

	userID, ok := s.authenticate("key-1")
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)

	_, ok = s.authenticate("nope")
	assert.False(t, ok)

	_, ok = s.authenticate("")
	assert.False(t, ok)
}
