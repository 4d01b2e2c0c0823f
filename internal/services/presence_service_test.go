package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/apperr"
	"chatline/internal/models"
)

func (e *testEnv) status(t *testing.T, userID string) models.UserStatus {
	t.Helper()
	u, err := e.userRepo.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Status
}

func TestPresence_ConnectRestoresPreferredStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t)

	_, err := env.users.UpdateStatus(ctx, u.ID, models.StatusAway)
	require.NoError(t, err)
	require.NoError(t, env.presence.Disconnect(ctx, u.ID, "nobody"))
	assert.Equal(t, models.StatusAway, env.status(t, u.ID).Current)

	require.NoError(t, env.presence.Connect(ctx, u.ID, "s1"))
	require.NoError(t, env.presence.Disconnect(ctx, u.ID, "s1"))
	assert.Equal(t, models.UserStatus{Preferred: models.StatusAway, Current: models.StatusOffline}, env.status(t, u.ID))

	require.NoError(t, env.presence.Connect(ctx, u.ID, "s2"))
	assert.Equal(t, models.UserStatus{Preferred: models.StatusAway, Current: models.StatusAway}, env.status(t, u.ID))
}

func TestPresence_ReplacedSessionDoesNotGoOffline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t)

	require.NoError(t, env.presence.Connect(ctx, u.ID, "old"))
	require.NoError(t, env.presence.Connect(ctx, u.ID, "new"))

	owned, err := env.presence.Refresh(ctx, u.ID, "old")
	require.NoError(t, err)
	assert.False(t, owned)
	owned, err = env.presence.Refresh(ctx, u.ID, "new")
	require.NoError(t, err)
	assert.True(t, owned)

	require.NoError(t, env.presence.Disconnect(ctx, u.ID, "old"))
	assert.Equal(t, models.StatusOnline, env.status(t, u.ID).Current)
	id, ok, err := env.registry.Lookup(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", id)

	require.NoError(t, env.presence.Disconnect(ctx, u.ID, "new"))
	assert.Equal(t, models.StatusOffline, env.status(t, u.ID).Current)
}

func TestPresence_AuthorizeJoin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := env.user(t), env.user(t)
	outsider := env.user(t)
	channelID := env.group(t, a, b)

	got, err := env.presence.AuthorizeJoin(ctx, b.ID, channelID)
	require.NoError(t, err)
	assert.Equal(t, channelID, got)

	_, err = env.presence.AuthorizeJoin(ctx, outsider.ID, channelID)
	assertKind(t, apperr.KindForbidden, err)
	_, err = env.presence.AuthorizeJoin(ctx, a.ID, "bogus")
	assertKind(t, apperr.KindInvalidArgument, err)
}
