package storage_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"chatline/internal/models"
	"chatline/internal/storage"
	"chatline/internal/testutil"
)

func TestNormalizeID(t *testing.T) {
	id := models.NewID()

	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"lowercase", id, id, true},
		{"uppercase", strings.ToUpper(id), id, true},
		{"too short", id[:31], "", false},
		{"not hex", "z" + id[1:], "", false},
		{"dashed uuid", "123e4567-e89b-12d3-a456-426614174000", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := storage.NormalizeID(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()

	u := &models.User{Email: "alice@example.com", Username: "alice", CredentialHash: "h"}
	require.NoError(t, repo.Create(ctx, u))
	assert.Len(t, u.ID, models.IDLength)
	assert.Equal(t, "alice", u.DisplayName)
	assert.Equal(t, models.UserStatus{Preferred: models.StatusOnline, Current: models.StatusOffline}, u.Status)

	t.Run("duplicate username", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{Email: "other@example.com", Username: "alice", CredentialHash: "h"})
		assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	})

	t.Run("find by identifier", func(t *testing.T) {
		for _, ident := range []string{"alice", "alice@example.com", u.ID, strings.ToUpper(u.ID)} {
			found, err := repo.FindByIdentifier(ctx, ident)
			require.NoError(t, err)
			require.NotNil(t, found, ident)
			assert.Equal(t, u.ID, found.ID)
		}
		found, err := repo.FindByIdentifier(ctx, "nobody")
		assert.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("exists and count", func(t *testing.T) {
		exists, err := repo.ExistsByEmailOrUsername(ctx, "new@example.com", "alice")
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = repo.ExistsByEmailOrUsername(ctx, "new@example.com", "newbie")
		require.NoError(t, err)
		assert.False(t, exists)

		n, err := repo.CountByIDs(ctx, []string{u.ID, u.ID, models.NewID()})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("current status keeps preferred", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, u.ID, models.UserStatus{Preferred: models.StatusAway, Current: models.StatusAway}))
		require.NoError(t, repo.SetCurrentStatus(ctx, u.ID, models.StatusOffline))
		got, err := repo.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAway, got.Status.Preferred)
		assert.Equal(t, models.StatusOffline, got.Status.Current)
	})

	t.Run("missing user", func(t *testing.T) {
		err := repo.SetCurrentStatus(ctx, models.NewID(), models.StatusOnline)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		_, err = repo.GetByID(ctx, models.NewID())
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestFriendshipRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormFriendshipRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db)
	b := testutil.CreateUser(t, db)

	edge, err := repo.GetEdge(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Nil(t, edge)

	require.NoError(t, repo.UpsertRequest(ctx, a.ID, b.ID))
	out, err := repo.GetEdge(ctx, a.ID, b.ID)
	require.NoError(t, err)
	in, err := repo.GetEdge(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequested, out.Status)
	assert.Equal(t, models.FriendPending, in.Status)

	// 重复请求只更新状态，不产生新边
	require.NoError(t, repo.UpsertRequest(ctx, a.ID, b.ID))
	var count int64
	require.NoError(t, db.Model(&models.Friendship{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	require.NoError(t, repo.MarkFriends(ctx, b.ID, a.ID))
	edges, err := repo.ListForUser(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, models.FriendFriends, edges[0].Status)
	require.NotNil(t, edges[0].Recipient)
	assert.Equal(t, b.Username, edges[0].Recipient.Username)

	deleted, err := repo.DeletePair(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
	deleted, err = repo.DeletePair(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, deleted)
}

func TestChannelRepository_Direct(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormChannelRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db)
	b := testutil.CreateUser(t, db)

	ch, err := repo.CreateDirect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, ch.IsDM)
	assert.Equal(t, []string{a.ID, b.ID}, ch.ParticipantIDs())

	_, err = repo.CreateDirect(ctx, b.ID, a.ID)
	assert.ErrorIs(t, err, storage.ErrDuplicateDirectChannel)

	link, err := repo.FindDirectLink(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, ch.ID, link.ChannelID)

	links, err := repo.ListLinks(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.NotNil(t, links[0].Peer)
	assert.Equal(t, b.ID, links[0].Peer.ID)
	require.NotNil(t, links[0].Channel)
	assert.Len(t, links[0].Channel.Participants, 2)
}

func TestChannelRepository_GroupMembership(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormChannelRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db)
	b := testutil.CreateUser(t, db)
	c := testutil.CreateUser(t, db)

	ch := &models.Channel{Name: "team", OwnerID: &a.ID}
	require.NoError(t, repo.CreateGroup(ctx, ch, []string{a.ID, b.ID}))

	ok, err := repo.IsParticipant(ctx, ch.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.AddParticipant(ctx, ch.ID, c.ID))
	detail, err := repo.GetDetail(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, detail.ParticipantIDs())
	for _, p := range detail.Participants {
		assert.NotNil(t, p.User)
	}

	removed, err := repo.RemoveParticipant(ctx, ch.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.RemoveParticipant(ctx, ch.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	listed, err := repo.ListForUser(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
	listed, err = repo.ListForUser(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, ch.ID, listed[0].ID)
}

func TestChannelRepository_DeleteCascade(t *testing.T) {
	db := testutil.NewTestDB(t)
	channels := storage.NewGormChannelRepository(db)
	messages := storage.NewGormMessageRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db)
	b := testutil.CreateUser(t, db)

	ch := &models.Channel{Name: "doomed", OwnerID: &a.ID}
	require.NoError(t, channels.CreateGroup(ctx, ch, []string{a.ID, b.ID}))
	msg := &models.Message{Content: "hi @b", AuthorID: a.ID, ChannelID: ch.ID, Mentions: []models.User{*b}}
	require.NoError(t, messages.Create(ctx, msg))

	require.NoError(t, channels.DeleteCascade(ctx, ch.ID))

	_, err := channels.GetByID(ctx, ch.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	for _, model := range []interface{}{&models.Message{}, &models.ChannelParticipant{}, &models.DirectMessageLink{}} {
		var n int64
		require.NoError(t, db.Model(model).Count(&n).Error)
		assert.Zero(t, n)
	}
	var mentions int64
	require.NoError(t, db.Table("message_mentions").Count(&mentions).Error)
	assert.Zero(t, mentions)
}

func TestMessageRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	channels := storage.NewGormChannelRepository(db)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db)
	b := testutil.CreateUser(t, db)

	ch := &models.Channel{Name: "room", OwnerID: &a.ID}
	require.NoError(t, channels.CreateGroup(ctx, ch, []string{a.ID, b.ID}))

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		msg := &models.Message{Content: "m", AuthorID: a.ID, ChannelID: ch.ID}
		msg.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 2 {
			msg.Mentions = []models.User{*b}
		}
		require.NoError(t, repo.Create(ctx, msg))
		ids = append(ids, msg.ID)
	}

	lastMessage := func() *string {
		got, err := channels.GetByID(ctx, ch.ID)
		require.NoError(t, err)
		return got.LastMessageID
	}
	require.NotNil(t, lastMessage())
	assert.Equal(t, ids[2], *lastMessage())

	page, err := repo.ListByChannel(ctx, ch.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)
	require.Len(t, page[0].Mentions, 1)
	assert.Equal(t, b.ID, page[0].Mentions[0].ID)
	require.NotNil(t, page[0].Author)

	total, err := repo.CountByChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	require.NoError(t, repo.UpdateContent(ctx, ids[0], "edited"))
	assert.ErrorIs(t, repo.UpdateContent(ctx, models.NewID(), "x"), gorm.ErrRecordNotFound)

	byID, err := repo.GetByIDs(ctx, []string{ids[0], models.NewID()})
	require.NoError(t, err)
	require.Contains(t, byID, ids[0])
	assert.Equal(t, "edited", byID[ids[0]].Content)
	assert.Len(t, byID, 1)

	// 删除最后一条消息时 last_message_id 回退到上一条
	latest, err := repo.GetByID(ctx, ids[2])
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, latest))
	require.NotNil(t, lastMessage())
	assert.Equal(t, ids[1], *lastMessage())

	// 删除非最新消息不影响 last_message_id
	first, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, first))
	assert.Equal(t, ids[1], *lastMessage())

	only, err := repo.GetByID(ctx, ids[1])
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, only))
	assert.Nil(t, lastMessage())
}
