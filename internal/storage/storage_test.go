package storage_test

import (
	"channels/backend/internal/models"
	"channels/backend/internal/storage"
	"channels/backend/internal/storage/storagetest"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(channelID, sender string) *models.Message {
	now := time.Now().UTC()
	return &models.Message{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    sender,
		MessageType: models.TypeText,
		Message:     "hello",
		Content:     models.MessageContent{Text: "hello"},
		Metadata:    map[string]any{"version": "1"},
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestEnsureUser_Idempotent(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, "u1", "Alice"))
	require.NoError(t, s.EnsureUser(ctx, "u1", "Other"))

	var u models.User
	require.NoError(t, s.DB.First(&u, "id = ?", "u1").Error)
	assert.Equal(t, "Alice", u.Name)
	assert.True(t, u.IsActive)

	assert.ErrorIs(t, s.EnsureUser(ctx, "", "x"), models.ErrInvalidArgument)
}

func TestGetOrCreateUserByName(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()

	u1, err := s.GetOrCreateUserByName(ctx, "alice")
	require.NoError(t, err)
	u2, err := s.GetOrCreateUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)

	require.NoError(t, s.DB.Model(&models.User{}).Where("id = ?", u1.ID).Update("is_active", false).Error)
	u3, err := s.GetOrCreateUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u3.ID)

	now := time.Now()
	require.NoError(t, s.DB.Model(&models.User{}).Where("id = ?", u1.ID).Update("deleted_at", &now).Error)
	_, err = s.GetOrCreateUserByName(ctx, "alice")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestGetOrCreateDirectChannel_SingleRowUnderRace(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			ch, err := s.GetOrCreateDirectChannel(ctx, a, b)
			errs[i] = err
			if err == nil {
				ids[i] = ch.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var channels int64
	s.DB.Model(&models.Channel{}).Count(&channels)
	assert.EqualValues(t, 1, channels)

	members, err := s.ParticipantIDs(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	ch, err := s.GetChannel(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "direct:alice_bob", ch.Name)
}

func TestCreateGroup_MembershipFloor(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()

	_, err := s.CreateGroup(ctx, "owner", "g", "", []string{"owner", "a", "a"})
	assert.ErrorIs(t, err, models.ErrGroupTooSmall)

	g, err := s.CreateGroup(ctx, "owner", "", "desc", []string{"a", "b", "owner"})
	require.NoError(t, err)
	assert.True(t, g.IsGroup)
	assert.Equal(t, "New group", g.Title)
	assert.Len(t, g.Participants, 3)

	p, err := s.GetParticipant(ctx, g.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, p.Role)

	_, err = s.GetParticipant(ctx, g.ID, "stranger")
	assert.ErrorIs(t, err, models.ErrNotMember)
}

func TestSoftDeleteGroup(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()
	g, err := s.CreateGroup(ctx, "owner", "team", "", []string{"a", "b"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.SoftDeleteGroup(ctx, g.ID, "a"), models.ErrForbidden)
	assert.ErrorIs(t, s.SoftDeleteGroup(ctx, g.ID, "stranger"), models.ErrNotMember)
	require.NoError(t, s.SoftDeleteGroup(ctx, g.ID, "owner"))

	_, err = s.GetParticipant(ctx, g.ID, "a")
	assert.ErrorIs(t, err, models.ErrNotMember)
	_, err = s.GetChannel(ctx, g.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.SoftDeleteGroup(ctx, g.ID, "owner"), models.ErrNotFound)
}

func TestPersistMessage_Idempotent(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()
	ch, err := s.GetOrCreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)

	m := newMessage(ch.ID, "alice")
	m.TempID = "tmp-1"
	m.ClientMessageID = "cm-1"
	m.Attachments = []models.Attachment{{URL: "https://x/a.png", MimeType: "image/png"}}

	res, err := s.PersistMessage(ctx, m)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []models.UnreadUpdate{{UserID: "bob", UnreadCount: 1}}, res.UnreadUpdates)

	again := *m
	again.Attachments = nil
	res, err = s.PersistMessage(ctx, &again)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	byTemp := newMessage(ch.ID, "alice")
	byTemp.TempID = "tmp-1"
	res, err = s.PersistMessage(ctx, byTemp)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, m.ID, res.ExistingID)

	byClient := newMessage(ch.ID, "alice")
	byClient.ClientMessageID = "cm-1"
	res, err = s.PersistMessage(ctx, byClient)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// The same tempId from another sender is a different message.
	other := newMessage(ch.ID, "bob")
	other.TempID = "tmp-1"
	res, err = s.PersistMessage(ctx, other)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	var count int64
	s.DB.Model(&models.Message{}).Where("channel_id = ?", ch.ID).Count(&count)
	assert.EqualValues(t, 2, count)

	unread, err := s.UnreadCount(ctx, ch.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
	unread, err = s.UnreadCount(ctx, ch.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	history, err := s.History(ctx, ch.ID, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.StatusPersisted, history[0].Status)
	assert.NotNil(t, history[0].PersistedAt)
}

func TestPersistMessage_UnreadMonotonicUnderConcurrency(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()

	const n = 20
	senders := make([]string, n)
	for i := range senders {
		senders[i] = fmt.Sprintf("sender-%d", i)
	}
	g, err := s.CreateGroup(ctx, "watcher", "team", "", senders)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []int
	)
	for _, sender := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := newMessage(g.ID, sender)
			m.IsGroup = true
			res, err := s.PersistMessage(ctx, m)
			if !assert.NoError(t, err) {
				return
			}
			for _, u := range res.UnreadUpdates {
				assert.NotEqual(t, sender, u.UserID, "sender never counts its own message")
				if u.UserID == "watcher" {
					mu.Lock()
					seen = append(seen, u.UnreadCount)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.ElementsMatch(t, want, seen, "each increment observes a distinct count")

	c, err := s.UnreadCount(ctx, g.ID, "watcher")
	require.NoError(t, err)
	assert.Equal(t, n, c)
	for _, sender := range senders {
		c, err := s.UnreadCount(ctx, g.ID, sender)
		require.NoError(t, err)
		assert.Equal(t, n-1, c, sender)
	}
}

func TestFindDirectChannel_DoesNotCreate(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()

	_, err := s.FindDirectChannel(ctx, "alice", "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
	var n int64
	require.NoError(t, s.DB.Model(&models.Channel{}).Count(&n).Error)
	assert.Zero(t, n)

	created, err := s.GetOrCreateDirectChannel(ctx, "bob", "alice")
	require.NoError(t, err)
	found, err := s.FindDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.False(t, found.IsGroup)
}

func TestResetUnread_ThenIncrement(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()
	ch, err := s.GetOrCreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.PersistMessage(ctx, newMessage(ch.ID, "alice"))
		require.NoError(t, err)
	}
	require.NoError(t, s.ResetUnread(ctx, ch.ID, "bob"))
	c, _ := s.UnreadCount(ctx, ch.ID, "bob")
	assert.Equal(t, 0, c)

	p, err := s.GetParticipant(ctx, ch.ID, "bob")
	require.NoError(t, err)
	assert.NotNil(t, p.LastReadAt)

	_, err = s.PersistMessage(ctx, newMessage(ch.ID, "alice"))
	require.NoError(t, err)
	c, _ = s.UnreadCount(ctx, ch.ID, "bob")
	assert.Equal(t, 1, c)

	assert.ErrorIs(t, s.ResetUnread(ctx, ch.ID, "mallory"), models.ErrNotMember)
}

func TestHistory_OldestFirstAndLimited(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 60; i++ {
		m := newMessage("c1", "alice")
		m.Message = fmt.Sprint(i)
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := s.PersistMessage(ctx, m)
		require.NoError(t, err)
	}

	h, err := s.History(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, h, 50)
	assert.Equal(t, "10", h[0].Message)
	assert.Equal(t, "59", h[49].Message)
}

func TestDeactivateInactiveUsers(t *testing.T) {
	s := storagetest.NewService(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "old", "old"))
	require.NoError(t, s.EnsureUser(ctx, "fresh", "fresh"))
	require.NoError(t, s.DB.Model(&models.User{}).Where("id = ?", "old").
		Update("last_seen", time.Now().UTC().Add(-3*365*24*time.Hour)).Error)
	ch, err := s.GetOrCreateDirectChannel(ctx, "old", "fresh")
	require.NoError(t, err)

	ids, err := s.DeactivateInactiveUsers(ctx, time.Now().UTC().Add(-2*365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	_, err = s.GetParticipant(ctx, ch.ID, "old")
	assert.ErrorIs(t, err, models.ErrNotMember)

	ids, err = s.DeactivateInactiveUsers(ctx, time.Now().UTC().Add(-2*365*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisCache_Bounded(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache := storage.NewRedisCache(rdb, 200)
	ctx := context.Background()

	for i := 0; i < 210; i++ {
		m := newMessage("c1", "alice")
		m.ID = fmt.Sprintf("m%d", i)
		require.NoError(t, cache.Append(ctx, m))
	}

	all, err := cache.Recent(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 200)
	assert.Equal(t, "m10", all[0].ID)
	assert.Equal(t, "m209", all[199].ID)

	last, err := cache.Recent(ctx, "c1", 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, "m207", last[0].ID)

	require.NoError(t, cache.Drop(ctx, "c1"))
	empty, _ := cache.Recent(ctx, "c1", 0)
	assert.Empty(t, empty)
}
