// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatline/internal/models"
	"chatline/internal/storage"
)

// NewTestDB opens a private in-memory sqlite database and migrates it.
// A single connection keeps every query on the same in-memory database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", name)

	db, err := gorm.Open(sqlite.Open(dsn), storage.NewGormConfig(logger.Default.LogMode(logger.Silent)))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.AutoMigrateTables(db))
	return db
}

// CreateUser inserts a user with fake but valid profile data.
func CreateUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	username := strings.ToLower(gofakeit.LetterN(6)) + fmt.Sprint(gofakeit.Number(100, 999))
	u := &models.User{
		Email:          username + "@" + strings.ToLower(gofakeit.DomainName()),
		Username:       username,
		CredentialHash: "not-a-real-hash",
	}
	require.NoError(t, db.WithContext(context.Background()).Create(u).Error)
	return u
}

// MakeFriends writes a FRIENDS edge pair directly.
func MakeFriends(t *testing.T, db *gorm.DB, a, b *models.User) {
	t.Helper()
	repo := storage.NewGormFriendshipRepository(db)
	require.NoError(t, repo.MarkFriends(context.Background(), a.ID, b.ID))
}

// Emitted is one recorded realtime event.
type Emitted struct {
	Target  string // "room" or "user"
	To      string
	Event   string
	Payload interface{}
}

// RecordingEmitter captures emitted events instead of delivering them.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Emitted
}

func (r *RecordingEmitter) EmitToRoom(_ context.Context, room, event string, payload interface{}) error {
	r.record(Emitted{Target: "room", To: room, Event: event, Payload: payload})
	return nil
}

func (r *RecordingEmitter) EmitToUser(_ context.Context, userID, event string, payload interface{}) error {
	r.record(Emitted{Target: "user", To: userID, Event: event, Payload: payload})
	return nil
}

func (r *RecordingEmitter) record(e Emitted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *RecordingEmitter) Events() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emitted, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops recorded events.
func (r *RecordingEmitter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// To returns the events sent to one user or room.
func (r *RecordingEmitter) To(to string) []Emitted {
	var out []Emitted
	for _, e := range r.Events() {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out
}
