// Package seed fills a development database with demo users, friendships
// and one group conversation. It goes through the services so every row it
// writes obeys the same rules as real traffic.
package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/models"
	"chatline/internal/services"
)

// DefaultPassword is the password of every seeded user.
const DefaultPassword = "password"

// Options configures the seeder.
type Options struct {
	NumUsers    int
	NumMessages int
	GroupName   string
	// Seed makes the generated data reproducible when non-zero.
	Seed int64
}

// Result summarizes what was created.
type Result struct {
	Users    []models.CurrentUserView
	GroupID  string
	Messages int
}

// Seeder creates demo data through the services.
type Seeder struct {
	svc *services.Container
	log *zap.Logger
}

// New creates a Seeder.
func New(svc *services.Container, log *zap.Logger) *Seeder {
	return &Seeder{svc: svc, log: log.Named("seed")}
}

// Run creates opts.NumUsers users, makes each user friends with the next one,
// and opens one group with everyone in it.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.NumUsers < 2 {
		return nil, fmt.Errorf("need at least 2 users, got %d", opts.NumUsers)
	}
	if opts.GroupName == "" {
		opts.GroupName = "General"
	}
	faker := gofakeit.New(opts.Seed)

	result := &Result{}
	for i := 0; i < opts.NumUsers; i++ {
		auth, err := s.signup(ctx, faker, i)
		if err != nil {
			return nil, err
		}
		result.Users = append(result.Users, auth.User)
	}

	// 相邻用户互加好友：一方请求，另一方接受
	for i := 0; i+1 < len(result.Users); i++ {
		a, b := result.Users[i].ID, result.Users[i+1].ID
		if _, err := s.svc.Friendship.RequestOrAccept(ctx, a, b); err != nil {
			return nil, fmt.Errorf("friend request %d: %w", i, err)
		}
		if _, err := s.svc.Friendship.RequestOrAccept(ctx, b, a); err != nil {
			return nil, fmt.Errorf("friend accept %d: %w", i, err)
		}
	}

	creator := result.Users[0].ID
	others := make([]string, 0, len(result.Users)-1)
	for _, u := range result.Users[1:] {
		others = append(others, u.ID)
	}
	group, err := s.svc.Channels.CreateGroup(ctx, creator, opts.GroupName, others)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	result.GroupID = group.ID

	for i := 0; i < opts.NumMessages; i++ {
		author := result.Users[faker.Number(0, len(result.Users)-1)].ID
		content := faker.Sentence(faker.Number(3, 12))
		if _, err := s.svc.Messages.Post(ctx, author, group.ID, services.PostMessageInput{Content: content}); err != nil {
			return nil, fmt.Errorf("post message %d: %w", i, err)
		}
		result.Messages++
	}

	s.log.Info("演示数据已生成",
		zap.Int("users", len(result.Users)),
		zap.String("group", result.GroupID),
		zap.Int("messages", result.Messages))
	return result, nil
}

// signup retries a few times because random usernames can collide.
func (s *Seeder) signup(ctx context.Context, faker *gofakeit.Faker, i int) (*models.AuthResult, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		username := usernameFor(faker.FirstName(), faker.Number(100, 9999))
		res, err := s.svc.Auth.Signup(ctx, services.SignupInput{
			Email:    username + "@" + strings.ToLower(faker.DomainName()),
			Username: username,
			Password: DefaultPassword,
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if apperr.KindOf(err) != apperr.KindConflict {
			break
		}
	}
	return nil, fmt.Errorf("signup user %d: %w", i, lastErr)
}

// usernameFor keeps only [a-z0-9] and clamps the length to 3-20.
func usernameFor(first string, suffix int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(first) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > 14 {
		name = name[:14]
	}
	return fmt.Sprintf("%s%d", name, suffix)
}
