package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// UserFetcher is the part of *discordgo.Session used to look up users.
type UserFetcher interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

var _ UserFetcher = (*discordgo.Session)(nil)

// Label is the human-readable name attached to a speaker's frames:
// username#discriminator, or just the username for accounts that no
// longer have a discriminator.
func Label(user *discordgo.User) string {
	if user.Discriminator == "" || user.Discriminator == "0" {
		return user.Username
	}
	return user.Username + "#" + user.Discriminator
}

// LabelResolver resolves speaker labels through the Discord API. Successful
// lookups are cached for the life of the process.
type LabelResolver struct {
	users UserFetcher

	mu    sync.Mutex
	cache map[string]string
}

func NewLabelResolver(users UserFetcher) *LabelResolver {
	return &LabelResolver{
		users: users,
		cache: make(map[string]string),
	}
}

func (r *LabelResolver) ResolveLabel(ctx context.Context, userID string) (string, error) {
	r.mu.Lock()
	label, ok := r.cache[userID]
	r.mu.Unlock()
	if ok {
		return label, nil
	}

	user, err := r.users.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}
	if user == nil || user.Username == "" {
		return "", fmt.Errorf("user %s has no username", userID)
	}

	label = Label(user)
	r.mu.Lock()
	r.cache[userID] = label
	r.mu.Unlock()
	return label, nil
}
