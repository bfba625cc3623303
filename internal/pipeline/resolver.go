package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
	"github.com/rs/zerolog"
)

// TokenResolver turns a user id into the set of dispatchable device tokens.
type TokenResolver struct {
	users    notify.UserFetcher
	validate notify.TokenValidator
	logger   zerolog.Logger
}

// NewTokenResolver creates a resolver. A nil validator accepts every
// non-empty token.
func NewTokenResolver(users notify.UserFetcher, validate notify.TokenValidator, logger zerolog.Logger) *TokenResolver {
	if validate == nil {
		validate = notify.PrefixValidator("")
	}
	return &TokenResolver{
		users:    users,
		validate: validate,
		logger:   logger.With().Str("component", "TokenResolver").Logger(),
	}
}

// Resolve fetches the user's device-token mapping and returns the distinct,
// valid tokens ordered by installation id. A missing user document yields an
// error wrapping notify.ErrRecipientNotFound.
func (r *TokenResolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	user, err := r.users.FetchUser(ctx, userID)
	if err != nil {
		if errors.Is(err, notify.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", notify.ErrRecipientNotFound, userID)
		}
		return nil, fmt.Errorf("failed to fetch device tokens for %s: %w", userID, err)
	}
	return r.Extract(user), nil
}

// Extract applies the resolver's filtering to an already fetched user.
func (r *TokenResolver) Extract(user *notify.User) []string {
	installations := make([]string, 0, len(user.DeviceTokens))
	for id := range user.DeviceTokens {
		installations = append(installations, id)
	}
	sort.Strings(installations)

	seen := make(map[string]struct{}, len(installations))
	tokens := make([]string, 0, len(installations))
	skipped := 0
	for _, id := range installations {
		token := user.DeviceTokens[id]
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		if !r.validate(token) {
			skipped++
			continue
		}
		tokens = append(tokens, token)
	}

	if skipped > 0 {
		r.logger.Debug().Str("user_id", user.ID).Int("skipped", skipped).Msg("Ignoring device tokens in an unrecognised format.")
	}
	return tokens
}
