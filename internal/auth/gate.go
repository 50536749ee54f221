package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/manpreetbhatti/doodledock/backend/internal/models"
)

// IdentityLookup resolves a user id to its identity record. It returns
// (nil, nil) when the user does not exist.
type IdentityLookup interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
}

// Gate authenticates websocket handshakes.
type Gate struct {
	tokens *TokenService
	users  IdentityLookup
}

func NewGate(tokens *TokenService, users IdentityLookup) *Gate {
	return &Gate{tokens: tokens, users: users}
}

// Authenticate verifies token and confirms the user still exists.
func (g *Gate) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := g.users.FindUser(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", claims.UserID, err)
	}
	if user == nil {
		return nil, ErrUnknownUser
	}
	return user, nil
}

// AuthenticateRequest extracts the token from r and authenticates it.
func (g *Gate) AuthenticateRequest(r *http.Request) (*models.User, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, ErrMissingToken
	}
	return g.Authenticate(r.Context(), token)
}

// TokenFromRequest reads the "token" query parameter, falling back to a
// bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Reason maps an authentication error to a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	default:
		return "lookup_failed"
	}
}
