// Package directory resolves room names to durable room records, creating
// them on first use.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/manpreetbhatti/doodledock/backend/internal/models"
)

// MaxNameLength bounds room names in runes.
const MaxNameLength = 64

var ErrInvalidName = errors.New("invalid room name")

// Store is the durable room record store.
type Store interface {
	GetRoomByName(ctx context.Context, name string) (*models.Room, error)
	CreateRoom(ctx context.Context, name, ownerID string) (*models.Room, error)
}

// Adapter implements find-or-create over a Store. A uniqueness conflict on
// create means a concurrent caller won the race; the winner's record is
// re-fetched and returned.
type Adapter struct {
	store Store
}

func New(store Store) *Adapter {
	return &Adapter{store: store}
}

// FindOrCreateRoom returns the room called name, creating it owned by
// requestingUserID when it does not exist yet.
func (a *Adapter) FindOrCreateRoom(ctx context.Context, name, requestingUserID string) (*models.Room, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	room, err := a.store.GetRoomByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get room %q: %w", name, err)
	}
	if room != nil {
		return room, nil
	}

	room, err = a.store.CreateRoom(ctx, name, requestingUserID)
	if errors.Is(err, models.ErrRoomExists) {
		room, err = a.store.GetRoomByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("refetch room %q: %w", name, err)
		}
		if room == nil {
			return nil, fmt.Errorf("room %q vanished after conflict: %w", name, models.ErrNotFound)
		}
		return room, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create room %q: %w", name, err)
	}
	return room, nil
}

// NormalizeName trims name and checks it is non-empty and bounded.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	return name, nil
}
