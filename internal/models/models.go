// Package models holds the records shared between storage, auth and the
// realtime hub.
package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRoomExists is returned when a room name is already taken.
	ErrRoomExists = errors.New("room name already exists")
)

// User is a registered identity.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplayName returns the name, falling back to the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Room is the durable record of a named room.
type Room struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerID    string    `json:"ownerId"`
	OwnerEmail string    `json:"ownerEmail"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatMessage is a persisted chat record enriched with its author.
type ChatMessage struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	UserEmail string    `json:"userEmail"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
