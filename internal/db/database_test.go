package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/manpreetbhatti/doodledock/backend/internal/models"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "doodledock-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func mustUser(t *testing.T, db *Database, email string) *models.User {
	t.Helper()
	user, err := db.EnsureUser(context.Background(), email, "")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestUserOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user, err := db.EnsureUser(ctx, "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if user.ID == "" {
		t.Fatal("User should have an id")
	}

	again, err := db.EnsureUser(ctx, "alice@example.com", "Other")
	if err != nil {
		t.Fatalf("Failed to ensure user: %v", err)
	}
	if again.ID != user.ID {
		t.Errorf("Expected existing user %s, got %s", user.ID, again.ID)
	}

	found, err := db.FindUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("Failed to find user: %v", err)
	}
	if found == nil || found.Email != "alice@example.com" || found.Name != "Alice" {
		t.Errorf("Unexpected user: %+v", found)
	}

	missing, err := db.FindUser(ctx, "non-existent")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("Non-existent user should return nil")
	}

	if _, err := db.EnsureUser(ctx, "  ", ""); err == nil {
		t.Error("Empty email should fail")
	}
}

func TestRoomOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := mustUser(t, db, "owner@example.com")

	room, err := db.CreateRoom(ctx, "demo", owner.ID)
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	if room.Name != "demo" || room.OwnerID != owner.ID {
		t.Errorf("Unexpected room: %+v", room)
	}
	if room.OwnerEmail != "owner@example.com" {
		t.Errorf("Expected owner email, got '%s'", room.OwnerEmail)
	}

	byName, err := db.GetRoomByName(ctx, "demo")
	if err != nil {
		t.Fatalf("Failed to get room: %v", err)
	}
	if byName == nil || byName.ID != room.ID {
		t.Fatalf("Expected room %s, got %+v", room.ID, byName)
	}

	_, err = db.CreateRoom(ctx, "demo", owner.ID)
	if !errors.Is(err, models.ErrRoomExists) {
		t.Errorf("Expected ErrRoomExists, got %v", err)
	}

	missing, err := db.GetRoomByName(ctx, "nope")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("Non-existent room should return nil")
	}

	ids, err := db.ListRoomIDs(ctx)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(ids) != 1 || ids[0] != room.ID {
		t.Errorf("Expected [%s], got %v", room.ID, ids)
	}
}

func TestConcurrentCreateRoomSingleRecord(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := mustUser(t, db, "owner@example.com")

	var wg sync.WaitGroup
	var created, conflicts int
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.CreateRoom(ctx, "race", owner.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, models.ErrRoomExists):
				conflicts++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("Expected exactly 1 created room, got %d (conflicts %d)", created, conflicts)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Rooms != 1 {
		t.Errorf("Expected 1 room record, got %d", stats.Rooms)
	}
}

func TestChatMessages(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustUser(t, db, "chatter@example.com")
	room, err := db.CreateRoom(ctx, "chat-room", user.ID)
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg, err := db.AppendChatMessage(ctx, room.ID, user.ID, fmt.Sprintf("hello %d", i))
		if err != nil {
			t.Fatalf("Failed to append message: %v", err)
		}
		if msg.UserEmail != "chatter@example.com" {
			t.Errorf("Expected author email, got '%s'", msg.UserEmail)
		}
		if msg.CreatedAt.IsZero() {
			t.Error("Message should carry a timestamp")
		}
	}

	messages, err := db.ListMessages(ctx, room.ID, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].Message != "hello 2" {
		t.Errorf("Expected newest first, got '%s'", messages[0].Message)
	}

	page, err := db.ListMessages(ctx, room.ID, 1, 1)
	if err != nil {
		t.Fatalf("Failed to list page: %v", err)
	}
	if len(page) != 1 || page[0].Message != "hello 1" {
		t.Errorf("Unexpected page: %+v", page)
	}

	if _, err := db.AppendChatMessage(ctx, room.ID, "ghost", "boo"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown author, got %v", err)
	}
}

func TestPruneMessages(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustUser(t, db, "pruner@example.com")
	room, err := db.CreateRoom(ctx, "prune-room", user.ID)
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := db.AppendChatMessage(ctx, room.ID, user.ID, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("Failed to append message: %v", err)
		}
	}

	removed, err := db.PruneMessages(ctx, room.ID, 4)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if removed != 6 {
		t.Errorf("Expected 6 removed, got %d", removed)
	}

	count, err := db.GetMessageCount(ctx, room.ID)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected 4 remaining, got %d", count)
	}

	messages, _ := db.ListMessages(ctx, room.ID, 10, 0)
	if messages[len(messages)-1].Message != "m6" {
		t.Errorf("Expected oldest kept message m6, got %s", messages[len(messages)-1].Message)
	}
}

func TestStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustUser(t, db, "stats@example.com")
	for i := 0; i < 3; i++ {
		if _, err := db.CreateRoom(ctx, fmt.Sprintf("stats-room-%d", i), user.ID); err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Users != 1 || stats.Rooms != 3 || stats.Messages != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
