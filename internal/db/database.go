package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/manpreetbhatti/doodledock/backend/internal/models"
)

// Database is the sqlite store behind identity lookup, the room directory
// and the chat archive.
type Database struct {
	db  *sql.DB
	now func() time.Time
}

// Stats summarizes stored records.
type Stats struct {
	Users    int `json:"users"`
	Rooms    int `json:"rooms"`
	Messages int `json:"messages"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("database initialized", "path", dbPath)
	return &Database{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_chats_room_id ON chats(room_id, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// User operations

// FindUser returns the user with id, or nil when it does not exist.
func (d *Database) FindUser(ctx context.Context, id string) (*models.User, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, email, name, created_at FROM users WHERE id = ?",
		id,
	)
	return scanUser(row)
}

func (d *Database) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, email, name, created_at FROM users WHERE email = ?",
		email,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser returns the user registered under email, creating it when absent.
func (d *Database) EnsureUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required")
	}

	if u, err := d.FindUserByEmail(ctx, email); err != nil || u != nil {
		return u, err
	}

	u := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: d.now().UTC(),
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Email, u.Name, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return d.FindUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Room operations

const roomColumns = `
	SELECT r.id, r.name, r.owner_id, COALESCE(u.email, ''), r.created_at
	FROM rooms r LEFT JOIN users u ON u.id = r.owner_id`

func scanRoom(row *sql.Row) (*models.Room, error) {
	var room models.Room
	err := row.Scan(&room.ID, &room.Name, &room.OwnerID, &room.OwnerEmail, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoomByName returns the room called name, or nil when it does not exist.
func (d *Database) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	return scanRoom(d.db.QueryRowContext(ctx, roomColumns+" WHERE r.name = ?", name))
}

func (d *Database) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	return scanRoom(d.db.QueryRowContext(ctx, roomColumns+" WHERE r.id = ?", id))
}

// CreateRoom inserts a room owned by ownerID. It returns models.ErrRoomExists
// when the name is already taken.
func (d *Database) CreateRoom(ctx context.Context, name, ownerID string) (*models.Room, error) {
	id := uuid.NewString()
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO rooms (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)",
		id, name, ownerID, d.now().UTC(),
	)
	if isUniqueViolation(err) {
		return nil, models.ErrRoomExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	room, err := d.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, models.ErrNotFound
	}
	return room, nil
}

// ListRoomIDs returns the ids of every stored room.
func (d *Database) ListRoomIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id FROM rooms ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Chat operations

// AppendChatMessage archives a chat message and returns it with its author
// and server timestamp.
func (d *Database) AppendChatMessage(ctx context.Context, roomID, userID, text string) (*models.ChatMessage, error) {
	author, err := d.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}

	createdAt := d.now().UTC()
	result, err := d.db.ExecContext(ctx,
		"INSERT INTO chats (room_id, user_id, message, created_at) VALUES (?, ?, ?, ?)",
		roomID, userID, text, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.ChatMessage{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		UserEmail: author.Email,
		Message:   text,
		CreatedAt: createdAt,
	}, nil
}

// ListMessages returns chat history for a room, newest first.
func (d *Database) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.ChatMessage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.room_id, c.user_id, COALESCE(u.email, ''), c.message, c.created_at
		FROM chats c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.room_id = ?
		ORDER BY c.id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.UserEmail, &m.Message, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (d *Database) GetMessageCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chats WHERE room_id = ?",
		roomID,
	).Scan(&count)
	return count, err
}

// PruneMessages deletes all but the newest keep messages of a room and
// returns how many were removed.
func (d *Database) PruneMessages(ctx context.Context, roomID string, keep int) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		DELETE FROM chats
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM chats
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats

func (d *Database) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	counts := []struct {
		table string
		dest  *int
	}{
		{"users", &stats.Users},
		{"rooms", &stats.Rooms},
		{"chats", &stats.Messages},
	}
	for _, c := range counts {
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return &stats, nil
}
