package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/doodledock/backend/internal/db"
	"github.com/manpreetbhatti/doodledock/backend/internal/models"
	"github.com/manpreetbhatti/doodledock/backend/internal/ws"
)

type API struct {
	hub      *ws.Hub
	database *db.Database
	logger   *slog.Logger
}

func New(hub *ws.Hub, database *db.Database, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		hub:      hub,
		database: database,
		logger:   logger.With("component", "api"),
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("encode json response", "error", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := map[string]any{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats(r.Context())
		if err != nil {
			a.logger.Warn("load store stats", "error", err)
		} else {
			stats["total_users"] = dbStats.Users
			stats["total_rooms"] = dbStats.Rooms
			stats["total_messages"] = dbStats.Messages
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

// ListActiveRoomsHandler lists the rooms currently held in memory.
func (a *API) ListActiveRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.hub.GetActiveRooms()
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListMessagesHandler returns a room's chat history, newest first.
func (a *API) ListMessagesHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	ctx := r.Context()

	room, err := a.database.GetRoom(ctx, roomID)
	if err != nil {
		a.logger.Error("get room", "room", roomID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if room == nil {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	limit, offset := pagination(r)
	messages, err := a.database.ListMessages(ctx, roomID, limit, offset)
	if err != nil {
		a.logger.Error("list messages", "room", roomID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	total, err := a.database.GetMessageCount(ctx, roomID)
	if err != nil {
		a.logger.Warn("count messages", "room", roomID, "error", err)
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"room":     roomResponse(room, a.hub),
		"messages": messages,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

type RoomResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerEmail  string    `json:"ownerEmail"`
	CreatedAt   time.Time `json:"createdAt"`
	ActiveUsers int       `json:"activeUsers"`
}

func roomResponse(room *models.Room, hub *ws.Hub) RoomResponse {
	return RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		OwnerEmail:  room.OwnerEmail,
		CreatedAt:   room.CreatedAt,
		ActiveUsers: len(hub.RoomMembers(room.ID)),
	}
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rooms"), "/")

	// /api/rooms
	if path == "" {
		a.ListActiveRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}/messages
	roomID, rest, _ := strings.Cut(path, "/")
	if roomID != "" && rest == "messages" {
		a.ListMessagesHandler(w, r, roomID)
		return
	}

	a.errorResponse(w, http.StatusNotFound, "Not found")
}

// Routes registers the HTTP surface on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.HealthHandler)
	mux.HandleFunc("/api/stats", a.StatsHandler)
	mux.HandleFunc("/api/rooms", a.RoomsRouter)
	mux.HandleFunc("/api/rooms/", a.RoomsRouter)
}

// CORS allows browser clients on other origins to read the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
