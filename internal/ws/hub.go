package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/doodledock/backend/internal/directory"
	"github.com/manpreetbhatti/doodledock/backend/internal/models"
	"github.com/manpreetbhatti/doodledock/backend/internal/observability"
	"github.com/manpreetbhatti/doodledock/backend/internal/protocol"
	"github.com/manpreetbhatti/doodledock/backend/internal/ratelimit"
	"github.com/manpreetbhatti/doodledock/backend/internal/room"
	"github.com/manpreetbhatti/doodledock/backend/internal/throttle"
)

// RoomDirectory resolves a room name to its persistent record, creating it
// on first use.
type RoomDirectory interface {
	FindOrCreateRoom(ctx context.Context, name, requestingUserID string) (*models.Room, error)
}

// MessageArchive persists chat messages.
type MessageArchive interface {
	AppendChatMessage(ctx context.Context, roomID, userID, text string) (*models.ChatMessage, error)
}

type Config struct {
	HeartbeatInterval   time.Duration
	DrawThrottle        time.Duration
	CursorThrottle      time.Duration
	CollaboratorTimeout time.Duration

	MessagesPerSecond float64
	MessageBurst      int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.DrawThrottle <= 0 {
		c.DrawThrottle = 33 * time.Millisecond
	}
	if c.CursorThrottle <= 0 {
		c.CursorThrottle = 16 * time.Millisecond
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = 5 * time.Second
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 100
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = 200
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// roomState is the in-memory state of an active room.
type roomState struct {
	info    models.Room
	members map[string]*Client // keyed by user id
	canvas  *room.Canvas
}

// RoomSummary describes an active room for the admin API.
type RoomSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	Members   int    `json:"members"`
	Shapes    int    `json:"shapes"`
	Cursors   int    `json:"cursors"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type inboundMessage struct {
	client *Client
	msg    *protocol.Inbound
}

type joinResult struct {
	client *Client
	seq    uint64
	room   *models.Room
	err    error
}

type chatResult struct {
	client *Client
	record *models.ChatMessage
	err    error
}

// outbound is a throttled frame waiting for its window to close.
type outbound struct {
	roomID string
	sender *Client
	data   []byte
	key    string
	epoch  uint64
}

// Hub owns every session and room. All room state is mutated by the Run
// loop; mu only lets stats readers observe it from other goroutines.
type Hub struct {
	cfg       Config
	directory RoomDirectory
	archive   MessageArchive
	logger    *slog.Logger
	metrics   *observability.Metrics
	limiters  *ratelimit.UserLimiters
	throttle  *throttle.Coalescer[outbound]
	now       func() time.Time

	// lastSweep is when the heartbeat last probed clients.
	lastSweep time.Time

	// ctx is the Run context, used as the parent for collaborator calls.
	ctx context.Context

	rooms   map[string]*roomState
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	joins      chan joinResult
	chats      chan chatResult
	flushes    chan outbound

	// done is closed when the loop stops accepting events; stopped once
	// shutdown has finished.
	done     chan struct{}
	stopped  chan struct{}
	doneOnce sync.Once
}

func NewHub(dir RoomDirectory, archive MessageArchive, cfg Config) *Hub {
	cfg.applyDefaults()

	h := &Hub{
		cfg:        cfg,
		directory:  dir,
		archive:    archive,
		logger:     cfg.Logger.With("component", "hub"),
		metrics:    cfg.Metrics,
		limiters:   ratelimit.NewUserLimiters(cfg.MessagesPerSecond, cfg.MessageBurst),
		now:        time.Now,
		ctx:        context.Background(),
		rooms:      make(map[string]*roomState),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage, 256),
		joins:      make(chan joinResult, 64),
		chats:      make(chan chatResult, 64),
		flushes:    make(chan outbound, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	h.throttle = throttle.New(func(_ string, o outbound) {
		select {
		case h.flushes <- o:
		case <-h.done:
		}
	})
	return h
}

// Run processes hub events until ctx is cancelled. On return every
// connection has been closed.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case in := <-h.inbound:
			h.handle(in.client, in.msg)

		case res := <-h.joins:
			h.completeJoin(res)

		case res := <-h.chats:
			h.completeChat(res)

		case o := <-h.flushes:
			h.flush(o)

		case <-ticker.C:
			h.sweep()
		}
	}
}

// Done is closed once the hub has stopped and closed every connection.
func (h *Hub) Done() <-chan struct{} { return h.stopped }

// Register admits an authenticated session. It returns once the hub has
// accepted it, so frames dispatched afterwards are handled after the
// registration.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues a decoded client frame for the hub loop.
func (h *Hub) Dispatch(c *Client, msg *protocol.Inbound) {
	select {
	case h.inbound <- inboundMessage{client: c, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
	h.throttle.Stop()
	h.limiters.Stop()

	h.mu.Lock()
	for c := range h.clients {
		c.transport.Close()
		h.metrics.ConnectionClosed()
	}
	count := len(h.clients)
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]*roomState)
	h.mu.Unlock()

	h.metrics.SetActiveRooms(0)
	h.logger.Info("hub stopped", "closed_connections", count)
	close(h.stopped)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	c.markAlive()
	h.metrics.ConnectionOpened()
	h.logger.Info("client connected", "client", c.id, "user", c.user.ID, "total", total)

	c.sendFrame(protocol.Authenticated{
		Type:      protocol.TypeAuthenticated,
		UserID:    c.user.ID,
		UserEmail: c.user.Email,
	})
}

// removeClient tears a session down. Calling it for an unknown client is a
// no-op.
func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.leave(c)

	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	c.transport.Close()
	h.metrics.ConnectionClosed()
	h.logger.Info("client disconnected", "client", c.id, "user", c.user.ID, "total", total)
}

func (h *Hub) registered(c *Client) bool {
	_, ok := h.clients[c]
	return ok
}

func (h *Hub) handle(c *Client, msg *protocol.Inbound) {
	if !h.registered(c) {
		return
	}
	h.metrics.MessageReceived(msg.Type)

	if msg.Type == protocol.TypeJoin {
		h.beginJoin(c, msg.RoomName)
		return
	}

	rs := h.currentRoom(c)
	if rs == nil {
		c.sendError("Not in a room")
		return
	}

	switch msg.Type {
	case protocol.TypeLeave:
		roomID := rs.info.ID
		h.leave(c)
		c.sendFrame(protocol.Left{Type: protocol.TypeLeft, RoomID: roomID})

	case protocol.TypeMessage:
		h.beginChat(c, rs.info.ID, msg.Message)

	case protocol.TypeCanvasDraw:
		h.draw(c, rs, msg.Shape, msg.IsComplete)

	case protocol.TypeCursorMove:
		h.moveCursor(c, rs, *msg.X, *msg.Y)

	case protocol.TypeCanvasClear:
		h.mu.Lock()
		rs.canvas.Clear()
		h.mu.Unlock()
		h.broadcastFrame(rs.info.ID, protocol.CanvasClear{
			Type:   protocol.TypeCanvasClear,
			Author: h.author(c),
		}, c)

	case protocol.TypeCanvasDelete:
		h.mu.Lock()
		removed := rs.canvas.Delete(msg.ShapeIndices)
		h.mu.Unlock()
		h.logger.Debug("shapes deleted", "room", rs.info.ID, "requested", len(msg.ShapeIndices), "removed", removed)
		h.broadcastFrame(rs.info.ID, protocol.CanvasDelete{
			Type:         protocol.TypeCanvasDelete,
			ShapeIndices: msg.ShapeIndices,
			Author:       h.author(c),
		}, c)

	case protocol.TypeCanvasUndo, protocol.TypeCanvasRedo:
		h.mu.Lock()
		rs.canvas.Replace(msg.Shapes)
		h.mu.Unlock()
		h.broadcastFrame(rs.info.ID, protocol.CanvasHistory{
			Type:   msg.Type,
			Shapes: msg.Shapes,
			Author: h.author(c),
		}, c)
	}
}

func (h *Hub) currentRoom(c *Client) *roomState {
	if c.roomID == "" {
		return nil
	}
	return h.rooms[c.roomID]
}

func (h *Hub) author(c *Client) protocol.Author {
	return protocol.Author{
		UserID:    c.user.ID,
		UserEmail: c.user.Email,
		Timestamp: protocol.Timestamp(h.now()),
	}
}

// Joining

// beginJoin resolves name off the loop. Only the most recent join a client
// asked for is applied.
func (h *Hub) beginJoin(c *Client, name string) {
	ctx := h.ctx
	c.joinSeq++
	seq := c.joinSeq
	go func() {
		ctx, cancel := context.WithTimeout(ctx, h.cfg.CollaboratorTimeout)
		defer cancel()

		r, err := h.directory.FindOrCreateRoom(ctx, name, c.user.ID)
		select {
		case h.joins <- joinResult{client: c, seq: seq, room: r, err: err}:
		case <-h.done:
		}
	}()
}

func (h *Hub) completeJoin(res joinResult) {
	c := res.client
	if !h.registered(c) || res.seq != c.joinSeq {
		return
	}
	if res.err == nil && res.room == nil {
		res.err = models.ErrNotFound
	}
	if res.err != nil {
		h.logger.Warn("join failed", "client", c.id, "user", c.user.ID, "error", res.err)
		if errors.Is(res.err, directory.ErrInvalidName) {
			c.sendError("Invalid room name")
		} else {
			c.sendError("Failed to join room")
		}
		return
	}

	info := res.room
	if c.roomID != "" && c.roomID != info.ID {
		h.leave(c)
	}

	h.mu.Lock()
	rs, ok := h.rooms[info.ID]
	if !ok {
		rs = &roomState{
			info:    *info,
			members: make(map[string]*Client),
			canvas:  room.NewCanvas(),
		}
		h.rooms[info.ID] = rs
	}

	evicted := rs.members[c.user.ID]
	if evicted == c {
		evicted = nil
	}
	if evicted != nil {
		evicted.roomID = ""
		evicted.cursor = nil
		delete(h.clients, evicted)
	}

	rejoin := c.roomID == info.ID
	rs.members[c.user.ID] = c
	c.roomID = info.ID
	count := len(rs.members)
	snapshot := rs.canvas.Snapshot()
	roomCount := len(h.rooms)
	h.mu.Unlock()

	if !ok {
		h.metrics.SetActiveRooms(roomCount)
		h.logger.Info("room activated", "room", info.ID, "name", info.Name)
	}
	if evicted != nil {
		// The replaced session is gone from the hub, so anything it
		// still has in flight is dropped.
		h.cancelThrottled(info.ID, evicted)
		evicted.transport.Close()
		h.metrics.ConnectionClosed()
		h.logger.Info("replaced previous session", "room", info.ID, "user", c.user.ID, "client", evicted.id)
	}

	c.sendFrame(protocol.CanvasState{
		Type:   protocol.TypeCanvasState,
		RoomID: info.ID,
		Shapes: snapshot,
	})

	if !rejoin {
		h.broadcastFrame(info.ID, protocol.Presence{
			Type:      protocol.TypeUserJoined,
			UserID:    c.user.ID,
			UserEmail: c.user.Email,
			UserCount: count,
		}, c)
	}

	c.sendFrame(protocol.Joined{
		Type:      protocol.TypeJoined,
		RoomID:    info.ID,
		RoomName:  info.Name,
		RoomOwner: info.OwnerEmail,
		UserCount: count,
	})

	h.logger.Info("client joined room", "room", info.ID, "user", c.user.ID, "members", count)
}

// leave removes c from its current room, if any, and announces the
// departure to the members that remain.
func (h *Hub) leave(c *Client) {
	roomID := c.roomID
	if roomID == "" {
		return
	}
	h.mu.Lock()
	c.roomID = ""
	c.cursor = nil
	h.mu.Unlock()
	h.cancelThrottled(roomID, c)

	rs, ok := h.rooms[roomID]
	if !ok || rs.members[c.user.ID] != c {
		return
	}

	h.mu.Lock()
	delete(rs.members, c.user.ID)
	count := len(rs.members)
	if count == 0 {
		delete(h.rooms, roomID)
	}
	roomCount := len(h.rooms)
	h.mu.Unlock()

	if count == 0 {
		h.metrics.SetActiveRooms(roomCount)
		h.logger.Info("room closed (empty)", "room", roomID)
		return
	}

	h.broadcastFrame(roomID, protocol.Presence{
		Type:      protocol.TypeUserLeft,
		UserID:    c.user.ID,
		UserEmail: c.user.Email,
		UserCount: count,
	}, nil)
	h.logger.Info("client left room", "room", roomID, "user", c.user.ID, "remaining", count)
}

// Drawing and cursors

func throttleKey(roomID, msgType string, c *Client) string {
	return roomID + "|" + msgType + "|" + c.id
}

func (h *Hub) cancelThrottled(roomID string, c *Client) {
	h.cancelKey(c, throttleKey(roomID, protocol.TypeCanvasDraw, c))
	h.cancelKey(c, throttleKey(roomID, protocol.TypeCursorMove, c))
}

// cancelKey drops a pending update. Bumping the epoch also discards an
// update whose timer already fired but has not reached the loop yet.
func (h *Hub) cancelKey(c *Client, key string) {
	h.throttle.Cancel(key)
	c.throttleEpoch[key]++
}

func (h *Hub) draw(c *Client, rs *roomState, shape json.RawMessage, complete bool) {
	data, err := protocol.Encode(protocol.CanvasDraw{
		Type:       protocol.TypeCanvasDraw,
		Shape:      shape,
		IsComplete: complete,
		Author:     h.author(c),
	})
	if err != nil {
		h.logger.Error("encode draw", "room", rs.info.ID, "error", err)
		return
	}

	key := throttleKey(rs.info.ID, protocol.TypeCanvasDraw, c)
	if complete {
		// A finished shape replaces any preview still waiting.
		h.mu.Lock()
		rs.canvas.Append(shape)
		h.mu.Unlock()
		h.cancelKey(c, key)
		h.broadcast(rs.info.ID, data, c)
		return
	}
	h.submitThrottled(key, protocol.TypeCanvasDraw, h.cfg.DrawThrottle, outbound{roomID: rs.info.ID, sender: c, data: data})
}

func (h *Hub) moveCursor(c *Client, rs *roomState, x, y float64) {
	h.mu.Lock()
	c.cursor = &Cursor{X: x, Y: y}
	h.mu.Unlock()
	data, err := protocol.Encode(protocol.CursorMove{
		Type:     protocol.TypeCursorMove,
		X:        x,
		Y:        y,
		UserName: c.user.DisplayName(),
		Author:   h.author(c),
	})
	if err != nil {
		h.logger.Error("encode cursor", "room", rs.info.ID, "error", err)
		return
	}
	key := throttleKey(rs.info.ID, protocol.TypeCursorMove, c)
	h.submitThrottled(key, protocol.TypeCursorMove, h.cfg.CursorThrottle, outbound{roomID: rs.info.ID, sender: c, data: data})
}

func (h *Hub) submitThrottled(key, msgType string, window time.Duration, o outbound) {
	o.key = key
	o.epoch = o.sender.throttleEpoch[key]
	if !h.throttle.Submit(key, window, o) {
		h.metrics.UpdateCoalesced(msgType)
	}
}

// flush delivers a throttled update unless its sender has since left the
// room or the update was cancelled.
func (h *Hub) flush(o outbound) {
	s := o.sender
	if !h.registered(s) || s.roomID != o.roomID || s.throttleEpoch[o.key] != o.epoch {
		return
	}
	h.broadcast(o.roomID, o.data, s)
}

// Chat

func (h *Hub) beginChat(c *Client, roomID, text string) {
	ctx := h.ctx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, h.cfg.CollaboratorTimeout)
		defer cancel()

		record, err := h.archive.AppendChatMessage(ctx, roomID, c.user.ID, text)
		select {
		case h.chats <- chatResult{client: c, record: record, err: err}:
		case <-h.done:
		}
	}()
}

func (h *Hub) completeChat(res chatResult) {
	c := res.client
	if !h.registered(c) {
		return
	}
	if res.err != nil {
		h.logger.Error("save chat message", "client", c.id, "user", c.user.ID, "error", res.err)
		c.sendError("Failed to save message")
		return
	}

	rec := res.record
	h.broadcastFrame(rec.RoomID, protocol.ChatMessage{
		Type:      protocol.TypeMessage,
		Message:   rec.Message,
		UserID:    rec.UserID,
		UserEmail: rec.UserEmail,
		CreatedAt: rec.CreatedAt,
	}, nil)
}

// Broadcasting

func (h *Hub) broadcastFrame(roomID string, v any, exclude *Client) {
	data, err := protocol.Encode(v)
	if err != nil {
		h.logger.Error("encode broadcast", "room", roomID, "error", err)
		return
	}
	h.broadcast(roomID, data, exclude)
}

// broadcast queues data to every member of a room except exclude.
func (h *Hub) broadcast(roomID string, data []byte, exclude *Client) {
	rs, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for _, member := range rs.members {
		if member == exclude {
			continue
		}
		member.send(data)
	}
}

// Heartbeat

// sweep terminates clients that did not answer the previous probe and
// probes the rest. A tick arriving less than half an interval after the
// last sweep is ignored, since clients have had no time to answer.
func (h *Hub) sweep() {
	now := h.now()
	if !h.lastSweep.IsZero() && now.Sub(h.lastSweep) < h.cfg.HeartbeatInterval/2 {
		return
	}
	h.lastSweep = now

	for c := range h.clients {
		if !c.alive.Swap(false) {
			h.logger.Info("terminating unresponsive client", "client", c.id, "user", c.user.ID)
			h.metrics.HeartbeatTerminated()
			h.removeClient(c)
			continue
		}
		if err := c.transport.Ping(); err != nil {
			h.logger.Debug("ping failed", "client", c.id, "error", err)
		}
	}
}

// Stats

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetActiveRooms lists rooms currently held in memory, ordered by name.
func (h *Hub) GetActiveRooms() []RoomSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]RoomSummary, 0, len(h.rooms))
	for _, rs := range h.rooms {
		cursors := 0
		for _, member := range rs.members {
			if member.cursor != nil {
				cursors++
			}
		}
		rooms = append(rooms, RoomSummary{
			ID:        rs.info.ID,
			Name:      rs.info.Name,
			OwnerID:   rs.info.OwnerID,
			Members:   len(rs.members),
			Shapes:    rs.canvas.Len(),
			Cursors:   cursors,
			CreatedAt: rs.info.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: rs.canvas.UpdatedAt().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// RoomShapes returns a copy of an active room's canvas, or nil when the room
// is not active.
func (h *Hub) RoomShapes(roomID string) []json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	return rs.canvas.Snapshot()
}

// RoomMembers returns the user ids present in an active room.
func (h *Hub) RoomMembers(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rs.members))
	for id := range rs.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
