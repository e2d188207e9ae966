package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"dscengine/services/dscd/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	defaultBuffer  = 64
)

// BacklogFunc returns journaled entries after the given sequence so a client
// resuming from a cursor does not miss events.
type BacklogFunc func(ctx context.Context, afterSeq uint64, eventType string) ([]journal.Entry, error)

// Hub fans journal entries out to websocket subscribers. Subscribers that
// fall behind by more than the buffer are disconnected and must resume with
// a cursor.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan journal.Entry
	next   uint64
	buffer int
	logger *slog.Logger
}

// NewHub constructs a hub with the given per-subscriber buffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[uint64]chan journal.Entry), buffer: buffer, logger: logger}
}

// Publish delivers entry to every subscriber without blocking.
func (h *Hub) Publish(entry journal.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- entry:
		default:
			h.logger.Warn("stream subscriber too slow, dropping", "subscriber", id, "sequence", entry.Sequence)
			close(ch)
			delete(h.subs, id)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func is idempotent.
func (h *Hub) Subscribe() (<-chan journal.Entry, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan journal.Entry, h.buffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if existing, ok := h.subs[id]; ok {
				close(existing)
				delete(h.subs, id)
			}
		})
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Handler upgrades the request to a websocket and streams entries. The
// optional cursor query parameter replays the backlog after that sequence and
// type restricts the stream to one event type.
func (h *Hub) Handler(backlog BacklogFunc, originPatterns []string) http.HandlerFunc {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var cursor uint64
		if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid cursor", http.StatusBadRequest)
				return
			}
			cursor = parsed
		}
		eventType := strings.TrimSpace(r.URL.Query().Get("type"))
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "stream closed")
		ctx := conn.CloseRead(r.Context())
		if err := h.serve(ctx, conn, backlog, cursor, eventType); err != nil {
			if status := websocket.CloseStatus(err); status == -1 {
				_ = conn.Close(websocket.StatusInternalError, "stream error")
			}
		}
	}
}

func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, backlog BacklogFunc, cursor uint64, eventType string) error {
	updates, cancel := h.Subscribe()
	defer cancel()

	last := cursor
	if backlog != nil && cursor > 0 {
		entries, err := backlog(ctx, cursor, eventType)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Sequence
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
			}
			if entry.Sequence <= last {
				continue
			}
			if eventType != "" && entry.Type != eventType {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Sequence
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
