// Package chat implements the single global chat room shared by testers and
// admins. Messages are kept in memory for paging and written through to the
// document store so the room survives restarts.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"marketsim/internal/storage"
	"marketsim/pkg/types"
)

const (
	maxMessageLen = 2000

	// DefaultPageSize is used when a history request names no limit.
	DefaultPageSize = 50
	maxPageSize     = 100
)

var ErrEmptyMessage = errors.New("message is empty")

// ErrMessageTooLong is returned for messages over 2000 characters.
var ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", maxMessageLen)

// Broadcaster receives each accepted message for fan-out to subscribers.
type Broadcaster interface {
	PublishChat(msg types.ChatMessage)
}

// SimTimeFunc resolves the poster's current simulated time. The second
// return is false when the poster has no live session; the message then
// carries only the wall timestamp.
type SimTimeFunc func(userID string) (time.Time, bool)

// Room is the global chat room. A nil Broadcaster drops fan-out, which the
// history tests rely on.
type Room struct {
	docs    storage.DocStore
	bcast   Broadcaster
	logger  *slog.Logger
	simTime SimTimeFunc

	mu       sync.RWMutex
	messages []types.ChatMessage // append order, oldest first
}

// NewRoom loads persisted history and returns the room. simTime stamps each
// message with the poster's simulated date; it may be nil.
func NewRoom(ctx context.Context, docs storage.DocStore, bcast Broadcaster, simTime SimTimeFunc, logger *slog.Logger) (*Room, error) {
	r := &Room{
		docs:    docs,
		bcast:   bcast,
		logger:  logger.With("component", "chat"),
		simTime: simTime,
	}

	keys, err := docs.Keys(ctx, storage.CollectionChat)
	if err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	for _, key := range keys {
		doc, err := docs.Get(ctx, storage.CollectionChat, key)
		if err != nil {
			return nil, fmt.Errorf("load message %s: %w", key, err)
		}
		var msg types.ChatMessage
		if err := json.Unmarshal(doc, &msg); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", key, err)
		}
		r.messages = append(r.messages, msg)
	}
	sort.Slice(r.messages, func(i, j int) bool {
		return r.messages[i].WallTime.Before(r.messages[j].WallTime)
	})
	return r, nil
}

// Post validates and appends a message, persists it, and hands it to the
// broadcaster. The caller has already checked the sender's role.
func (r *Room) Post(ctx context.Context, userID, displayName, text string) (types.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return types.ChatMessage{}, ErrMessageTooLong
	}

	msg := types.ChatMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		Text:        text,
		WallTime:    time.Now().UTC(),
	}
	if r.simTime != nil {
		if t, ok := r.simTime(userID); ok {
			msg.SimTime = t
		}
	}

	doc, err := json.Marshal(msg)
	if err != nil {
		return types.ChatMessage{}, fmt.Errorf("encode message: %w", err)
	}
	if err := r.docs.Put(ctx, storage.CollectionChat, msg.ID, doc); err != nil {
		return types.ChatMessage{}, fmt.Errorf("persist message: %w", err)
	}

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	if r.bcast != nil {
		r.bcast.PublishChat(msg)
	}
	return msg, nil
}

// Page is one slice of chat history, newest first.
type Page struct {
	Messages []types.ChatMessage `json:"messages"`
	Total    int                 `json:"total"`
}

// History returns messages newest first, skipping offset and returning at
// most limit. Limit is clamped to [1, 100]; zero or negative values take
// the default page size.
func (r *Room) History(offset, limit int) Page {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.messages)
	out := make([]types.ChatMessage, 0, limit)
	// messages is oldest first; walk backwards from the end.
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.messages[i])
	}
	return Page{Messages: out, Total: total}
}

// Len returns the number of stored messages.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}
