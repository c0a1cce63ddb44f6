// Package reconcile merges the two message sources — cursor-paginated
// history and live pushes — into one deduplicated view ordered by creation
// time. Arrival order never decides final position: a message fetched late
// or pushed early lands in the same place either way.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/history"
)

// Reconciler owns the message state for the active room: the fetched page
// set, the live buffer, and the pagination cursor. No other component
// mutates this state.
type Reconciler struct {
	logger  *slog.Logger
	fetcher history.Fetcher

	mu      sync.Mutex
	roomID  string
	pages   []chat.Page
	live    []chat.Message
	liveIdx map[string]int

	cursor    string
	exhausted bool
	fetching  bool
}

// New creates a reconciler with no active room. Reset must be called with
// a room id before messages accumulate.
func New(fetcher history.Fetcher) *Reconciler {
	return &Reconciler{
		logger:  slog.Default().With("component", "reconcile"),
		fetcher: fetcher,
		liveIdx: make(map[string]int),
	}
}

// Reset discards all state and rebinds the reconciler to roomID. Called on
// every room switch; pagination starts over at the empty cursor.
func (r *Reconciler) Reset(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roomID = roomID
	r.pages = nil
	r.live = nil
	r.liveIdx = make(map[string]int)
	r.cursor = ""
	r.exhausted = false
	r.logger.Debug("Reconciler reset", "room_id", roomID)
}

// Room returns the room the reconciler is currently bound to.
func (r *Reconciler) Room() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// AddLive buffers one pushed message. A message for any room other than
// the bound one is dropped outright — buffering it would leak messages
// across rooms during rapid switching. A message whose id is already
// buffered replaces the earlier copy (last write wins).
func (r *Reconciler) AddLive(msg chat.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.roomID == "" || msg.RoomID != r.roomID {
		r.logger.Debug("Dropping live message for inactive room",
			"message_room", msg.RoomID, "active_room", r.roomID)
		return false
	}

	if i, ok := r.liveIdx[msg.ID]; ok {
		r.live[i] = msg
		return true
	}
	r.liveIdx[msg.ID] = len(r.live)
	r.live = append(r.live, msg)
	return true
}

// Messages returns the reconciled view: every observed id exactly once,
// live copies winning over historical ones, ordered by creation timestamp
// ascending. Ties keep their first-observed relative order.
func (r *Reconciler) Messages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := make(map[string]int)
	var merged []chat.Message
	add := func(m chat.Message) {
		if m.ID == "" {
			return
		}
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			return
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	// Pages in fetch order, later entries winning on id collision, then
	// the live buffer on top: live always reflects the freshest state.
	for _, page := range r.pages {
		for _, m := range page.Messages {
			add(m)
		}
	}
	for _, m := range r.live {
		add(m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// LoadOlder fetches the next older page. At most one fetch is in flight
// per room; a call while one is running, or after history is exhausted, is
// suppressed and reports fetched=false. The cursor only advances on
// success, so a failed fetch can simply be retried by the caller.
func (r *Reconciler) LoadOlder(ctx context.Context) (fetched bool, err error) {
	r.mu.Lock()
	if r.roomID == "" {
		r.mu.Unlock()
		return false, chat.ErrNoRoom
	}
	if r.fetching || r.exhausted {
		r.mu.Unlock()
		return false, nil
	}
	roomID, cursor := r.roomID, r.cursor
	r.fetching = true
	r.mu.Unlock()

	page, err := r.fetcher.FetchPage(ctx, roomID, cursor)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetching = false

	if r.roomID != roomID {
		// The room switched while the fetch was in flight; the page belongs
		// to a view that no longer exists.
		r.logger.Debug("Discarding page for switched room", "room_id", roomID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load older messages for room %s: %w", roomID, err)
	}

	r.pages = append(r.pages, page)
	r.cursor = page.NextCursor
	r.exhausted = page.NextCursor == ""
	r.logger.Debug("Page loaded", "room_id", roomID, "messages", len(page.Messages), "exhausted", r.exhausted)
	return true, nil
}

// HasMore reports whether older history remains to fetch.
func (r *Reconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.exhausted
}

// Fetching reports whether a page fetch is currently in flight.
func (r *Reconciler) Fetching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetching
}

// Delete removes a message, server first. Local state is only mutated
// after the delete source confirms; on failure nothing changes.
func (r *Reconciler) Delete(ctx context.Context, messageID string) error {
	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()

	if roomID == "" {
		return chat.ErrNoRoom
	}
	if err := r.fetcher.DeleteMessage(ctx, roomID, messageID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID != roomID {
		return nil
	}

	for pi := range r.pages {
		msgs := r.pages[pi].Messages
		for i, m := range msgs {
			if m.ID == messageID {
				r.pages[pi].Messages = append(msgs[:i], msgs[i+1:]...)
				break
			}
		}
	}

	if _, ok := r.liveIdx[messageID]; ok {
		filtered := r.live[:0]
		for _, m := range r.live {
			if m.ID != messageID {
				filtered = append(filtered, m)
			}
		}
		r.live = filtered
		r.liveIdx = make(map[string]int, len(r.live))
		for i, m := range r.live {
			r.liveIdx[m.ID] = i
		}
	}

	r.logger.Info("Message deleted", "room_id", roomID, "message_id", messageID)
	return nil
}
