package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/chatsync/internal/chat"
)

// fakeFetcher implements history.Fetcher for testing. Pages are served in
// order, one per FetchPage call.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     []chat.Page
	cursors   []string
	fetchErr  error
	deleteErr error
	deleted   []string
	block     chan struct{}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, roomID, cursor string) (chat.Page, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if f.fetchErr != nil {
		return chat.Page{}, f.fetchErr
	}
	if len(f.pages) == 0 {
		return chat.Page{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeFetcher) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func msg(id, roomID string, at time.Time, text string) chat.Message {
	return chat.Message{ID: id, RoomID: roomID, SenderID: "u1", Text: text, CreatedAt: at}
}

var t0 = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func TestReconciler_MergeDedupAndOrder(t *testing.T) {
	fetcher := &fakeFetcher{pages: []chat.Page{{
		Messages: []chat.Message{
			msg("m1", "r1", t0, "one"),
			msg("m2", "r1", t0.Add(time.Minute), "two"),
		},
	}}}

	r := New(fetcher)
	r.Reset("r1")

	fetched, err := r.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, fetched)

	// A live push between the historical entries, plus a duplicate of m2.
	r.AddLive(msg("m3", "r1", t0.Add(30*time.Second), "three"))
	r.AddLive(msg("m2", "r1", t0.Add(time.Minute), "two"))

	out := r.Messages()
	require.Len(t, out, 3)
	assert.Equal(t, []string{"m1", "m3", "m2"}, ids(out))
	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].CreatedAt.Before(out[i-1].CreatedAt))
	}
}

func TestReconciler_LiveWinsOverHistory(t *testing.T) {
	fetcher := &fakeFetcher{pages: []chat.Page{{
		Messages: []chat.Message{
			msg("m1", "r1", t0, "original"),
			msg("m2", "r1", t0.Add(time.Minute), "two"),
		},
	}}}

	r := New(fetcher)
	r.Reset("r1")
	_, err := r.LoadOlder(context.Background())
	require.NoError(t, err)

	r.AddLive(msg("m1", "r1", t0, "edited"))

	out := r.Messages()
	require.Len(t, out, 2)
	assert.Equal(t, "m1", out[0].ID)
	assert.Equal(t, "edited", out[0].Text)
	assert.Equal(t, "m2", out[1].ID)
}

func TestReconciler_DropsLiveForOtherRoom(t *testing.T) {
	r := New(&fakeFetcher{})
	r.Reset("roomA")

	assert.False(t, r.AddLive(msg("m1", "roomB", t0, "leaked")))
	assert.Empty(t, r.Messages())

	// The message must not surface after switching to its room either.
	r.Reset("roomB")
	assert.Empty(t, r.Messages())
}

func TestReconciler_TimestampTiesKeepArrivalOrder(t *testing.T) {
	r := New(&fakeFetcher{})
	r.Reset("r1")

	r.AddLive(msg("a", "r1", t0, "first"))
	r.AddLive(msg("b", "r1", t0, "second"))
	r.AddLive(msg("c", "r1", t0, "third"))

	assert.Equal(t, []string{"a", "b", "c"}, ids(r.Messages()))
}

func TestReconciler_PaginationSingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: []chat.Page{{Messages: []chat.Message{msg("m1", "r1", t0, "one")}}},
		block: make(chan struct{}),
	}

	r := New(fetcher)
	r.Reset("r1")

	done := make(chan error, 1)
	go func() {
		_, err := r.LoadOlder(context.Background())
		done <- err
	}()

	require.Eventually(t, r.Fetching, time.Second, 5*time.Millisecond)

	// A second call while the first is in flight is suppressed.
	fetched, err := r.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.False(t, fetched)

	close(fetcher.block)
	require.NoError(t, <-done)
	assert.Len(t, fetcher.cursors, 1)
}

func TestReconciler_CursorNotAdvancedOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{fetchErr: errors.New("boom")}
	r := New(fetcher)
	r.Reset("r1")

	_, err := r.LoadOlder(context.Background())
	require.Error(t, err)

	fetcher.mu.Lock()
	fetcher.fetchErr = nil
	fetcher.pages = []chat.Page{{Messages: []chat.Message{msg("m1", "r1", t0, "one")}}}
	fetcher.mu.Unlock()

	fetched, err := r.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, fetched)

	// Both attempts used the same (initial) cursor.
	assert.Equal(t, []string{"", ""}, fetcher.cursors)
}

func TestReconciler_ExhaustedCursorSuppressesFetch(t *testing.T) {
	fetcher := &fakeFetcher{pages: []chat.Page{{
		Messages:   []chat.Message{msg("m1", "r1", t0, "one")},
		NextCursor: "",
	}}}

	r := New(fetcher)
	r.Reset("r1")

	fetched, err := r.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.False(t, r.HasMore())

	fetched, err = r.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.False(t, fetched)
	assert.Len(t, fetcher.cursors, 1)
}

func TestReconciler_LoadOlderWalksCursor(t *testing.T) {
	fetcher := &fakeFetcher{pages: []chat.Page{
		{
			Messages:   []chat.Message{msg("m3", "r1", t0.Add(2*time.Minute), "newest")},
			NextCursor: "m3",
		},
		{
			Messages: []chat.Message{
				msg("m1", "r1", t0, "oldest"),
				msg("m2", "r1", t0.Add(time.Minute), "older"),
			},
		},
	}}

	r := New(fetcher)
	r.Reset("r1")

	for i := 0; i < 2; i++ {
		fetched, err := r.LoadOlder(context.Background())
		require.NoError(t, err)
		require.True(t, fetched)
	}

	assert.Equal(t, []string{"", "m3"}, fetcher.cursors)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(r.Messages()))
	assert.False(t, r.HasMore())
}

func TestReconciler_ResetDiscardsEverything(t *testing.T) {
	fetcher := &fakeFetcher{pages: []chat.Page{
		{Messages: []chat.Message{msg("m1", "rA", t0, "one")}, NextCursor: "m1"},
		{Messages: []chat.Message{msg("x1", "rB", t0, "other")}},
	}}

	r := New(fetcher)
	r.Reset("rA")
	_, err := r.LoadOlder(context.Background())
	require.NoError(t, err)
	r.AddLive(msg("m2", "rA", t0.Add(time.Second), "live"))
	require.Len(t, r.Messages(), 2)

	r.Reset("rB")
	assert.Empty(t, r.Messages())
	assert.True(t, r.HasMore())

	// Pagination starts over at the empty cursor for the new room.
	fetched, err := r.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, []string{"", ""}, fetcher.cursors)
	assert.Equal(t, []string{"x1"}, ids(r.Messages()))
}

func TestReconciler_DeleteOnConfirmationOnly(t *testing.T) {
	fetcher := &fakeFetcher{pages: []chat.Page{{
		Messages: []chat.Message{msg("m1", "r1", t0, "one")},
	}}}

	r := New(fetcher)
	r.Reset("r1")
	_, err := r.LoadOlder(context.Background())
	require.NoError(t, err)
	r.AddLive(msg("m1", "r1", t0, "one edited"))
	r.AddLive(msg("m2", "r1", t0.Add(time.Second), "two"))

	// A failed delete mutates nothing.
	fetcher.mu.Lock()
	fetcher.deleteErr = errors.New("denied")
	fetcher.mu.Unlock()
	require.Error(t, r.Delete(context.Background(), "m1"))
	assert.Equal(t, []string{"m1", "m2"}, ids(r.Messages()))

	fetcher.mu.Lock()
	fetcher.deleteErr = nil
	fetcher.mu.Unlock()
	require.NoError(t, r.Delete(context.Background(), "m1"))
	assert.Equal(t, []string{"m2"}, ids(r.Messages()))
	assert.Equal(t, []string{"m1"}, fetcher.deleted)
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
