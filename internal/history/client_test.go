package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/credentials"
)

func TestClient_FetchPage(t *testing.T) {
	page := chat.Page{
		Messages: []chat.Message{{
			ID:        "m1",
			RoomID:    "general",
			SenderID:  "alice",
			Text:      "hello",
			CreatedAt: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		}},
		NextCursor: "m1",
	}

	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, credentials.Static("secret"), srv.Client())
	got, err := c.FetchPage(context.Background(), "general", "m5")
	require.NoError(t, err)
	assert.Equal(t, page, got)

	require.NotNil(t, gotReq)
	assert.Equal(t, "/api/rooms/general/messages", gotReq.URL.Path)
	assert.Equal(t, "m5", gotReq.URL.Query().Get("cursor"))
	assert.Equal(t, "Bearer secret", gotReq.Header.Get("Authorization"))
}

func TestClient_FetchPageOmitsEmptyCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("cursor"))
		json.NewEncoder(w).Encode(chat.Page{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, credentials.Static(""), srv.Client())
	_, err := c.FetchPage(context.Background(), "general", "")
	require.NoError(t, err)
}

func TestClient_FetchPageSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, credentials.Static(""), srv.Client())
	_, err := c.FetchPage(context.Background(), "missing", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_DeleteMessage(t *testing.T) {
	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, credentials.Static("secret"), srv.Client())
	require.NoError(t, c.DeleteMessage(context.Background(), "general", "m1"))

	require.NotNil(t, gotReq)
	assert.Equal(t, http.MethodDelete, gotReq.Method)
	assert.Equal(t, "/api/rooms/general/messages/m1", gotReq.URL.Path)
	assert.Equal(t, "Bearer secret", gotReq.Header.Get("Authorization"))
}

func TestClient_DeleteMessageSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, credentials.Static(""), srv.Client())
	assert.Error(t, c.DeleteMessage(context.Background(), "general", "ghost"))
}

func TestClient_ReadsTokenFreshPerRequest(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(chat.Page{})
	}))
	defer srv.Close()

	source := &rotatingSource{tokens: []string{"first", "second"}}
	c := NewClient(srv.URL, source, srv.Client())

	_, err := c.FetchPage(context.Background(), "general", "")
	require.NoError(t, err)
	_, err = c.FetchPage(context.Background(), "general", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer first", "Bearer second"}, tokens)
}

type rotatingSource struct {
	tokens []string
	i      int
}

func (s *rotatingSource) Token() (string, error) {
	tok := s.tokens[s.i%len(s.tokens)]
	s.i++
	return tok, nil
}
