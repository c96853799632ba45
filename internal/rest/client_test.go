package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/session"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, session.NewStatic("me", "token-1"), time.Second)
}

func TestAuthorizationHeaderOnEveryCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(protocol.HistoryResponse{})
	})

	if _, err := c.FetchHistory(context.Background(), "conv1"); err != nil {
		t.Fatalf("fetch history: %v", err)
	}
}

func TestSendMessageRoundTrip(t *testing.T) {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req protocol.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.ConversationID != "conv1" || req.Body != "hello" {
			t.Fatalf("request = %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(protocol.SendMessageResponse{ID: "srv-1", SentAt: sentAt})
	})

	resp, err := c.SendMessage(context.Background(), protocol.SendMessageRequest{
		ConversationID: "conv1", Kind: "text", Body: "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.ID != "srv-1" || !resp.SentAt.Equal(sentAt) {
		t.Fatalf("response = %+v", resp)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrNotAuthenticated},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		})
		err := c.EditMessage(context.Background(), "m1", "body")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestServerErrorMessageSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "edit window closed"})
	})

	err := c.EditMessage(context.Background(), "m1", "body")
	if err == nil || !strings.Contains(err.Error(), "edit window closed") {
		t.Fatalf("err = %v, want server message surfaced", err)
	}
}

func TestDeleteCarriesScope(t *testing.T) {
	var got protocol.DeleteMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
	})

	if err := c.DeleteMessage(context.Background(), "m1", true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !got.ForEveryone {
		t.Fatal("for_everyone not set on the wire")
	}
}

func TestUploadMedia(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/upload" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if header.Filename != "pic.png" {
			t.Fatalf("filename = %q", header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(protocol.UploadResponse{MediaRef: "ref-1.png"})
	})

	ref, err := c.UploadMedia(context.Background(), "pic.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref != "ref-1.png" {
		t.Fatalf("ref = %q", ref)
	}
}

func TestFetchMatches(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.MatchesResponse{Matches: []protocol.MatchEntry{
			{ConversationID: "conv1", UserID: "them", Username: "sam", IsOnline: true},
		}})
	})

	matches, err := c.FetchMatches(context.Background())
	if err != nil {
		t.Fatalf("fetch matches: %v", err)
	}
	if len(matches) != 1 || matches[0].Username != "sam" || !matches[0].IsOnline {
		t.Fatalf("matches = %+v", matches)
	}
}
