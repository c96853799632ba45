// Package rest implements the request/response half of the protocol:
// history hydration and the write path behind every realtime-visible
// mutation. Stateless; authentication comes from the session provider
// on every call.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/session"
)

var (
	// ErrNotAuthenticated maps a 401: the session credential is
	// missing or expired.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotFound maps a 404: the id is unknown to this identity.
	ErrNotFound = errors.New("not found")
)

type Client struct {
	baseURL    string
	sess       session.Session
	httpClient *http.Client
}

func NewClient(baseURL string, sess session.Session, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		sess:       sess,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchHistory returns the conversation's messages as the server
// serializes them; the reconciler normalizes and orders them on the
// way into the store.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]protocol.MessagePayload, error) {
	var out protocol.HistoryResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/messages/"+conversationID, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return out.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, req protocol.SendMessageRequest) (protocol.SendMessageResponse, error) {
	var out protocol.SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return protocol.SendMessageResponse{}, fmt.Errorf("send message: %w", err)
	}
	return out, nil
}

func (c *Client) EditMessage(ctx context.Context, messageID, body string) error {
	req := protocol.EditMessageRequest{Body: body}
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/"+messageID+"/edit", req, nil); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	req := protocol.DeleteMessageRequest{ForEveryone: forEveryone}
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/"+messageID+"/delete", req, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (c *Client) ReactMessage(ctx context.Context, messageID, emoji string) error {
	req := protocol.ReactMessageRequest{Emoji: emoji}
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/"+messageID+"/react", req, nil); err != nil {
		return fmt.Errorf("react message: %w", err)
	}
	return nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/"+conversationID+"/mark-read", nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// FetchMatches lists the caller's conversations with the counterpart's
// display snapshot.
func (c *Client) FetchMatches(ctx context.Context) ([]protocol.MatchEntry, error) {
	var out protocol.MatchesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/matches", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch matches: %w", err)
	}
	return out.Matches, nil
}

// UploadMedia posts the file as multipart form data and returns the
// opaque reference usable as a message's media_ref.
func (c *Client) UploadMedia(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/messages/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	var out protocol.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload media decode: %w", err)
	}
	return out.MediaRef, nil
}

// doJSON performs one JSON round trip. body nil sends no payload; out
// nil discards the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusErr(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if tok := c.sess.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func statusErr(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrNotAuthenticated
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server: %s (%d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("server: status %d", resp.StatusCode)
}
