package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/youruser/lexchat/internal/logging"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrStreamError   = errors.New("stream error")
	ErrAuthExpired   = errors.New("authentication expired")
	log              = logging.Get()
)

const (
	defaultRequestTimeout = 30 * time.Second

	// eventPrefix marks lines that carry a frame; everything else on the
	// stream (blank separators, keep-alives) is ignored.
	eventPrefix = "data: "

	// doneMarker ends a stream without being JSON-decoded.
	doneMarker = "[DONE]"
)

// Client handles communication with the case-analyzer backend.
type Client struct {
	baseURL        string
	authToken      string
	httpClient     *http.Client
	requestTimeout time.Duration
}

// NewClient creates a new backend client. authToken may be empty for the
// unauthenticated session-scoped API. The timeout applies to single-shot
// requests only; streams run until done or cancelled.
func NewClient(baseURL, authToken string, requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		authToken:      authToken,
		httpClient:     &http.Client{},
		requestTimeout: requestTimeout,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	log.Request(method, c.baseURL+path)
	return req, nil
}

// statusError maps a non-success response to an error. 401-class responses
// get a distinct sentinel so callers can surface expired credentials
// separately from generic failures.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		log.Error("API auth error %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("%w: %d", ErrAuthExpired, resp.StatusCode)
	}
	detail := string(body)
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != "" {
		detail = envelope.Detail
	}
	log.Error("API error %d: %s", resp.StatusCode, detail)
	return fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, detail)
}

// StreamCallback is called for each event in the stream.
type StreamCallback func(event StreamEvent)

// StreamChat sends a chat message and streams the response. The callback is
// called for each event (tokens, tool activity, completion) in arrival order.
// Streaming is only offered on the session-scoped endpoint; conversation IDs
// travel as the session identifier.
func (c *Client) StreamChat(ctx context.Context, sessionID, message string, callback StreamCallback) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/stream", ChatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return err
	}
	defer resp.Body.Close()

	log.Debug("HTTP response status: %d", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	return processStream(ctx, resp.Body, callback)
}

// processStream reads event-stream lines and calls the callback for each
// decoded frame. The scanner reassembles lines split across transport
// chunks, so decoding is independent of chunk boundaries. A trailing
// partial line at EOF is dropped: it cannot be a complete frame.
func processStream(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	log.Debug("Starting event stream processing")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, eventPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, eventPrefix)

		if data == doneMarker {
			log.Stream("done", doneMarker)
			callback(StreamEvent{Type: "done"})
			return nil
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			// A single corrupt frame must not abort an otherwise
			// healthy stream.
			log.Debug("Skipping malformed frame: %s", truncateFrame(data))
			continue
		}

		if frame.Error != "" {
			log.Stream("error", frame.Error)
			callback(StreamEvent{Type: "error", Error: frame.Error})
			return fmt.Errorf("%w: %s", ErrStreamError, frame.Error)
		}

		switch frame.Type {
		case "token":
			if frame.Content != "" {
				log.Stream("token", frame.Content)
				callback(StreamEvent{Type: "token", Content: frame.Content})
			}
		case "tool":
			log.Stream("tool", frame.Content)
			callback(StreamEvent{Type: "tool", Content: frame.Content})
		case "tool_result":
			log.Stream("tool_result", frame.Content)
			callback(StreamEvent{Type: "tool_result", Content: frame.Content})
		case "done":
			log.Stream("done", "")
			callback(StreamEvent{Type: "done"})
			return nil
		default:
			if frame.Done {
				log.Stream("done", "")
				callback(StreamEvent{Type: "done"})
				return nil
			}
			// Unknown event kinds are ignored rather than failing the stream.
			log.Debug("Ignoring unknown frame type %q", frame.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		// When the context is cancelled (user abort), the HTTP body closes
		// and the scanner sees an IO error. Return the context error so
		// callers can tell the cancellation apart from a stream failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("Event stream scanner error: %v", err)
		return err
	}

	// Stream ended without an explicit terminator; treat as done. The
	// caller decides whether the result was usable.
	callback(StreamEvent{Type: "done"})
	return nil
}

// Chat sends a single-shot, non-streaming chat request. When conversationID
// is non-empty the conversation-scoped endpoint is used.
func (c *Client) Chat(ctx context.Context, sessionID, conversationID, message string) (*ChatResponse, error) {
	path := "/chat"
	if conversationID != "" {
		path = "/conversations/" + url.PathEscape(conversationID) + "/chat"
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, path, ChatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, err
	}
	return &chatResp, nil
}

// History fetches the persisted transcript for a session.
func (c *Client) History(ctx context.Context, sessionID string) (*ChatHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/chat/history/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var history ChatHistory
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, err
	}
	return &history, nil
}

// ClearHistory deletes the persisted transcript for a session.
func (c *Client) ClearHistory(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodDelete, "/chat/history/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ListSessions fetches the identifiers of all active sessions.
func (c *Client) ListSessions(ctx context.Context) (*SessionList, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/chat/sessions", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var list SessionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

func truncateFrame(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
