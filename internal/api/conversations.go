package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Conversation CRUD against the authenticated API. These calls require an
// auth token; without one the backend answers 401 and the caller sees
// ErrAuthExpired.

// CreateConversation creates a new persisted conversation.
func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/conversations", CreateConversationRequest{Title: title})
	if err != nil {
		return nil, err
	}
	return c.doConversation(req)
}

// ListConversations fetches one page of the caller's conversations.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) (*ConversationList, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	path := fmt.Sprintf("/conversations?page=%d&page_size=%d", page, pageSize)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
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

	var list ConversationList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetConversationMessages fetches all messages of a conversation.
func (c *Client) GetConversationMessages(ctx context.Context, conversationID string) ([]HistoryMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil)
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

	var messages []HistoryMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// RenameConversation updates a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, conversationID, title string) (*Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID), UpdateConversationRequest{Title: title})
	if err != nil {
		return nil, err
	}
	return c.doConversation(req)
}

// DeleteConversation deletes a conversation and all its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), nil)
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

func (c *Client) doConversation(req *http.Request) (*Conversation, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var conv Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}
