package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youruser/lexchat/internal/api"
	"github.com/youruser/lexchat/internal/logging"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("another send is already in progress")
	log             = logging.Get()
)

const (
	summaryTitleRunes = 30

	fallbackFailedText = "Sorry, something went wrong while answering. Please try again."
	authExpiredText    = "Your session has expired. Please sign in again."
)

// Backend is the surface of the chat API the controller depends on.
// *api.Client satisfies it.
type Backend interface {
	StreamChat(ctx context.Context, sessionID, message string, callback api.StreamCallback) error
	Chat(ctx context.Context, sessionID, conversationID, message string) (*api.ChatResponse, error)
	History(ctx context.Context, sessionID string) (*api.ChatHistory, error)
	ClearHistory(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) (*api.SessionList, error)
	ListConversations(ctx context.Context, page, pageSize int) (*api.ConversationList, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]api.HistoryMessage, error)
	RenameConversation(ctx context.Context, conversationID, title string) (*api.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Summary is one entry of the conversation list. The list itself is owned by
// the backend; the controller only appends/reorders optimistically and
// replaces the whole list when authoritative data arrives.
type Summary struct {
	ID                 string
	Title              string
	LastMessagePreview string
	UpdatedAt          time.Time
	MessageCount       int
}

// Callbacks are the controller's outward signals. All fields are optional.
// OnSnapshot fires on every transcript mutation, OnConversations whenever
// the summary list changes, OnError for failures that also produced an
// inline assistant error message (banner/toast collaborators).
type Callbacks struct {
	OnSnapshot      func(Snapshot)
	OnConversations func([]Summary)
	OnError         func(error)
}

// Options configure a Controller.
type Options struct {
	// Authenticated selects the conversation-scoped API for loading and
	// listing; without it the legacy session endpoints are used.
	Authenticated bool
	// PageSize for conversation list refreshes.
	PageSize int
	Callbacks Callbacks
}

// sendSlot enforces the at-most-one-in-flight discipline and carries the
// cancellation state of the active send.
type sendSlot struct {
	mu       sync.Mutex
	cond     *sync.Cond
	active   bool
	canceled bool
	cancel   context.CancelFunc
}

func newSendSlot() *sendSlot {
	s := &sendSlot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *sendSlot) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	s.canceled = false
	s.cancel = nil
	return true
}

func (s *sendSlot) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	canceled := s.canceled
	s.mu.Unlock()
	// Cancel may land between reserve and setCancel; honor it now.
	if canceled {
		cancel()
	}
}

func (s *sendSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.canceled = false
	s.cancel = nil
	s.cond.Broadcast()
}

// cancelActive aborts the in-flight send, if any. Returns whether there was
// one to abort.
func (s *sendSlot) cancelActive() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	s.canceled = true
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (s *sendSlot) wasCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

func (s *sendSlot) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// waitIdle blocks until no send is in flight.
func (s *sendSlot) waitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.active {
		s.cond.Wait()
	}
}

// Controller owns the send/cancel lifecycle of one chat session: it appends
// the optimistic user turn, runs the stream, falls back to the single-shot
// request when streaming cannot produce a usable answer, and reconciles the
// local conversation list with the backend after each completed send.
type Controller struct {
	backend Backend
	opts    Options

	slot *sendSlot
	acc  accumulator

	mu              sync.Mutex
	sessionID       string
	serverConfirmed bool
	messages        []Message
	summaries       []Summary

	refreshWG sync.WaitGroup
}

// NewController creates a controller with a fresh, locally generated
// session identifier.
func NewController(backend Backend, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	return &Controller{
		backend:   backend,
		opts:      opts,
		slot:      newSendSlot(),
		sessionID: uuid.NewString(),
	}
}

// SessionID returns the current session/conversation identifier.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Busy reports whether a send is in flight.
func (c *Controller) Busy() bool {
	return c.slot.busy()
}

// Messages returns a copy of the transcript, including the in-progress
// assistant message if one exists.
func (c *Controller) Messages() []Message {
	return c.snapshot().Messages
}

// Conversations returns a copy of the conversation-summary list.
func (c *Controller) Conversations() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Summary, len(c.summaries))
	copy(out, c.summaries)
	return out
}

func (c *Controller) snapshot() Snapshot {
	c.mu.Lock()
	msgs := make([]Message, len(c.messages), len(c.messages)+1)
	copy(msgs, c.messages)
	id := c.sessionID
	c.mu.Unlock()

	if inProgress, ok := c.acc.current(); ok {
		msgs = append(msgs, inProgress)
	}
	return Snapshot{SessionID: id, Messages: msgs}
}

func (c *Controller) notify() {
	if c.opts.Callbacks.OnSnapshot != nil {
		c.opts.Callbacks.OnSnapshot(c.snapshot())
	}
}

func (c *Controller) notifyConversations() {
	if c.opts.Callbacks.OnConversations != nil {
		c.opts.Callbacks.OnConversations(c.Conversations())
	}
}

func (c *Controller) signalError(err error) {
	if c.opts.Callbacks.OnError != nil {
		c.opts.Callbacks.OnError(err)
	}
}

// Send submits a user message and blocks until the send reaches a terminal
// state (streamed completion, fallback completion, fallback failure, or
// cancellation). It is a no-op returning ErrEmptyMessage for blank input and
// ErrBusy while another send is in flight. Transport failures never escape:
// they are rendered as an inline assistant error message and signalled via
// Callbacks.OnError.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.slot.reserve() {
		return ErrBusy
	}
	defer c.slot.clear()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.slot.setCancel(cancel)

	// Optimistic user turn plus streaming placeholder.
	c.mu.Lock()
	c.messages = append(c.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	sessionID := c.sessionID
	conversationID := ""
	if c.serverConfirmed && c.opts.Authenticated {
		conversationID = c.sessionID
	}
	c.upsertSummaryLocked(text)
	c.mu.Unlock()
	c.acc.start()
	c.notify()
	c.notifyConversations()

	log.Info("Sending message on session %s (stream)", sessionID)
	streamErr := c.backend.StreamChat(sctx, sessionID, text, func(event api.StreamEvent) {
		switch event.Type {
		case "token":
			c.acc.append(event.Content, true)
			c.notify()
		case "tool":
			c.acc.append(toolMarker(event.Content), false)
			c.notify()
		case "tool_result":
			c.acc.append(toolResultMarker(event.Content), false)
			c.notify()
		case "done", "error":
			// Terminal events are reflected in StreamChat's return value.
		}
	})

	// User cancellation is not an error and never falls back.
	if c.canceled(streamErr) {
		log.Info("Send cancelled by user")
		c.acc.discard()
		c.notify()
		return nil
	}

	if streamErr == nil && c.acc.contentReceived() {
		c.completeStreaming()
		return nil
	}

	if streamErr != nil {
		log.Warn("Stream failed, falling back to single-shot: %v", streamErr)
	} else {
		log.Warn("Stream completed without content, falling back to single-shot")
	}
	c.fallback(sctx, sessionID, conversationID, text)
	return nil
}

// canceled reports whether err is the user-initiated abort of the current
// send, as opposed to a transport failure.
func (c *Controller) canceled(err error) bool {
	return errors.Is(err, context.Canceled) && c.slot.wasCanceled()
}

// completeStreaming finalizes the streamed assistant message in place and
// kicks off the summary reconciliation.
func (c *Controller) completeStreaming() {
	msg, ok := c.acc.finalize("")
	if !ok {
		return
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.touchSummaryLocked(msg.Content)
	c.mu.Unlock()
	c.notify()
	c.notifyConversations()
	c.refreshAsync()
}

// fallback runs the single-shot request path. Any streamed partial output is
// discarded first so a truncated answer is never presented as complete.
func (c *Controller) fallback(ctx context.Context, sessionID, conversationID, text string) {
	c.acc.discard()
	c.notify()

	resp, err := c.backend.Chat(ctx, sessionID, conversationID, text)
	if c.canceled(err) {
		log.Info("Fallback cancelled by user")
		return
	}
	if err != nil {
		log.Error("Fallback request failed: %v", err)
		content := fallbackFailedText
		if errors.Is(err, api.ErrAuthExpired) {
			content = authExpiredText
		}
		c.appendAssistant(content)
		c.signalError(err)
		return
	}

	c.reconcileIdentity(resp)
	c.appendAssistant(resp.Response)
	c.refreshAsync()
}

// appendAssistant finalizes a new assistant message outside the streaming
// path (fallback success and terminal failure).
func (c *Controller) appendAssistant(content string) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.touchSummaryLocked(content)
	c.mu.Unlock()
	c.notify()
	c.notifyConversations()
}

// reconcileIdentity adopts the server-issued identifier once the backend
// confirms persistence of the exchange.
func (c *Controller) reconcileIdentity(resp *api.ChatResponse) {
	serverID := resp.ConversationID
	if serverID == "" {
		serverID = resp.SessionID
	}
	if serverID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if serverID != c.sessionID {
		log.Info("Adopting server session id %s (was %s)", serverID, c.sessionID)
		for i := range c.summaries {
			if c.summaries[i].ID == c.sessionID {
				c.summaries[i].ID = serverID
			}
		}
		c.sessionID = serverID
	}
	c.serverConfirmed = true
}

// Cancel aborts the in-flight send, if any, discarding its in-progress
// assistant message. Safe to call when idle.
func (c *Controller) Cancel() bool {
	return c.slot.cancelActive()
}

// NewSession discards any in-progress send, clears the transcript, and
// starts a fresh locally generated session. Policy for a new-session request
// during an active send: abort, then clear.
func (c *Controller) NewSession() {
	if c.slot.cancelActive() {
		c.slot.waitIdle()
	}
	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.serverConfirmed = false
	c.messages = nil
	c.mu.Unlock()
	c.acc.discard()
	c.notify()
}

// Clear is NewSession plus a best-effort delete of the old session's
// persisted history. Delete failures are swallowed: local state resets
// regardless.
func (c *Controller) Clear(ctx context.Context) {
	if c.slot.cancelActive() {
		c.slot.waitIdle()
	}
	c.mu.Lock()
	oldID := c.sessionID
	confirmed := c.serverConfirmed
	c.sessionID = uuid.NewString()
	c.serverConfirmed = false
	c.messages = nil
	c.removeSummaryLocked(oldID)
	c.mu.Unlock()
	c.acc.discard()

	if confirmed {
		if err := c.backend.ClearHistory(ctx, oldID); err != nil {
			log.Warn("Best-effort history clear failed for %s: %v", oldID, err)
		}
	}
	c.notify()
	c.notifyConversations()
}

// LoadConversation replaces the transcript with the persisted messages for
// id and adopts id as the session identifier. Only valid while idle.
func (c *Controller) LoadConversation(ctx context.Context, id string) error {
	if !c.slot.reserve() {
		return ErrBusy
	}
	defer c.slot.clear()

	var history []api.HistoryMessage
	if c.opts.Authenticated {
		msgs, err := c.backend.GetConversationMessages(ctx, id)
		if err != nil {
			return err
		}
		history = msgs
	} else {
		h, err := c.backend.History(ctx, id)
		if err != nil {
			return err
		}
		history = h.Messages
	}

	messages := make([]Message, 0, len(history))
	for _, m := range history {
		role := Role(m.Role)
		switch role {
		case RoleUser, RoleAssistant, RoleTool:
		default:
			continue
		}
		messages = append(messages, Message{
			ID:        uuid.NewString(),
			Role:      role,
			Content:   m.Content,
			CreatedAt: time.Now(),
		})
	}

	c.mu.Lock()
	c.sessionID = id
	c.serverConfirmed = true
	c.messages = messages
	c.mu.Unlock()
	c.acc.discard()
	c.notify()
	return nil
}

// RenameConversation updates a persisted conversation's title. Rejected
// while a send is in flight.
func (c *Controller) RenameConversation(ctx context.Context, id, title string) error {
	if !c.slot.reserve() {
		return ErrBusy
	}
	defer c.slot.clear()

	conv, err := c.backend.RenameConversation(ctx, id, title)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for i := range c.summaries {
		if c.summaries[i].ID == conv.ID {
			c.summaries[i].Title = conv.Title
		}
	}
	c.mu.Unlock()
	c.notifyConversations()
	return nil
}

// DeleteConversation removes a persisted conversation. Rejected while a send
// is in flight. Deleting the current conversation resets to a fresh session.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if !c.slot.reserve() {
		return ErrBusy
	}
	defer c.slot.clear()

	var err error
	if c.opts.Authenticated {
		err = c.backend.DeleteConversation(ctx, id)
	} else {
		err = c.backend.ClearHistory(ctx, id)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.removeSummaryLocked(id)
	current := c.sessionID == id
	if current {
		c.sessionID = uuid.NewString()
		c.serverConfirmed = false
		c.messages = nil
	}
	c.mu.Unlock()
	if current {
		c.notify()
	}
	c.notifyConversations()
	return nil
}

// RefreshConversations fetches the authoritative conversation list and
// replaces the local one.
func (c *Controller) RefreshConversations(ctx context.Context) error {
	var summaries []Summary
	if c.opts.Authenticated {
		list, err := c.backend.ListConversations(ctx, 1, c.opts.PageSize)
		if err != nil {
			return err
		}
		summaries = make([]Summary, 0, len(list.Conversations))
		for _, conv := range list.Conversations {
			summaries = append(summaries, Summary{
				ID:           conv.ID,
				Title:        conv.Title,
				UpdatedAt:    conv.UpdatedAt,
				MessageCount: conv.MessageCount,
			})
		}
	} else {
		list, err := c.backend.ListSessions(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		known := make(map[string]Summary, len(c.summaries))
		for _, s := range c.summaries {
			known[s.ID] = s
		}
		c.mu.Unlock()
		summaries = make([]Summary, 0, len(list.Sessions))
		for _, id := range list.Sessions {
			if s, ok := known[id]; ok {
				summaries = append(summaries, s)
				continue
			}
			summaries = append(summaries, Summary{ID: id, Title: id})
		}
	}

	c.mu.Lock()
	c.summaries = summaries
	c.mu.Unlock()
	c.notifyConversations()
	return nil
}

// refreshAsync reconciles the summary list in the background after a
// completed send. The list update is observable asynchronously; it is not
// synchronous with message finalization.
func (c *Controller) refreshAsync() {
	c.refreshWG.Add(1)
	go func() {
		defer c.refreshWG.Done()
		if err := c.RefreshConversations(context.Background()); err != nil {
			log.Warn("Conversation list refresh failed: %v", err)
		}
	}()
}

// upsertSummaryLocked optimistically moves the current session to the top of
// the summary list at send time. Caller holds c.mu.
func (c *Controller) upsertSummaryLocked(preview string) {
	now := time.Now()
	for i := range c.summaries {
		if c.summaries[i].ID != c.sessionID {
			continue
		}
		s := c.summaries[i]
		s.LastMessagePreview = preview
		s.UpdatedAt = now
		s.MessageCount++
		c.summaries = append(c.summaries[:i], c.summaries[i+1:]...)
		c.summaries = append([]Summary{s}, c.summaries...)
		return
	}
	c.summaries = append([]Summary{{
		ID:                 c.sessionID,
		Title:              truncateTitle(preview, summaryTitleRunes),
		LastMessagePreview: preview,
		UpdatedAt:          now,
		MessageCount:       1,
	}}, c.summaries...)
}

// touchSummaryLocked updates the current session's preview after an
// assistant turn. Caller holds c.mu.
func (c *Controller) touchSummaryLocked(preview string) {
	for i := range c.summaries {
		if c.summaries[i].ID == c.sessionID {
			c.summaries[i].LastMessagePreview = preview
			c.summaries[i].UpdatedAt = time.Now()
			c.summaries[i].MessageCount++
			return
		}
	}
}

func (c *Controller) removeSummaryLocked(id string) {
	for i := range c.summaries {
		if c.summaries[i].ID == id {
			c.summaries = append(c.summaries[:i], c.summaries[i+1:]...)
			return
		}
	}
}

// toolMarker renders a tool event as display text distinguishable from
// model output.
func toolMarker(label string) string {
	if label == "" {
		label = "Calling tool"
	}
	return "\n[" + label + "]\n"
}

func toolResultMarker(label string) string {
	if label == "" {
		label = "Tool finished"
	}
	return "\n[" + label + "]\n"
}
