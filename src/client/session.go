package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrBusy is returned when a turn is already in flight.
	ErrBusy = errors.New("client: a turn is already in flight")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("client: empty message")
	// ErrNoUserMessage is returned by Regenerate on a log without user input.
	ErrNoUserMessage = errors.New("client: no user message to regenerate")
	// ErrUnknownMessage is returned by EditAndResend for an unknown id.
	ErrUnknownMessage = errors.New("client: unknown message")
)

const errorNotice = "⚠️ エラーが発生しました: %s\n\nAPIキーが正しく設定されているか確認してください。"

// HTTPError is a non-2xx answer from the proxy.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	return e.Message
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Messages    []Message
	Loading     bool
	Searching   bool
	SearchQuery string
}

// Listener is notified after every state change.
type Listener interface {
	OnChange(Snapshot)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Snapshot)

func (f ListenerFunc) OnChange(s Snapshot) { f(s) }

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHTTPClient overrides the HTTP client used for turns.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) { s.http = c }
}

// WithListener registers a listener for state changes.
func WithListener(l Listener) SessionOption {
	return func(s *Session) { s.listener = l }
}

// WithMessages seeds the session log, e.g. from a stored conversation.
func WithMessages(msgs []Message) SessionOption {
	return func(s *Session) { s.log = NewLog(msgs...) }
}

// Session drives chat turns against the proxy and owns the message log.
// One turn may be in flight at a time.
type Session struct {
	endpoint string
	http     *http.Client
	listener Listener
	now      func() time.Time

	mu          sync.Mutex
	log         Log
	loading     bool
	searching   bool
	searchQuery string
	cancel      context.CancelFunc
}

// NewSession creates a session posting to endpoint, the proxy's chat URL.
func NewSession(endpoint string, opts ...SessionOption) *Session {
	s := &Session{
		endpoint: endpoint,
		http:     &http.Client{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Messages:    s.log.Messages(),
		Loading:     s.loading,
		Searching:   s.searching,
		SearchQuery: s.searchQuery,
	}
}

// update applies fn under the lock and notifies the listener outside it.
func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.OnChange(snap)
	}
}

// Send appends content as a user message and streams the answer into a new
// assistant message. It blocks until the turn ends. A turn stopped with
// Stop returns nil and keeps the partial answer.
func (s *Session) Send(ctx context.Context, content string) error {
	return s.run(ctx, -1, content)
}

// Regenerate drops everything from the last user message on and sends that
// message again.
func (s *Session) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	idx := s.log.LastIndexOfRole("user")
	var content string
	if idx >= 0 {
		content = s.log.msgs[idx].Content
	}
	s.mu.Unlock()
	if idx < 0 {
		return ErrNoUserMessage
	}
	return s.run(ctx, idx, content)
}

// EditAndResend drops the message with id and everything after it, then
// sends content in its place.
func (s *Session) EditAndResend(ctx context.Context, id, content string) error {
	s.mu.Lock()
	idx := s.log.IndexOf(id)
	s.mu.Unlock()
	if idx < 0 {
		return ErrUnknownMessage
	}
	return s.run(ctx, idx, content)
}

// Stop cancels the in-flight turn, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Clear empties the log. It is refused while a turn is in flight.
func (s *Session) Clear() error {
	s.mu.Lock()
	busy := s.loading
	s.mu.Unlock()
	if busy {
		return ErrBusy
	}
	s.update(func() { s.log = Log{} })
	return nil
}

type turnRequest struct {
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// run truncates the log at truncateAt (when >= 0), appends the user and
// assistant messages, and streams the turn.
func (s *Session) run(parent context.Context, truncateAt int, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		assistant Message
		history   []wireMessage
		busy      bool
	)
	s.update(func() {
		if s.loading {
			busy = true
			return
		}
		base := s.log
		if truncateAt >= 0 {
			base = base.TruncateAt(truncateAt)
		}
		now := s.now()
		user := newMessage("user", content, now)
		assistant = newMessage("assistant", "", now)
		s.log = base.Append(user, assistant)
		for _, m := range base.Append(user).msgs {
			history = append(history, wireMessage{Role: m.Role, Content: m.Content})
		}
		s.loading = true
		s.cancel = cancel
	})
	if busy {
		return ErrBusy
	}
	defer s.update(func() {
		s.loading = false
		s.searching = false
		s.searchQuery = ""
		s.cancel = nil
	})

	h := &sessionHandler{s: s, id: assistant.ID}
	err := s.stream(ctx, history, h)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		// Stopped; the partial answer stays.
		return nil
	default:
		log.Printf("client: turn failed: %v", err)
		if !h.failed {
			h.OnError(err)
		}
		return err
	}
}

func (s *Session) stream(ctx context.Context, history []wireMessage, h Handler) error {
	body, err := json.Marshal(turnRequest{Messages: history})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = json.Unmarshal(raw, &payload)
		return &HTTPError{Status: resp.StatusCode, Message: payload.Error}
	}

	_, err = Consume(ctx, resp.Body, h)
	return err
}

// sessionHandler writes stream events into the in-flight assistant message.
type sessionHandler struct {
	s      *Session
	id     string
	failed bool
}

func (h *sessionHandler) modify(fn func(*Message)) {
	h.s.update(func() {
		idx := h.s.log.IndexOf(h.id)
		if idx < 0 {
			return
		}
		m := h.s.log.msgs[idx]
		fn(&m)
		h.s.log = h.s.log.Replace(m)
	})
}

func (h *sessionHandler) OnSearch(query string) {
	h.s.update(func() {
		h.s.searching = true
		h.s.searchQuery = query
	})
	h.modify(func(m *Message) {
		m.IsSearching = true
		m.SearchQuery = query
	})
}

func (h *sessionHandler) OnContent(text string) {
	h.s.update(func() { h.s.searching = false })
	h.modify(func(m *Message) {
		m.Content = text
		m.IsSearching = false
	})
}

// OnError replaces the assistant message with a visible error notice.
func (h *sessionHandler) OnError(err error) {
	h.failed = true
	h.modify(func(m *Message) {
		m.Content = fmt.Sprintf(errorNotice, err.Error())
		m.IsSearching = false
	})
}

func (h *sessionHandler) OnDone() {}
