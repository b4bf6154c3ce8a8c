package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProxy records the histories it receives and answers with a fixed body.
type fakeProxy struct {
	mu        sync.Mutex
	histories [][]wireMessage
	status    int
	body      string
	block     chan struct{}
}

func (p *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	p.mu.Lock()
	p.histories = append(p.histories, req.Messages)
	p.mu.Unlock()

	if p.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(p.status)
		_, _ = io.WriteString(w, p.body)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(w, p.body)
	if p.block != nil {
		w.(http.Flusher).Flush()
		select {
		case <-p.block:
		case <-r.Context().Done():
		}
	}
}

func (p *fakeProxy) history(i int) []wireMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.histories[i]
}

func newTestSession(t *testing.T, p *fakeProxy, opts ...SessionOption) *Session {
	t.Helper()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return NewSession(srv.URL+"/chat", opts...)
}

const answerBody = "data: {\"searchQuery\":\"q\",\"searchPerformed\":true}\n\n" +
	"data: {\"content\":\"Hel\"}\n\ndata: {\"content\":\"lo\"}\n\ndata: [DONE]\n\n"

func TestSendStreamsIntoAssistantMessage(t *testing.T) {
	p := &fakeProxy{body: answerBody}
	var mu sync.Mutex
	var sawSearching bool
	s := newTestSession(t, p, WithListener(ListenerFunc(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if snap.Searching && snap.SearchQuery == "q" {
			sawSearching = true
		}
	})))

	require.NoError(t, s.Send(context.Background(), "hi"))

	snap := s.Snapshot()
	require.False(t, snap.Loading)
	require.False(t, snap.Searching)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "user", snap.Messages[0].Role)
	require.Equal(t, "Hello", snap.Messages[1].Content)
	require.Equal(t, "q", snap.Messages[1].SearchQuery)
	require.False(t, snap.Messages[1].IsSearching)
	require.NotEqual(t, snap.Messages[0].ID, snap.Messages[1].ID)
	require.Equal(t, []wireMessage{{Role: "user", Content: "hi"}}, p.history(0))

	mu.Lock()
	require.True(t, sawSearching)
	mu.Unlock()
}

func TestSendRejectsEmpty(t *testing.T) {
	s := newTestSession(t, &fakeProxy{body: answerBody})
	require.ErrorIs(t, s.Send(context.Background(), "   "), ErrEmptyMessage)
	require.Empty(t, s.Snapshot().Messages)
}

func TestSendShowsProxyError(t *testing.T) {
	p := &fakeProxy{status: http.StatusInternalServerError, body: `{"error":"OPENROUTER_API_KEY が設定されていません。"}`}
	s := newTestSession(t, p)

	err := s.Send(context.Background(), "hi")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusInternalServerError, httpErr.Status)
	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 2)
	require.True(t, strings.HasPrefix(msgs[1].Content, "⚠️ エラーが発生しました: OPENROUTER_API_KEY"))
}

func TestRegenerateReplaysLastUserMessage(t *testing.T) {
	p := &fakeProxy{body: answerBody}
	s := newTestSession(t, p)
	require.NoError(t, s.Send(context.Background(), "first"))
	require.NoError(t, s.Send(context.Background(), "second"))

	require.NoError(t, s.Regenerate(context.Background()))

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 4)
	require.Equal(t, "second", msgs[2].Content)
	require.Equal(t, []wireMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "Hello"},
		{Role: "user", Content: "second"},
	}, p.history(2))
}

func TestRegenerateWithoutUserMessage(t *testing.T) {
	s := newTestSession(t, &fakeProxy{body: answerBody})
	require.ErrorIs(t, s.Regenerate(context.Background()), ErrNoUserMessage)
}

func TestEditAndResendTruncates(t *testing.T) {
	p := &fakeProxy{body: answerBody}
	s := newTestSession(t, p)
	require.NoError(t, s.Send(context.Background(), "first"))
	require.NoError(t, s.Send(context.Background(), "second"))
	firstID := s.Snapshot().Messages[0].ID

	require.NoError(t, s.EditAndResend(context.Background(), firstID, "edited"))

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 2)
	require.Equal(t, "edited", msgs[0].Content)
	require.Equal(t, []wireMessage{{Role: "user", Content: "edited"}}, p.history(2))
	require.ErrorIs(t, s.EditAndResend(context.Background(), "nope", "x"), ErrUnknownMessage)
}

func TestStopKeepsPartialAnswer(t *testing.T) {
	p := &fakeProxy{body: "data: {\"content\":\"part\"}\n\n", block: make(chan struct{})}
	defer close(p.block)

	got := make(chan struct{}, 1)
	var s *Session
	s = newTestSession(t, p, WithListener(ListenerFunc(func(snap Snapshot) {
		if len(snap.Messages) == 2 && snap.Messages[1].Content == "part" {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	})))

	errc := make(chan error, 1)
	go func() { errc <- s.Send(context.Background(), "hi") }()
	<-got

	require.ErrorIs(t, s.Send(context.Background(), "again"), ErrBusy)
	require.ErrorIs(t, s.Clear(), ErrBusy)

	s.Stop()
	require.NoError(t, <-errc)

	snap := s.Snapshot()
	require.False(t, snap.Loading)
	require.Equal(t, "part", snap.Messages[1].Content)

	require.NoError(t, s.Clear())
	require.Empty(t, s.Snapshot().Messages)
}

func TestWithMessagesSeedsHistory(t *testing.T) {
	p := &fakeProxy{body: answerBody}
	seed := []Message{{ID: "1", Role: "user", Content: "old"}, {ID: "2", Role: "assistant", Content: "reply"}}
	s := newTestSession(t, p, WithMessages(seed))

	require.NoError(t, s.Send(context.Background(), "new"))
	require.Len(t, p.history(0), 3)
	require.Len(t, s.Snapshot().Messages, 4)
}

func TestErrorFrameReplacesPartialAnswer(t *testing.T) {
	p := &fakeProxy{body: "data: {\"content\":\"half\"}\n\ndata: {\"error\":\"upstream went away\"}\n\n"}
	s := newTestSession(t, p)

	err := s.Send(context.Background(), "hi")

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	msgs := s.Snapshot().Messages
	require.Contains(t, msgs[1].Content, "upstream went away")
	require.NotContains(t, msgs[1].Content, "half")
	require.False(t, s.Snapshot().Loading)
}
