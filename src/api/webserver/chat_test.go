package webserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/chat-proxy/src/ai/core"
	_ "github.com/stake-plus/chat-proxy/src/ai/providers"
	"github.com/stake-plus/chat-proxy/src/chat"
	"github.com/stake-plus/chat-proxy/src/config"
	"github.com/stake-plus/chat-proxy/src/data"
	"github.com/stake-plus/chat-proxy/src/search"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeUpstream plays both the completion API and the search API.
type fakeUpstream struct {
	mu          sync.Mutex
	completions int
	searches    int
	toolQuery   string // when set, the decision call asks for web_search
	toolResults []string
	answer      []string
	status      int
}

func (f *fakeUpstream) completionHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.completions++
		f.mu.Unlock()

		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
			return
		}

		var req struct {
			Messages []core.Turn `json:"messages"`
			Stream   bool        `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, core.RoleSystem, req.Messages[0].Role)

		if !req.Stream {
			if f.toolQuery == "" {
				_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"direct"}}]}`)
				return
			}
			args, _ := json.Marshal(map[string]string{"query": f.toolQuery})
			resp, _ := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []any{map[string]any{
						"id": "call_9", "type": "function",
						"function": map[string]any{"name": "web_search", "arguments": string(args)},
					}},
				}}},
			})
			_, _ = w.Write(resp)
			return
		}

		for _, m := range req.Messages {
			if m.Role == core.RoleTool {
				f.mu.Lock()
				f.toolResults = append(f.toolResults, m.Content)
				f.mu.Unlock()
				require.Equal(t, "call_9", m.ToolCallID)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range f.answer {
			payload, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": part}}}})
			_, _ = io.WriteString(w, "data: "+string(payload)+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}
}

func (f *fakeUpstream) counts() (completions, searches int, toolResults []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completions, f.searches, append([]string(nil), f.toolResults...)
}

func (f *fakeUpstream) searchHandler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.searches++
	f.mu.Unlock()
	_, _ = io.WriteString(w, `{"organic":[{"title":"らーめん太郎","snippet":"木更津駅前","link":"https://ramen.example"}]}`)
}

type recorder struct {
	mu   sync.Mutex
	recs []data.TurnRecord
	done chan struct{}
}

func (r *recorder) Record(rec data.TurnRecord) error {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
	close(r.done)
	return nil
}

func newTestEngine(t *testing.T, up *fakeUpstream, aiKey, searchKey string, audit TurnRecorder) *gin.Engine {
	t.Helper()
	completions := httptest.NewServer(up.completionHandler(t))
	t.Cleanup(completions.Close)
	searches := httptest.NewServer(http.HandlerFunc(up.searchHandler))
	t.Cleanup(searches.Close)

	cfg := config.Config{
		CORSOrigins: []string{"http://localhost:3000"},
		AI:          config.AI{Provider: "openrouter", APIKey: aiKey, BaseURL: completions.URL, Model: "test/model"},
		Search:      config.Search{APIKey: searchKey, URL: searches.URL},
	}
	completer, err := core.NewClient(core.FactoryConfig{Provider: cfg.AI.Provider, APIKey: aiKey, BaseURL: completions.URL, Model: cfg.AI.Model})
	if aiKey == "" {
		require.Error(t, err)
		completer = nil
	} else {
		require.NoError(t, err)
	}
	searcher := search.NewSerper(searchKey, search.WithEndpoint(searches.URL))
	return New(cfg, Deps{Orchestrator: chat.New(completer, searcher, "sys"), Audit: audit})
}

func postChat(engine *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func frames(body string) []string {
	return strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
}

func TestChatSearchTurnStreamsMarkerFirst(t *testing.T) {
	up := &fakeUpstream{toolQuery: "木更津 ラーメン", answer: []string{"らーめん太郎", "がおすすめです。"}}
	rec := &recorder{done: make(chan struct{})}
	engine := newTestEngine(t, up, "key", "serper", rec)

	w := postChat(engine, `{"messages":[{"role":"user","content":"木更津のラーメン店は？"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	got := frames(w.Body.String())
	require.Equal(t, []string{
		`data: {"searchQuery":"木更津 ラーメン","searchPerformed":true}`,
		`data: {"content":"らーめん太郎"}`,
		`data: {"content":"がおすすめです。"}`,
		`data: [DONE]`,
	}, got)
	completions, searches, toolResults := up.counts()
	require.Equal(t, 2, completions)
	require.Equal(t, 1, searches)
	require.Len(t, toolResults, 1)
	require.Contains(t, toolResults[0], "らーめん太郎")

	<-rec.done
	require.True(t, rec.recs[0].Searched)
	require.Equal(t, "done", rec.recs[0].FinalState)
	require.Equal(t, http.StatusOK, rec.recs[0].Status)
}

func TestChatDirectTurnHasNoMarker(t *testing.T) {
	up := &fakeUpstream{answer: []string{"hello", " there"}}
	engine := newTestEngine(t, up, "key", "serper", nil)

	w := postChat(engine, `{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "searchPerformed")
	require.Equal(t, "data: {\"content\":\"hello\"}\n\ndata: {\"content\":\" there\"}\n\ndata: [DONE]\n\n", w.Body.String())
	_, searches, _ := up.counts()
	require.Zero(t, searches)
}

func TestChatMissingCompletionKeyMakesNoCalls(t *testing.T) {
	up := &fakeUpstream{}
	engine := newTestEngine(t, up, "", "serper", nil)

	w := postChat(engine, `{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "OPENROUTER_API_KEY が設定されていません。", body["error"])
	completions, searches, _ := up.counts()
	require.Zero(t, completions)
	require.Zero(t, searches)
}

func TestChatMissingSearchKeyStillAnswers(t *testing.T) {
	up := &fakeUpstream{toolQuery: "weather", answer: []string{"検索できませんでした"}}
	engine := newTestEngine(t, up, "key", "", nil)

	w := postChat(engine, `{"messages":[{"role":"user","content":"today's weather?"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	_, searches, toolResults := up.counts()
	require.Zero(t, searches)
	require.Len(t, toolResults, 1)
	require.Contains(t, toolResults[0], "SERPER_API_KEY")
	require.True(t, strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n"))
}

func TestChatUpstreamErrorMirrorsStatus(t *testing.T) {
	up := &fakeUpstream{status: http.StatusPaymentRequired}
	engine := newTestEngine(t, up, "key", "serper", nil)

	w := postChat(engine, `{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.JSONEq(t, `{"error":"APIエラー: 402"}`, w.Body.String())
}

func TestChatForwardsOnlyRecentHistory(t *testing.T) {
	var seen int
	completions := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []core.Turn `json:"messages"`
			Stream   bool        `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			seen = len(req.Messages)
			require.Equal(t, "m10", req.Messages[1].Content)
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
			return
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer completions.Close()

	completer, err := core.NewClient(core.FactoryConfig{APIKey: "k", BaseURL: completions.URL})
	require.NoError(t, err)
	engine := New(config.Config{CORSOrigins: []string{"http://localhost:3000"}}, Deps{Orchestrator: chat.New(completer, nil, "sys")})

	msgs := make([]map[string]string, 50)
	for i := range msgs {
		msgs[i] = map[string]string{"role": "user", "content": "m" + strconv.Itoa(i)}
	}
	body, _ := json.Marshal(map[string]any{"messages": msgs})
	w := postChat(engine, string(body))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, chat.MaxHistoryTurns+1, seen)
}

func TestChatRejectsBadPayload(t *testing.T) {
	engine := newTestEngine(t, &fakeUpstream{}, "key", "serper", nil)

	for _, body := range []string{`not json`, `{}`, `{"messages":[{"role":"wizard","content":"x"}]}`} {
		w := postChat(engine, body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		require.Contains(t, w.Body.String(), `"error"`)
	}
}

func TestChatAliasAndHealth(t *testing.T) {
	engine := newTestEngine(t, &fakeUpstream{answer: []string{"x"}}, "key", "", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.JSONEq(t, `{"status":"ok","completion":true,"search":false}`, w.Body.String())
}
