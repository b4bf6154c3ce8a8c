// Package chat runs one tool-augmented chat turn: it asks the model whether
// a web search is needed, runs the search, and relays the streamed answer.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stake-plus/chat-proxy/src/ai/core"
	"github.com/stake-plus/chat-proxy/src/logging"
	"github.com/stake-plus/chat-proxy/src/search"
	"github.com/stake-plus/chat-proxy/src/stream"
)

// State is a step of the per-turn state machine.
type State int

const (
	StateDeciding State = iota
	StateDirect
	StateSearching
	StateStreaming
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDeciding:
		return "deciding"
	case StateDirect:
		return "direct"
	case StateSearching:
		return "searching"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Orchestrator holds the collaborators shared by all turns. It keeps no
// per-turn state.
type Orchestrator struct {
	completer    core.Client
	searcher     search.Searcher
	systemPrompt string
	tools        []core.ToolDefinition
}

// New builds an orchestrator. completer may be nil when the completion
// credential is missing; every turn then fails with a ConfigurationError.
func New(completer core.Client, searcher search.Searcher, systemPrompt string) *Orchestrator {
	if searcher == nil {
		searcher = search.NewSerper("")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Orchestrator{
		completer:    completer,
		searcher:     searcher,
		systemPrompt: systemPrompt,
		tools:        []core.ToolDefinition{core.SearchToolDefinition()},
	}
}

// Turn is the request-scoped state of one chat turn.
type Turn struct {
	ID string
	// History is the number of client turns forwarded upstream.
	History int
	// SearchQuery is set when the turn ran a web search.
	SearchQuery string
	Searched    bool
	Started     time.Time
	// Err is the failure that moved the turn to StateErrored.
	Err error

	o            *Orchestrator
	conversation []core.Turn

	mu          sync.Mutex
	transitions []State
	body        io.ReadCloser
}

// NewTurn prepares a turn for the given client history.
func (o *Orchestrator) NewTurn(history []core.Turn) *Turn {
	conv := BuildConversation(o.systemPrompt, history)
	return &Turn{
		ID:           uuid.NewString(),
		History:      len(conv) - 1,
		Started:      time.Now(),
		o:            o,
		conversation: conv,
	}
}

// Conversation returns a copy of the turns sent with the decision call.
func (t *Turn) Conversation() []core.Turn {
	return append([]core.Turn(nil), t.conversation...)
}

// Transitions returns the states entered so far, in order.
func (t *Turn) Transitions() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]State(nil), t.transitions...)
}

// State returns the current state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.transitions) == 0 {
		return StateDeciding
	}
	return t.transitions[len(t.transitions)-1]
}

func (t *Turn) enter(s State) {
	t.mu.Lock()
	t.transitions = append(t.transitions, s)
	t.mu.Unlock()
}

func (t *Turn) fail(err error) error {
	t.Err = err
	t.enter(StateErrored)
	if logging.IsRateLimit(err) {
		log.Printf("chat: turn=%s rate limited upstream", t.ID)
	}
	log.Printf("chat: turn=%s errored: %v", t.ID, err)
	return err
}

// Open runs the decision call, the optional search, and opens the upstream
// stream. On success the turn is in StateStreaming and Relay must follow.
// On failure the turn is in StateErrored and nothing has been written.
func (t *Turn) Open(ctx context.Context) error {
	t.enter(StateDeciding)
	completer := t.o.completer
	if completer == nil {
		return t.fail(&ConfigurationError{Setting: "OPENROUTER_API_KEY"})
	}

	decision, err := completer.Decide(ctx, t.conversation, t.o.tools)
	if err != nil {
		return t.fail(err)
	}

	next := t.conversation
	if call := searchInvocation(decision); call != nil {
		t.enter(StateSearching)
		query, err := parseSearchQuery(call.Function.Arguments)
		if err != nil {
			return t.fail(&MalformedToolArgumentsError{Tool: call.Function.Name, Arguments: call.Function.Arguments, Err: err})
		}
		if decision.Dropped > 0 {
			log.Printf("chat: turn=%s ignoring %d extra tool calls", t.ID, decision.Dropped)
		}
		log.Printf("chat: turn=%s web search query=%q", t.ID, query)
		digest := t.o.searcher.Search(ctx, query)
		next = augment(t.conversation, decision.Message, *call, digest)
		t.SearchQuery = query
		t.Searched = true
	} else {
		if decision.Invocation != nil {
			log.Printf("chat: turn=%s ignoring unknown tool %q", t.ID, decision.Invocation.Function.Name)
		}
		t.enter(StateDirect)
	}

	body, err := completer.Stream(ctx, next)
	if err != nil {
		return t.fail(err)
	}
	t.mu.Lock()
	t.body = body
	t.mu.Unlock()
	t.enter(StateStreaming)
	return nil
}

// Relay normalizes the open upstream stream into out and closes both.
// A mid-stream read failure ends the turn in StateErrored but writes no
// error frame; client cancellation ends it in StateDone.
func (t *Turn) Relay(ctx context.Context, out *stream.Writer) stream.Stats {
	t.mu.Lock()
	body := t.body
	t.mu.Unlock()
	if body == nil {
		_ = out.Close()
		return stream.Stats{ReadErr: errors.New("chat: relay without open stream")}
	}
	defer t.Close()

	stats := stream.Normalize(ctx, body, out, stream.Options{SearchQuery: t.SearchQuery, Searched: t.Searched})
	if stats.Dropped > 0 {
		log.Printf("chat: turn=%s dropped %d unparseable upstream lines", t.ID, stats.Dropped)
	}
	switch {
	case stats.ReadErr != nil && !logging.IsCanceled(stats.ReadErr):
		_ = t.fail(fmt.Errorf("stream read: %w", stats.ReadErr))
	case stats.WriteErr != nil && !logging.IsClientGone(stats.WriteErr):
		_ = t.fail(fmt.Errorf("stream write: %w", stats.WriteErr))
	default:
		t.enter(StateDone)
	}
	return stats
}

// Close releases the upstream body if one is open. Safe to call repeatedly.
func (t *Turn) Close() {
	t.mu.Lock()
	body := t.body
	t.body = nil
	t.mu.Unlock()
	if body != nil {
		_ = body.Close()
	}
}

// searchInvocation returns the decision's invocation when it targets the
// web_search tool. Any other tool is treated as no invocation.
func searchInvocation(d *core.Decision) *core.ToolCall {
	if d == nil || d.Invocation == nil {
		return nil
	}
	if d.Invocation.Function.Name != core.WebSearchTool {
		return nil
	}
	return d.Invocation
}

func parseSearchQuery(arguments string) (string, error) {
	var args struct {
		Query *string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", err
	}
	if args.Query == nil || strings.TrimSpace(*args.Query) == "" {
		return "", errors.New("missing query")
	}
	return *args.Query, nil
}
