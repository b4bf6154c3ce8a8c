package chat

import (
	"github.com/stake-plus/chat-proxy/src/ai/core"
)

// MaxHistoryTurns bounds how many client turns are forwarded upstream.
const MaxHistoryTurns = 40

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = `あなたは親しみやすく頼れるAIアシスタントです。ユーザーと同じ言語で、簡潔かつ正確に答えてください。
最新の情報、地域の店舗や施設、価格、営業時間、ニュースなど、知識だけでは確実に答えられない質問には web_search ツールを使って調べてから回答してください。
検索結果を使った場合は、参考にしたページのURLを回答の最後に示してください。`

// BuildConversation prefixes the system turn to the most recent
// MaxHistoryTurns client turns. Only role and content of client turns are
// kept. The result never aliases history.
func BuildConversation(systemPrompt string, history []core.Turn) []core.Turn {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	turns := make([]core.Turn, 0, len(history)+1)
	turns = append(turns, core.Turn{Role: core.RoleSystem, Content: systemPrompt})
	for _, h := range history {
		turns = append(turns, core.Turn{Role: h.Role, Content: h.Content})
	}
	return turns
}

// augment appends the honored tool invocation and its result to turns.
// The assistant turn carries only that invocation so every tool call sent
// upstream has a matching tool turn.
func augment(turns []core.Turn, assistant core.Turn, call core.ToolCall, result string) []core.Turn {
	out := make([]core.Turn, 0, len(turns)+2)
	out = append(out, turns...)
	out = append(out,
		core.Turn{Role: core.RoleAssistant, Content: assistant.Content, ToolCalls: []core.ToolCall{call}},
		core.Turn{Role: core.RoleTool, Content: result, ToolCallID: call.ID},
	)
	return out
}
