package chat

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stake-plus/chat-proxy/src/ai/core"
)

// ConfigurationError reports a missing required credential.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("chat: %s is not configured", e.Setting)
}

// MalformedToolArgumentsError reports tool arguments that are not a JSON
// object with a usable query.
type MalformedToolArgumentsError struct {
	Tool      string
	Arguments string
	Err       error
}

func (e *MalformedToolArgumentsError) Error() string {
	return fmt.Sprintf("chat: malformed %s arguments %q: %v", e.Tool, e.Arguments, e.Err)
}

func (e *MalformedToolArgumentsError) Unwrap() error {
	return e.Err
}

// StatusFor maps a pre-stream failure to the HTTP status returned to the
// client: the upstream status when there is one, 500 otherwise.
func StatusFor(err error) int {
	var upstream *core.UpstreamError
	if errors.As(err, &upstream) && upstream.Status >= 400 {
		return upstream.Status
	}
	return http.StatusInternalServerError
}

// ClientMessage is the error text shown to the user.
func ClientMessage(err error) string {
	var cfgErr *ConfigurationError
	var upstream *core.UpstreamError
	var malformed *MalformedToolArgumentsError
	switch {
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("%s が設定されていません。", cfgErr.Setting)
	case errors.As(err, &upstream):
		return fmt.Sprintf("APIエラー: %d", upstream.Status)
	case errors.As(err, &malformed):
		return "検索ツールの引数を解析できませんでした。"
	default:
		return fmt.Sprintf("サーバーエラー: %v", err)
	}
}
