package providers

import (
	_ "github.com/stake-plus/chat-proxy/src/ai/openrouter"
)
