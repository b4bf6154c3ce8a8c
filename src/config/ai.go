package config

import "os"

type AI struct {
	Provider     string
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	Referer      string
	Title        string
}

// LoadAIFromEnv reads the completion API settings. A missing key is not an
// error here; the chat handler reports it on every turn.
func LoadAIFromEnv() AI {
	return AI{
		Provider:     getenv("AI_PROVIDER", "openrouter"),
		APIKey:       os.Getenv("OPENROUTER_API_KEY"),
		Model:        os.Getenv("AI_MODEL"),
		BaseURL:      os.Getenv("AI_BASE_URL"),
		SystemPrompt: os.Getenv("AI_SYSTEM_PROMPT"),
		Referer:      os.Getenv("AI_REFERER"),
		Title:        getenv("AI_TITLE", "Chat Proxy"),
	}
}
