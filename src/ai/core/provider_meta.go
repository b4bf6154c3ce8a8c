package core

import (
	"strings"
)

var providerDefaultModels = map[string]string{
	"openrouter": "google/gemini-2.5-flash",
	"openai":     "gpt-4o-mini",
}

var providerBaseURLs = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1",
	"openai":     "https://api.openai.com/v1",
}

// DefaultModelForProvider returns the baked-in default model for a provider key.
func DefaultModelForProvider(provider string) string {
	key := strings.ToLower(strings.TrimSpace(provider))
	if val, ok := providerDefaultModels[key]; ok {
		return val
	}
	return ""
}

// ResolveModelName picks the configured model if provided, otherwise the provider's default.
func ResolveModelName(provider, configuredModel string) string {
	model := strings.TrimSpace(configuredModel)
	if model != "" {
		return model
	}
	if def := DefaultModelForProvider(provider); def != "" {
		return def
	}
	return "unknown"
}

// ResolveBaseURL picks the configured base URL if provided, otherwise the provider's default.
func ResolveBaseURL(provider, configured string) string {
	base := strings.TrimRight(strings.TrimSpace(configured), "/")
	if base != "" {
		return base
	}
	return providerBaseURLs[strings.ToLower(strings.TrimSpace(provider))]
}
