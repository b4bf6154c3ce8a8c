package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	CORSOrigins []string
	RedisURL    string
	MySQLDSN    string
	SSLCert     string
	SSLKey      string

	// ChatRateLimit caps chat turns per client IP per minute; 0 disables it.
	ChatRateLimit int

	AI     AI
	Search Search
}

type Search struct {
	APIKey   string
	URL      string
	CacheTTL time.Duration
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	return Config{
		Port:          getenv("PORT", "8080"),
		CORSOrigins:   splitList(getenv("CORS_ORIGINS", "http://localhost:3000")),
		RedisURL:      os.Getenv("REDIS_URL"),
		MySQLDSN:      os.Getenv("MYSQL_DSN"),
		SSLCert:       os.Getenv("SSL_CERT"),
		SSLKey:        os.Getenv("SSL_KEY"),
		ChatRateLimit: getenvInt("CHAT_RATE_LIMIT", 0),
		AI:            LoadAIFromEnv(),
		Search: Search{
			APIKey:   os.Getenv("SERPER_API_KEY"),
			URL:      os.Getenv("SEARCH_URL"),
			CacheTTL: time.Duration(getenvInt("SEARCH_CACHE_TTL", 600)) * time.Second,
		},
	}
}
