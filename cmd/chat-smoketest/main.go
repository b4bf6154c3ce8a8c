package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stake-plus/chat-proxy/src/client"
	"github.com/stake-plus/chat-proxy/src/data"
)

var (
	urlFlag     = flag.String("url", "http://localhost:8080/chat", "Chat endpoint of the proxy")
	promptsFlag = flag.String("prompts", defaultPrompts, "Semicolon-separated prompts sent in order")
	modeFlag    = flag.String("mode", "send", "send|regenerate|both")
	timeoutFlag = flag.Duration("timeout", 90*time.Second, "Per-turn timeout")
	storeFlag   = flag.String("store", "", "File to save the conversation to")
	redisFlag   = flag.String("redis", "", "Redis URL to save the conversation to (overrides -store)")
	maxLenFlag  = flag.Int("max-bytes", 1200, "Maximum bytes of output to print per answer (0=unlimited)")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	prompts := splitPrompts(*promptsFlag)
	if len(prompts) == 0 {
		log.Fatal("no prompts specified")
	}
	mode, err := parseMode(*modeFlag)
	if err != nil {
		log.Fatalf("invalid mode: %v", err)
	}

	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	var convs *client.Conversations
	var convID string
	if store != nil {
		if convs, err = client.OpenConversations(ctx, store); err != nil {
			log.Fatalf("conversations: %v", err)
		}
		if convID, err = convs.Create(ctx); err != nil {
			log.Fatalf("conversations: %v", err)
		}
	}

	var lastSearch string
	session := client.NewSession(*urlFlag, client.WithListener(client.ListenerFunc(func(s client.Snapshot) {
		if s.Searching && s.SearchQuery != lastSearch {
			lastSearch = s.SearchQuery
			fmt.Printf("🔍 searching: %s\n", s.SearchQuery)
		}
	})))

	if mode == modeSend || mode == modeBoth {
		for _, prompt := range prompts {
			fmt.Printf("=== %s ===\n", prompt)
			runTurn(session, func(ctx context.Context) error { return session.Send(ctx, prompt) })
		}
	}
	if mode == modeRegenerate || mode == modeBoth {
		if mode == modeRegenerate {
			runTurn(session, func(ctx context.Context) error { return session.Send(ctx, prompts[0]) })
		}
		fmt.Println("=== regenerate ===")
		runTurn(session, session.Regenerate)
	}

	if convs != nil {
		if err := convs.Update(ctx, convID, session.Snapshot().Messages); err != nil {
			log.Fatalf("save conversation: %v", err)
		}
		conv, _ := convs.Get(convID)
		fmt.Printf("saved %q (%d messages)\n", conv.Title, len(conv.Messages))
	}
}

func runTurn(session *client.Session, turn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	start := time.Now()
	err := turn(ctx)
	msgs := session.Snapshot().Messages
	answer := ""
	if len(msgs) > 0 {
		answer = msgs[len(msgs)-1].Content
	}
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Printf("✅ (%.1fs)\n%s\n", time.Since(start).Seconds(), truncate(answer, *maxLenFlag))
}

func openStore(ctx context.Context) (client.BlobStore, error) {
	if *redisFlag != "" {
		rdb, err := data.ConnectRedis(ctx, *redisFlag)
		if err != nil {
			return nil, err
		}
		return client.NewRedisStore(rdb, "", 0), nil
	}
	if *storeFlag != "" {
		return client.FileStore{Path: *storeFlag}, nil
	}
	return nil, nil
}

func splitPrompts(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMode(input string) (runMode, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "send":
		return modeSend, nil
	case "regenerate":
		return modeRegenerate, nil
	case "both":
		return modeBoth, nil
	default:
		return modeSend, errors.New("expected send, regenerate, or both")
	}
}

func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ToValidUTF8(text[:limit], "")) + "...(truncated)"
}

type runMode int

const (
	modeSend runMode = iota
	modeRegenerate
	modeBoth
)

const defaultPrompts = "こんにちは。自己紹介をしてください。;今日の東京の天気は？"
