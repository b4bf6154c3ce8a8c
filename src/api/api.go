package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stake-plus/chat-proxy/src/ai/core"
	_ "github.com/stake-plus/chat-proxy/src/ai/providers"
	"github.com/stake-plus/chat-proxy/src/api/webserver"
	"github.com/stake-plus/chat-proxy/src/cache"
	"github.com/stake-plus/chat-proxy/src/chat"
	"github.com/stake-plus/chat-proxy/src/config"
	"github.com/stake-plus/chat-proxy/src/data"
	"github.com/stake-plus/chat-proxy/src/search"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The proxy still starts without a key; every turn reports it instead.
	completer, err := core.NewClient(core.FactoryConfig{
		Provider: cfg.AI.Provider,
		Model:    cfg.AI.Model,
		APIKey:   cfg.AI.APIKey,
		BaseURL:  cfg.AI.BaseURL,
		Referer:  cfg.AI.Referer,
		Title:    cfg.AI.Title,
	})
	if err != nil {
		log.Printf("Warning: completion client unavailable: %v", err)
		completer = nil
	}

	searchOpts := []search.Option{search.WithEndpoint(cfg.Search.URL)}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = data.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: search cache disabled: %v", err)
		} else {
			defer rdb.Close()
			searchOpts = append(searchOpts, search.WithCache(cache.NewSearchCache(rdb, cfg.Search.CacheTTL)))
		}
	}
	if cfg.Search.APIKey == "" {
		log.Printf("Warning: SERPER_API_KEY not set, web search answers with a placeholder")
	}
	searcher := search.NewSerper(cfg.Search.APIKey, searchOpts...)

	deps := webserver.Deps{
		Orchestrator: chat.New(completer, searcher, cfg.AI.SystemPrompt),
	}
	if cfg.MySQLDSN != "" {
		db, err := data.ConnectMySQL(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("mysql: %v", err)
		}
		turnLog, err := data.NewTurnLog(db)
		if err != nil {
			log.Fatalf("mysql: %v", err)
		}
		deps.Audit = turnLog
	}

	router := webserver.New(cfg, deps)

	// No WriteTimeout: answers stream for as long as the model talks.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	useTLS := cfg.SSLCert != "" && cfg.SSLKey != ""
	go func() {
		var err error
		if useTLS {
			reloader, rerr := webserver.NewCertReloader(ctx, cfg.SSLCert, cfg.SSLKey, 5*time.Minute)
			if rerr != nil {
				log.Fatalf("tls: %v", rerr)
			}
			httpSrv.TLSConfig = reloader.Config()
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()
	log.Printf("Chat proxy listening on %s (TLS: %v, provider: %s)", cfg.Port, useTLS, cfg.AI.Provider)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}
