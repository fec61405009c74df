package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"spar-talk/server/internal/api"
	"spar-talk/server/internal/config"
	"spar-talk/server/internal/engine"
	"spar-talk/server/internal/live"
	"spar-talk/server/internal/llm"
	"spar-talk/server/internal/persona"
	"spar-talk/server/internal/session"
	"spar-talk/server/internal/timeline"

	"github.com/redis/go-redis/v9"
)

func main() {
	// 敏感信息（LLM API Key、Redis 地址）走环境变量，其余走配置文件。
	// - LLM_API_KEY / OPENAI_API_KEY / ANTHROPIC_API_KEY
	// - REDIS_ADDR：设置后自动切换到 Redis 会话存储
	configPath := flag.String("config", "", "config file path (yaml); empty = built-in defaults")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	var store session.Store
	switch cfg.Session.StoreType {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr})
		store = session.NewRedisStore(client, session.RedisStoreConfig{TTL: cfg.Session.RedisTTL})
		log.Printf("session store: redis (%s)", cfg.Session.RedisAddr)
	default:
		store = session.NewInMemoryStore()
		log.Printf("session store: memory")
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatalf("init llm client: %v", err)
	}

	hub := live.NewHub()
	eng := engine.New(store, timeline.NewInMemoryStore(), llmClient, persona.DefaultTable(), cfg.Engine, hub, nil)
	server := api.NewServer(cfg, eng, hub)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("spartalk server listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
