package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/nyayasetu/legalchat/internal/chat"
	"github.com/nyayasetu/legalchat/internal/config"
	"github.com/nyayasetu/legalchat/internal/db"
	"github.com/nyayasetu/legalchat/internal/httpapi"
	"github.com/nyayasetu/legalchat/internal/store/rabbitmq"
	"github.com/nyayasetu/legalchat/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	// Per-session turn locks live in redis so multiple instances serialize
	// against each other; without redis a single instance falls back to the
	// in-process lock.
	var locker chat.Locker
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("redis unavailable (%v), using in-process session locks", err)
		locker = chat.NewKeyedMutex()
	} else {
		locker = rds
	}
	cancel()

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbitmq unavailable (%v), async turns disabled", err)
		rabbit = nil
	} else {
		defer rabbit.Close()
	}

	r := httpapi.NewRouter(gdb, cfg, locker, rabbit)

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
