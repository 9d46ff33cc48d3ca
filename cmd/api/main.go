package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/shinyyama/marketplace-chat/internal/config"
	"github.com/shinyyama/marketplace-chat/internal/db"
	"github.com/shinyyama/marketplace-chat/internal/model"
	"github.com/shinyyama/marketplace-chat/internal/server"
)

// Set via -ldflags at build time.
var (
	gitSHA    = "dev"
	buildTime = "unknown"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	srv := server.New(nil, cfg, gitSHA, buildTime)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)

	go func() {
		log.Printf("starting server on %s", addr)
		errCh <- srv.Start(addr)
	}()

	// The DB comes up in the background; repositories answer ErrDBNotReady
	// until SetDB lands.
	go func() {
		conn, err := db.Connect(cfg)
		if err != nil {
			log.Printf("db connect error: %v", err)
			return
		}
		srv.SetDB(conn)
		if err := conn.AutoMigrate(&model.User{}, &model.Item{}, &model.Conversation{}, &model.Message{}); err != nil {
			log.Printf("auto migrate error: %v", err)
		}
	}()

	if err := <-errCh; err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
