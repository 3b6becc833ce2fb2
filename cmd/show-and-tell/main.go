// Package main starts the show-and-tell backend: teach session capture,
// plan synthesis, and plan replay over REST and websockets.
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	showandtell "github.com/jianyangg/show-and-tell"
	"github.com/jianyangg/show-and-tell/server"
)

func main() {
	// Load .env file when present; real env vars win.
	_ = godotenv.Load(".env")

	cfg := showandtell.FromEnv()

	svc, err := showandtell.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to start service: %v", err)
	}
	defer svc.Close()

	if cfg.APIKey == "" {
		log.Println("GEMINI_API_KEY is not set: plan synthesis and replay decisions are disabled")
	}

	srv := server.New(svc)
	log.Printf("show-and-tell listening on %s", svc.Config().Addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
