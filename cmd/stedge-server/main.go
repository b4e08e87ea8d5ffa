package main

import (
	"log"

	"github.com/MrSnakeDoc/stedge/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ stedge failed to start: %v", err)
	}
}
