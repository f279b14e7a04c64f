package main

import (
	"context"
	"log"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	_ "github.com/klipach/contactcast"
	"github.com/klipach/contactcast/config"
)

func main() {
	cfg, err := config.Load(context.Background())
	if err != nil {
		log.Fatalf("config.Load: %v\n", err)
	}
	log.Printf("Started on port %s\n", cfg.App.Port)

	if err := funcframework.Start(cfg.App.Port); err != nil {
		log.Fatalf("funcframework.Start: %v\n", err)
	}

	log.Println("Done")
}
