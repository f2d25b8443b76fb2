package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"docs-rag/internal/config"
	"docs-rag/internal/helper"
	"docs-rag/internal/rag"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Error loading .env file")
	}

	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.InitLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Debug().Str("store", cfg.VectorStore.Type).Str("data_dir", cfg.DataDir).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := rag.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing RAG system")
	}
	defer r.Close()

	ingest, err := r.IngestIfEmpty(ctx, cfg.DataDir, cfg.RAG.Force)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting documents")
	}
	if ingest.Interrupted {
		fmt.Printf("Ingestion interrupted: %d/%d documents stored\n", ingest.Stored, ingest.Total)
		return
	}

	report := r.AnswerAll(ctx, cfg.Questions)
	for _, a := range report.Answers {
		fmt.Printf("\nQuestion: %s\n", a.Question)
		if a.Err != nil {
			fmt.Printf("Error: %v\n", a.Err)
			continue
		}
		fmt.Printf("Answer: %s\n", a.Response.Content)
		if a.Response.Source != "" {
			fmt.Printf("Source: %s\n", a.Response.Source)
		}
	}
	fmt.Printf("\nAnswered %d/%d questions\n", report.Succeeded, len(cfg.Questions))

	if report.Succeeded == 0 && report.Failed > 0 {
		r.Close()
		os.Exit(1)
	}
}
