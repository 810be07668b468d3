// Command ingest runs one batch ingestion over a directory tree of raw
// message files and reconstructs threads when the batch completes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailcorpus/mailcorpus/internal/blob"
	"github.com/mailcorpus/mailcorpus/internal/config"
	"github.com/mailcorpus/mailcorpus/internal/ingest"
	"github.com/mailcorpus/mailcorpus/internal/logger"
	"github.com/mailcorpus/mailcorpus/internal/store"
)

func main() {
	var (
		root    = flag.String("root", "", "directory tree of raw message files (required)")
		workers = flag.Int("workers", 0, "decode workers, overrides INGEST_WORKERS")
		batch   = flag.Int("batch", 0, "files per store transaction, overrides INGEST_BATCH_SIZE")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.DefaultConfig()).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	})

	if *root == "" {
		log.Error("missing -root flag")
		flag.Usage()
		os.Exit(2)
	}
	if *workers > 0 {
		cfg.Ingest.Workers = *workers
	}
	if *batch > 0 {
		cfg.Ingest.BatchSize = *batch
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.Open(connectCtx, cfg.Database.DSN())
	cancel()
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := ingest.Options{
		Root:           *root,
		Workers:        cfg.Ingest.Workers,
		BatchSize:      cfg.Ingest.BatchSize,
		OwnerAddresses: cfg.Ingest.OwnerAddresses,
	}
	if cfg.Blob.Enabled() {
		opts.Blob = blob.New(&cfg.Blob)
		opts.MirrorThreshold = cfg.Blob.MirrorThreshold
	}

	runner := ingest.NewRunner(store.New(db), opts, log)
	report, err := runner.Run(ctx)
	if err != nil {
		log.Error("ingestion failed", "error", err)
		os.Exit(1)
	}

	for class, n := range report.Failures {
		log.Warn("ingestion failures", "class", class, "count", n)
	}
	if report.Failures[ingest.FailureStore] > 0 {
		os.Exit(1)
	}
}
