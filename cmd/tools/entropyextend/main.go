// Command entropyextend is the operator tool that grows the global
// entropy stream. The server only ever extends it up to a configured floor
// at boot; pushing the stream further once a deployment is running is a
// deliberate, explicit, out-of-band action, never something a request
// handler does on the caller's behalf.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/turnkeeper/internal/config"
	"github.com/zhouzirui/turnkeeper/internal/entropy"
	"github.com/zhouzirui/turnkeeper/internal/storage"
	"github.com/zhouzirui/turnkeeper/internal/storage/fsstore"
	"github.com/zhouzirui/turnkeeper/internal/storage/sqlstore"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: no .env file loaded: %v", err)
	}

	count := flag.Int("count", 0, "number of new entropy entries to append")
	seed := flag.Int64("seed", 0, "override the deterministic seed (defaults to ENTROPY_SEED)")
	checkOnly := flag.Bool("check", false, "only report the current stream length, do not extend")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := newStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open storage backend: %v", err)
	}

	src := entropy.New(store)
	ctx := context.Background()

	length, err := src.Length(ctx)
	if err != nil {
		log.Fatalf("failed to read entropy length: %v", err)
	}
	log.Printf("current entropy stream length: %d", length)

	if *checkOnly {
		return
	}
	if *count <= 0 {
		log.Fatal("specify -count N to extend the stream (or -check to only report length)")
	}

	seedValue := cfg.Entropy.Seed
	if *seed != 0 {
		seedValue = *seed
	}

	if err := src.Extend(ctx, seedValue, *count); err != nil {
		log.Fatalf("failed to extend entropy stream: %v", err)
	}
	log.Printf("appended %d entries; new length %d", *count, length+int64(*count))
}

func newStore(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlstore.New(cfg.DatabaseURL)
	default:
		return fsstore.New(cfg.DataRoot)
	}
}
