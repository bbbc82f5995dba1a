package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/turnkeeper/internal/config"
	"github.com/zhouzirui/turnkeeper/internal/dice"
	"github.com/zhouzirui/turnkeeper/internal/entropy"
	"github.com/zhouzirui/turnkeeper/internal/httpapi"
	"github.com/zhouzirui/turnkeeper/internal/livebus"
	"github.com/zhouzirui/turnkeeper/internal/lockmgr"
	"github.com/zhouzirui/turnkeeper/internal/logging"
	"github.com/zhouzirui/turnkeeper/internal/narrator"
	"github.com/zhouzirui/turnkeeper/internal/rollsvc"
	"github.com/zhouzirui/turnkeeper/internal/storage"
	"github.com/zhouzirui/turnkeeper/internal/storage/fsstore"
	"github.com/zhouzirui/turnkeeper/internal/storage/sqlstore"
	"github.com/zhouzirui/turnkeeper/internal/turnengine"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New()

	if err := godotenv.Load(); err != nil {
		log.WithError(err).Warn("no .env file loaded, continuing with system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	store, err := newStore(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize storage backend")
	}

	entropySrc := entropy.New(store)
	if err := ensureEntropyFloor(ctx, entropySrc, cfg.Entropy); err != nil {
		log.WithError(err).Fatal("failed to extend entropy stream to configured floor")
	}

	locks := lockmgr.New(store)
	diceEval := dice.New()
	engine := turnengine.New(store, entropySrc, diceEval, locks, cfg.Entropy.Seed)
	rolls := rollsvc.New(store, entropySrc, diceEval, locks)
	bus := livebus.New()

	var narrate narrator.Narrator
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to initialize narrator chat model, continuing without narration")
		} else {
			narrate = narrator.New(chatModel)
			log.Info("narrator enabled")
		}
	} else {
		log.Info("narrator credentials not configured, commit-and-narrate with use_narrator will be unavailable")
	}

	server := httpapi.New(store, engine, rolls, locks, entropySrc, bus, narrate, cfg.Turn, cfg.Auth, log)

	startServer(ctx, log, cfg.Server, server.Router())
}

func newStore(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlstore.New(cfg.DatabaseURL)
	case config.BackendFile:
		return fsstore.New(cfg.DataRoot)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}

// ensureEntropyFloor extends the global entropy stream at boot so it is at
// least Entropy.InitialLen long. Extension beyond this floor during normal
// operation is the entropyextend operator tool's job, not the server's.
func ensureEntropyFloor(ctx context.Context, src *entropy.Source, cfg config.EntropyConfig) error {
	length, err := src.Length(ctx)
	if err != nil {
		return err
	}
	if length >= int64(cfg.InitialLen) {
		return nil
	}
	return src.Extend(ctx, cfg.Seed, cfg.InitialLen-int(length))
}

func startServer(ctx context.Context, log *logrus.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.WithField("addr", serverCfg.Addr).Info("turnkeeper listening")
	if err := runServer(ctx, srv); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
