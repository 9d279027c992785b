package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhouzirui/mood-coach/backend/internal/config"
	"github.com/zhouzirui/mood-coach/backend/internal/handler"
	"github.com/zhouzirui/mood-coach/backend/internal/metrics"
	"github.com/zhouzirui/mood-coach/backend/internal/service/ai"
	"github.com/zhouzirui/mood-coach/backend/internal/service/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}

	aiService, err := ai.NewService(ctx, cfg.Upstream, cfg.Generation)
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	if aiService.Configured() {
		log.Printf("AI service initialized, provider=%s", aiService.Provider())
	} else {
		log.Printf("AI service provider=%s has no credentials, chat requests will return configuration errors", aiService.Provider())
	}

	m := metrics.New()
	chatRelay := relay.New(store, aiService, m, relay.Options{
		Timeout:       cfg.Upstream.Timeout,
		StreamTimeout: cfg.Upstream.StreamTimeout,
		PollTTL:       cfg.Poll.BufferTTL,
	})

	janitor, err := relay.NewJanitor(chatRelay, cfg.Poll.SweepSchedule)
	if err != nil {
		log.Fatalf("failed to schedule poll janitor: %v", err)
	}
	janitor.Start()

	router := handler.NewRouter(handler.Deps{
		Server:  cfg.Server,
		Store:   store,
		Relay:   chatRelay,
		Metrics: m,
	})

	startServer(ctx, cfg.Server, router)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := janitor.Stop(shutdownCtx); err != nil {
		log.Printf("warning: janitor did not stop cleanly: %v", err)
	}
	if err := chatRelay.Wait(shutdownCtx); err != nil {
		log.Printf("warning: in-flight poll replies abandoned: %v", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Printf("warning: failed to flush conversation store: %v", err)
	}
}

// openStore 根据配置选择会话存储的持久化方式
func openStore(ctx context.Context, cfg config.StoreConfig) (*chat.MemoryStore, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		log.Println("conversation store: memory only")
		return chat.NewMemoryStore(ctx), nil
	case config.StoreFile:
		log.Printf("conversation store: JSON file %s", cfg.Path)
		return chat.NewMemoryStore(ctx, chat.WithPersister(chat.NewFilePersister(cfg.Path))), nil
	case config.StoreSQLite:
		persister, err := chat.OpenSQLitePersister(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Printf("conversation store: sqlite %s", cfg.Path)
		return chat.NewMemoryStore(ctx, chat.WithPersister(persister)), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Mood coach backend listening on %s (%s)", addr, serverCfg.Environment)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
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
