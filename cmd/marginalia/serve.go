package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"marginalia/api/internal/annotation"
	"marginalia/api/internal/app"
	"marginalia/api/internal/config"
	"marginalia/api/internal/gitrepo"
	"marginalia/api/internal/kv"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	var checks []namedCheck
	db := openDatabase(ctx, cfg)
	if db != nil {
		defer db.Close()
		checks = append(checks, namedCheck{"database", db.PingContext})
	}

	var contents store.ContentStore = store.NewMemoryContentStore()
	var pgfts *search.PgFTS
	if db != nil {
		contents = store.NewPostgresContentStore(db)
		pgfts = search.NewPgFTS(db)
	}

	comments, closeComments, check, err := openCommentStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeComments()
	if check != nil {
		checks = append(checks, namedCheck{cfg.CommentStore, check})
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	defer searchService.Close()
	go searchService.ReindexAllFromPG(context.Background())

	service := app.New(cfg, contents, comments, gitrepo.New(cfg.ReposDir), searchService)
	for _, c := range checks {
		service.AddReadinessCheck(c.name, c.fn)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Marginalia API %s listening on %s (comments: %s)", version, cfg.Addr, cfg.CommentStore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	service.Shutdown(shutdownCtx)
	return nil
}

type namedCheck struct {
	name string
	fn   func(context.Context) error
}

// openDatabase connects to Postgres and migrates it. A failed connection is
// not fatal: content falls back to memory unless comments need the database.
func openDatabase(ctx context.Context, cfg config.Config) *sql.DB {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("WARNING: database unavailable, using in-memory content: %v", err)
		return nil
	}
	if skipMigrations {
		return db
	}
	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Printf("WARNING: migrations failed: %v", err)
	}
	return db
}

func openCommentStore(ctx context.Context, cfg config.Config, db *sql.DB) (annotation.KeyedStore, func(), func(context.Context) error, error) {
	noop := func() {}
	switch cfg.CommentStore {
	case config.StoreRedis:
		s, err := kv.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, noop, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return s, func() { _ = s.Close() }, s.Ping, nil
	case config.StorePostgres:
		if db == nil {
			return nil, noop, nil, errors.New("postgres comment store requires a reachable DATABASE_URL")
		}
		return kv.NewPostgresStore(db), noop, nil, nil
	case config.StoreSQLite:
		s, err := kv.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, noop, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil, nil
	case config.StoreMinio:
		s, err := kv.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			return nil, noop, nil, fmt.Errorf("minio connection failed: %w", err)
		}
		return s, noop, nil, nil
	}
	log.Printf("Using in-memory comment storage")
	return annotation.NewMemoryStore(), noop, nil, nil
}
