package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"barcamp/api/internal/app"
	"barcamp/api/internal/auth"
	"barcamp/api/internal/config"
	"barcamp/api/internal/drafts"
	"barcamp/api/internal/grid"
	"barcamp/api/internal/matrix"
	"barcamp/api/internal/notify"
	"barcamp/api/internal/reconcile"
	"barcamp/api/internal/search"
	"barcamp/api/internal/store"
	"barcamp/api/internal/submission"
	"barcamp/api/internal/topic"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "barcamp-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("barcamp-api", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.Backend, "backend", cfg.Backend, "replicated state backend (memory, redis, postgres, matrix)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	flags.StringVar(&cfg.GridTemplatePath, "template", cfg.GridTemplatePath, "grid template file (.yaml, .json or .jsonc)")
	flags.StringVar(&cfg.DraftsPath, "drafts", cfg.DraftsPath, "SQLite file for personal drafts")
	flags.BoolVar(&cfg.AutoSetup, "auto-setup", cfg.AutoSetup, "set the grid up from the template when none exists")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	draftStore, closeDrafts, err := openDrafts(cfg)
	if err != nil {
		return err
	}
	defer closeDrafts()

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, backend.search, logger)

	policy, err := grid.ParseCollisionPolicy(cfg.CollisionPolicy)
	if err != nil {
		return err
	}
	template := grid.DefaultTemplate()
	if cfg.GridTemplatePath != "" {
		if template, err = grid.LoadTemplate(cfg.GridTemplatePath); err != nil {
			return err
		}
	}

	notifier := notify.New(logger)
	queue := submission.New(submission.WithLog(backend.log))

	var topics *topic.Store
	reducer := grid.NewStore(
		grid.WithCollisionPolicy(policy),
		grid.WithPins(grid.PinFunc(func(id string) bool { return topics.IsPinned(id) })),
	)
	layer := reconcile.New(backend.replica, reducer, reconcile.Options{
		Key:        cfg.GridKey,
		MaxReplays: cfg.MaxReplays,
		Logger:     logger,
		Notifier:   notifier,
	})
	topics = topic.NewStore(topic.Options{
		Drafts:  draftStore,
		Replica: backend.replica,
		Queue:   queue,
		Grid:    layer,
		Indexer: searchService,
		Logger:  logger,
	})

	service := app.New(app.Deps{
		Replica:  backend.replica,
		Reducer:  reducer,
		Grid:     layer,
		Topics:   topics,
		Queue:    queue,
		Notifier: notifier,
		Search:   searchService,
		Template: template,
		Logger:   logger,
	})
	if err := service.Bootstrap(ctx, cfg.AutoSetup); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := service.Start(ctx); err != nil {
		return err
	}
	if backend.chat != nil && cfg.ChatCommands {
		if err := service.ServeChat(ctx, backend.chat); err != nil {
			return fmt.Errorf("chat commands: %w", err)
		}
		logger.Info("watching room for chat commands", "room", cfg.MatrixRoomID)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	if cfg.SessionSecret != "" {
		roomID := cfg.RoomID
		if cfg.MatrixRoomID != "" {
			roomID = cfg.MatrixRoomID
		}
		httpServer.RequireTokens(auth.NewVerifier(cfg.SessionSecret, roomID))
	} else {
		logger.Warn("BARCAMP_SESSION_SECRET not set; trusting X-User-ID and X-User-Role headers")
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("barcamp API listening", "addr", cfg.Addr, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// backend bundles what a replicated state backend provides.
type backend struct {
	replica store.Replica
	log     submission.Log
	search  search.Searcher
	chat    app.ChatSource
	closers []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("close backend", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendRedis:
		replica, err := store.NewRedisReplica(cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return &backend{
			replica: replica,
			log:     store.NewRedisSubmissionLog(replica.Client(), cfg.RoomID),
			closers: []func() error{replica.Close},
		}, nil

	case config.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		replica := store.NewPostgresReplica(db, cfg.DatabaseURL, logger)
		return &backend{
			replica: replica,
			log:     store.NewReplicaSubmissionLog(replica),
			search:  search.NewPgFTS(db),
			closers: []func() error{db.Close},
		}, nil

	case config.BackendMatrix:
		client, err := matrix.NewClient(matrix.Config{
			HomeserverURL: cfg.MatrixHomeserverURL,
			AccessToken:   cfg.MatrixAccessToken,
			RoomID:        cfg.MatrixRoomID,
			Logger:        logger,
			SyncTimeout:   cfg.MatrixSyncTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("matrix homeserver unreachable: %w", err)
		}
		replica := matrix.NewReplica(client)
		return &backend{
			replica: replica,
			log:     store.NewReplicaSubmissionLog(replica),
			chat:    client,
		}, nil

	default:
		logger.Warn("using in-memory replicated state; nothing survives a restart")
		replica := store.NewMemoryReplica()
		return &backend{replica: replica, log: store.NewReplicaSubmissionLog(replica)}, nil
	}
}

func openDrafts(cfg config.Config) (topic.DraftStore, func(), error) {
	if strings.TrimSpace(cfg.DraftsPath) == "" {
		return drafts.NewMemory(), func() {}, nil
	}
	roomID := cfg.RoomID
	if cfg.MatrixRoomID != "" {
		roomID = cfg.MatrixRoomID
	}
	db, err := drafts.OpenSQLite(cfg.DraftsPath, roomID)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}
