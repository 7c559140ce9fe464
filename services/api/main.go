package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolinbox/internal/config"
	"github.com/schoolinbox/internal/handler"
	"github.com/schoolinbox/internal/identity"
	"github.com/schoolinbox/internal/inbox"
	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/middleware"
	"github.com/schoolinbox/internal/push"
	"github.com/schoolinbox/internal/repository"
	"github.com/schoolinbox/internal/startup"
	"github.com/schoolinbox/internal/storage"
	"github.com/schoolinbox/internal/storage/memory"
	redisstorage "github.com/schoolinbox/internal/storage/redis"
	"github.com/schoolinbox/internal/stream"
	"github.com/schoolinbox/internal/ws"
	"github.com/schoolinbox/migrations"
)

// enginePresence mounts an inbox engine when a user's first dashboard socket
// connects and releases it when the last one disconnects.
type enginePresence struct {
	manager *inbox.Manager
}

func (p *enginePresence) UserConnected(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := p.manager.Engine(ctx, userID); err != nil {
		logger.Errorf("mount inbox user=%s: %v", userID, err)
	}
}

func (p *enginePresence) UserDisconnected(userID string) {
	p.manager.Release(userID)
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory stores (no external services required)")
	flag.Parse()

	logger.Info("starting inbox API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	convRepo := repository.NewConversationRepository(pool)
	entryRepo := repository.NewEntryRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	resolver := identity.NewResolver(profileRepo, profileRepo)

	// In -dev without a REDIS_URL the service runs Redis-free: session secrets
	// in memory, no live notification feed, no webpush.
	var (
		secretStore storage.SessionSecretStore
		feedOpener  inbox.FeedOpener
		pushSender  *push.Sender
	)
	if *dev && cfg.Redis.URL == "" {
		secretStore = memory.New()
		logger.Info("dev mode: in-memory session store, index-only unread counts")
	} else {
		if cfg.Redis.URL == "" {
			cfg.Redis.URL = "redis://localhost:6379"
		}
		rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer rdb.Close()
		secretStore = redisstorage.New(rdb)
		feedOpener = stream.NewOpener(rdb)

		vapid, err := push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("vapid keys: %v (webpush disabled)", err)
		} else {
			cfg.PushVAPIDPublicKey = vapid.PublicKey
			pushSender = push.NewSender(rdb, vapid)
		}
	}
	defer secretStore.Close()

	manager := inbox.NewManager(convRepo, entryRepo, resolver, feedOpener, inbox.Options{
		PageIncrement: cfg.Inbox.PageIncrement,
		BatchSize:     cfg.Inbox.EnrichBatchSize,
		BatchWorkers:  cfg.Inbox.EnrichWorkers,
	})
	defer manager.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(cfg.MaxWSConnections, &enginePresence{manager: manager})

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	manager.SetBadgeFunc(func(b inbox.BadgeUpdate) {
		hub.SendToUser(b.UserID, ws.OutgoingMessage{
			Type: ws.EventBadgeUpdated,
			Payload: ws.BadgePayload{
				ConversationID: b.ConversationID,
				IsUnread:       b.IsUnread,
				UnreadCount:    b.UnreadCount,
			},
		})
		if pushSender != nil && b.IsUnread && !hub.HasClients(b.UserID) {
			go pushSender.Notify(context.Background(), b.UserID, "New message",
				"You have unread messages", map[string]string{"conversation_id": b.ConversationID})
		}
	})

	inboxH := handler.NewInboxHandler(manager, profileRepo)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins, cfg.WSSendBufferSize)
	var pushH *handler.PushHandler
	if pushSender != nil {
		pushH = handler.NewPushHandler(pushSender, cfg.PushVAPIDPublicKey)
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Never compress the WebSocket upgrade, otherwise the ResponseWriter loses
	// http.Hijacker and the upgrade answers 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessionRepo, secretStore))
		r.Get("/api/inbox", inboxH.GetInbox)
		r.Get("/api/inbox/counts", inboxH.GetCounts)
		r.Post("/api/inbox/{category}/more", inboxH.LoadMore)
		r.Post("/api/inbox/draft", inboxH.ComposeDraft)
		r.Post("/api/inbox/select/{conversationId}", inboxH.SelectConversation)
		r.Get("/api/staff", inboxH.ListStaff)
		if pushH != nil {
			r.Get("/api/push/key", pushH.VAPIDPublicKey)
			r.Post("/api/push/subscribe", pushH.Subscribe)
			r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		} else {
			pushGone := func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"push not configured"}`))
			}
			r.Get("/api/push/key", pushGone)
			r.Post("/api/push/subscribe", pushGone)
			r.Delete("/api/push/subscribe", pushGone)
		}
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "schoolinbox"
		password = "schoolinbox_secret"
		database = "schoolinbox"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
