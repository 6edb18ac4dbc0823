package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"legalease/internal/api"
	"legalease/internal/auth"
	"legalease/internal/chat"
	"legalease/internal/config"
	"legalease/internal/live"
	"legalease/internal/logging"
	"legalease/internal/redis"
	"legalease/internal/remote"
	"legalease/internal/storage"
	"legalease/internal/upload"
	"legalease/internal/voice"
	"legalease/internal/web"
	"legalease/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logging.L()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("LEGALEASE_CONFIG"))
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	dbType := os.Getenv("LEGALEASE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	// Create necessary tables: chat_sessions, messages, documents
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			logger.Fatal("create redis client", zap.Error(err))
		}
		defer rdb.Close()
	}

	client, err := remote.NewClient(cfg.Remote.AuthBase, cfg.RequestTimeout())
	if err != nil {
		logger.Fatal("create remote client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: cfg.WorkerIdleTimeout(),
	})

	chats := chat.NewManager(chat.NewStore(db), client, rdb)
	hub := live.NewHub(rdb, chats)
	chats.OnChange(hub.Publish)

	documents := upload.NewService(db, client, dispatcher, cfg.BasicConfig.FileBaseDir, cfg.TempFileTTL())
	documents.OnSettled(hub.DocumentsChanged)

	var recognizer voice.Recognizer
	if cfg.Speech.Enabled {
		google, err := voice.NewGoogleRecognizer(ctx, cfg.Speech.LanguageCode, cfg.Speech.CredentialsFile)
		if err != nil {
			logger.Fatal("create speech recognizer", zap.Error(err))
		}
		defer google.Close()
		recognizer = google
	}

	authService := auth.NewService(cfg.BasicConfig.SessionSecret, rdb, cfg.SessionTTL())
	authService.SetSecureCookies(gin.Mode() == gin.ReleaseMode)
	handlers := api.NewHandler(authService, client, chats, documents, voice.NewInput(recognizer), dispatcher, hub)

	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware())
	router.SetHTMLTemplate(web.Templates())
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("portal listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return chats.Start(gctx)
	})
	g.Go(func() error {
		documents.RunCleaner(gctx, cfg.CleanInterval())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		dispatcher.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
