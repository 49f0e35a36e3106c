package main

import (
	// standard library
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// third-party
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	// internal
	"github.com/rmitchellscott/tankobon/internal/auth"
	"github.com/rmitchellscott/tankobon/internal/config"
	"github.com/rmitchellscott/tankobon/internal/database"
	"github.com/rmitchellscott/tankobon/internal/handlers"
	"github.com/rmitchellscott/tankobon/internal/ingest"
	"github.com/rmitchellscott/tankobon/internal/jobs"
	"github.com/rmitchellscott/tankobon/internal/logging"
	"github.com/rmitchellscott/tankobon/internal/storage"
	"github.com/rmitchellscott/tankobon/internal/version"
)

func main() {
	// Load .env if present
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.String())
		return
	}

	logging.SetDebug(config.GetBool("DEBUG", false))
	logging.Logf("[STARTUP] %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("tankobon: %v", err)
	}
}

func run(ctx context.Context) error {
	port := config.Get("PORT", "8000")
	addr := ":" + port

	opts := ingest.OptionsFromEnv()
	info := handlers.ConfigInfo{
		Streaming:     config.GetBool("INGEST_STREAMING", true),
		MirrorBackend: storage.ConfigFromEnv().Backend,
	}

	var repo *database.ChapterRepo
	if config.GetBool("REGISTRY_ENABLED", true) {
		if err := database.Initialize(); err != nil {
			return err
		}
		defer database.Close()
		repo = database.NewChapterRepo(database.DB)
		opts.Registry = repo
		info.RegistryEnabled = true
	}

	mirror, err := storage.NewMirrorFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize mirror: %w", err)
	}
	if mirror != nil {
		opts.Mirror = mirror
		logging.Logf("[STARTUP] Mirroring published chapters to %s backend", info.MirrorBackend)
	}

	svc, err := ingest.NewService(opts)
	if err != nil {
		return err
	}
	opts = svc.Options()
	logging.Logf("[STARTUP] Library root: %s (served at %s)", opts.LibraryRoot, opts.WebPrefix)

	store := jobs.NewStore()
	store.StartJanitor(ctx, time.Minute, 30*time.Minute)

	authCfg := auth.ConfigFromEnv()
	authenticator := auth.New(authCfg)
	info.AuthEnabled = authenticator.Enabled()
	info.APIKeyEnabled = authCfg.APIKey != ""

	if mode, ok := os.LookupEnv("GIN_MODE"); ok {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = 32 << 20

	// Auth endpoints (always available)
	router.POST("/api/auth/login", authenticator.LoginHandler)
	router.POST("/api/auth/logout", authenticator.LogoutHandler)
	router.GET("/api/auth/check", authenticator.CheckHandler)
	router.GET("/api/config", handlers.ConfigHandler(opts, info))

	chapters := &handlers.ChapterHandler{Service: svc, Jobs: store, Streaming: info.Streaming}
	if repo != nil {
		chapters.Repo = repo
	}
	uploadLimiter := auth.NewRateLimiter(config.GetInt("UPLOAD_RATE_PER_MIN", 30), 5)
	protected := router.Group("")
	protected.Use(authenticator.Middleware())
	chapters.RegisterRoutes(protected, uploadLimiter.Middleware())

	handlers.RegisterLibrary(router, opts.WebPrefix, opts.LibraryRoot)

	srv := newHTTPServer(addr, router, time.Duration(config.GetInt("REQUEST_TIMEOUT_MIN", 30))*time.Minute)
	errCh := make(chan error, 1)
	go func() {
		logging.Logf("[STARTUP] Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Logf("[STARTUP] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHTTPServer bounds every request by timeout. Progress streams lift their
// own deadlines once they take over the connection.
func newHTTPServer(addr string, handler http.Handler, timeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       2 * time.Minute,
	}
}
