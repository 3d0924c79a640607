package main // Entry point package

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/mstodo-proxy/internal/auth"
    "github.com/iliyamo/mstodo-proxy/internal/config"
    "github.com/iliyamo/mstodo-proxy/internal/database"
    "github.com/iliyamo/mstodo-proxy/internal/graph"
    "github.com/iliyamo/mstodo-proxy/internal/handler"
    "github.com/iliyamo/mstodo-proxy/internal/logging"
    "github.com/iliyamo/mstodo-proxy/internal/middleware"
    "github.com/iliyamo/mstodo-proxy/internal/msidentity"
    "github.com/iliyamo/mstodo-proxy/internal/queue"
    "github.com/iliyamo/mstodo-proxy/internal/repository"
    "github.com/iliyamo/mstodo-proxy/internal/router"
    "github.com/iliyamo/mstodo-proxy/internal/service"
    "github.com/iliyamo/mstodo-proxy/internal/session"
)

func main() {
    // .env is optional; real environment variables win
    _ = godotenv.Load()

    cfg, err := config.Load()
    if err != nil {
        log.Fatal(err)
    }
    logging.Init(cfg.Env, cfg.LogLevel)

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    if err != nil {
        log.WithError(err).Fatal("database open failed")
    }
    defer db.Close()
    if err := database.Migrate(ctx, db); err != nil {
        log.WithError(err).Fatal("schema migration failed")
    }

    identities := repository.NewIdentityRepo(db)
    reconciler := auth.NewReconciler(identities, auth.NewBcryptHasher(cfg.BcryptCost), auth.Options{
        MinPasswordLength:      cfg.MinPasswordLength,
        AllowImplicitEmailLink: cfg.AllowImplicitEmailLink,
    })
    issuer, err := session.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
    if err != nil {
        log.WithError(err).Fatal("session issuer")
    }

    graphClient := graph.NewClient(cfg.GraphBaseURL, 15*time.Second)
    verifier := msidentity.NewWithIDTokenVerifier(graphClient, nil)
    if cfg.IDTokenLoginEnabled() {
        v, err := msidentity.New(ctx, graphClient, cfg.MSTenantID, cfg.MSClientID)
        if err != nil {
            // access-token sign-in still works without id_token discovery
            log.WithError(err).Warn("microsoft id_token sign-in disabled")
        } else {
            verifier = v
        }
    } else {
        log.Info("MS_TENANT_ID/MS_CLIENT_ID not set, id_token sign-in disabled")
    }

    var events service.EventPublisher
    if cfg.QueueEnabled {
        events = service.NewAMQPPublisher(cfg.RabbitMQURL)
        go func() {
            if err := queue.StartActivityConsumer(ctx, cfg.RabbitMQURL, cfg.ActivityLogDir); err != nil && !errors.Is(err, context.Canceled) {
                log.WithError(err).Error("activity consumer stopped")
            }
        }()
    }
    recorder := service.NewRecorder(repository.NewActivityRepo(db), events)

    rdb := config.NewRedisClient()
    if rdb != nil {
        defer rdb.Close()
    }

    e := echo.New()
    e.HideBanner = true
    router.RegisterBase(e, cfg.CORSOrigin)
    deps := router.Deps{
        Auth:      handler.NewAuthHandler(reconciler, issuer, verifier, identities),
        Todo:      handler.NewTodoHandler(graphClient, recorder),
        Activity:  handler.NewActivityHandler(recorder),
        Sessions:  issuer,
        RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
        Cache:     middleware.NewTodoCache(config.LoadCacheConfig(), rdb),
    }
    router.RegisterAuth(e, deps)
    router.RegisterTodo(e, deps)

    go func() {
        addr := ":" + cfg.Port
        log.WithFields(log.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
        if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.WithError(err).Fatal("server failed")
        }
    }()

    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := e.Shutdown(shutdownCtx); err != nil {
        log.WithError(err).Error("shutdown")
    }
}
