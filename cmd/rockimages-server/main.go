package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rockimages/rockimages/pkg/rockimages/apikeys"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/config"
	"github.com/rockimages/rockimages/pkg/rockimages/database"
	"github.com/rockimages/rockimages/pkg/rockimages/files"
	"github.com/rockimages/rockimages/pkg/rockimages/groups"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
	"github.com/rockimages/rockimages/pkg/rockimages/logging"
	"github.com/rockimages/rockimages/pkg/rockimages/media"
	"github.com/rockimages/rockimages/pkg/rockimages/metrics"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"github.com/rockimages/rockimages/pkg/rockimages/organizations"
	"github.com/rockimages/rockimages/pkg/rockimages/search"
	"github.com/rockimages/rockimages/pkg/rockimages/storage"
	"github.com/rockimages/rockimages/pkg/rockimages/transcode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// @title RockImages API
// @version 1.0
// @description Multi-tenant media catalog with tags, search and role-based access.

// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token or API key. Format: "Bearer {token}"

func main() {
	configFile := flag.String("config", "", "path to a config file (default: rockimages.yaml in . or /etc/rockimages)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	db, err := database.Open(database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Metrics:         cfg.Database.Metrics,
		Logger:          logging.NewGormLogger(logger),
	})
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return err
	}
	logger.Info("database migrations completed", zap.String("driver", cfg.Database.Driver))

	disk, err := storage.NewDisk(cfg.Storage.Root)
	if err != nil {
		return err
	}
	if err := transcode.EnsurePlaceholders(disk); err != nil {
		return err
	}

	deleteMode, err := files.ParseDeleteMode(cfg.Catalog.DeleteMode)
	if err != nil {
		return err
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("auth.jwt_secret is not set; using an ephemeral secret, tokens will not survive a restart")
	}
	tokens := auth.NewTokenManager(secret, cfg.Auth.TokenTTL)

	previewer := transcode.NewImagePreviewer(disk, cfg.Preview.MaxWidth, cfg.Preview.JPEGQuality, cfg.Preview.MaxPixels)
	dispatcher := transcode.NewDispatcher(previewer, cfg.Preview.Workers, cfg.Preview.QueueSize, logger)
	catalog := files.NewService(db, disk, dispatcher, files.Options{DeleteMode: deleteMode, Logger: logger})

	limiter := httpapi.NewRateLimiter(cfg.Auth.RatePerSecond, cfg.Auth.RateBurst)

	gin.SetMode(gin.ReleaseMode)
	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	}
	r := newRouter(routerDeps{
		DB:      db,
		Tokens:  tokens,
		Catalog: catalog,
		Limiter: limiter,
		Logger:  logger,
		Server:  cfg.Server,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Start(ctx, catalog)
	})
	g.Go(func() error {
		janitor(ctx, logger, catalog, limiter, deleteMode, cfg.Catalog)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting RockImages server", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// janitor purges soft-deleted files and forgets idle rate limiter buckets.
func janitor(ctx context.Context, logger *zap.Logger, catalog *files.Service, limiter *httpapi.RateLimiter, mode files.DeleteMode, cfg config.CatalogConfig) {
	interval := cfg.PurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Sweep(now)
			if mode != files.DeleteSoft {
				continue
			}
			if _, err := catalog.Purge(ctx, cfg.PurgeAfter); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("purge deleted files", zap.Error(err))
			}
		}
	}
}

type routerDeps struct {
	DB      *gorm.DB
	Tokens  *auth.TokenManager
	Catalog *files.Service
	Limiter *httpapi.RateLimiter
	Logger  *zap.Logger
	Server  config.ServerConfig
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.Use(gin.Recovery(), logging.GinMiddleware(d.Logger), metrics.GinMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if limit := d.Server.MaxUploadBytes(); limit > 0 {
		r.Use(func(c *gin.Context) {
			if c.Request.Body != nil {
				c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
			}
			c.Next()
		})
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	optionalAuth := apikeys.CombinedAuthMiddleware(d.DB, d.Tokens, false)

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "rockimages",
			})
		})

		// Auth routes (public, rate limited)
		auth.NewHandler(d.DB, d.Tokens).RegisterRoutes(api.Group("/auth"), d.Limiter.Middleware())

		// API keys are managed with a session token
		apikeys.NewHandler(d.DB).RegisterRoutes(api.Group("", auth.AuthMiddleware(d.Tokens)))

		// Catalog routes accept JWTs, API keys or no credentials at all;
		// the services decide what anonymous callers may see.
		catalogAPI := api.Group("", optionalAuth)
		organizations.NewHandler(organizations.NewService(d.DB)).RegisterRoutes(catalogAPI)
		groups.NewHandler(groups.NewService(d.DB)).RegisterRoutes(catalogAPI)
		search.NewHandler(search.NewService(d.DB)).RegisterRoutes(catalogAPI)
		files.NewHandler(d.Catalog).RegisterRoutes(catalogAPI)
	}

	media.NewHandler(d.Catalog).RegisterRoutes(r.Group("", optionalAuth))

	return r
}
