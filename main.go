package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/globaldothealth/linelist/internal/cases"
	"github.com/globaldothealth/linelist/internal/cases/handler"
	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/config"
	"github.com/globaldothealth/linelist/internal/database"
	"github.com/globaldothealth/linelist/internal/exports"
	"github.com/globaldothealth/linelist/internal/geocode"
	"github.com/globaldothealth/linelist/pkg/logger"
	"github.com/globaldothealth/linelist/pkg/metrics"
	"github.com/globaldothealth/linelist/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v geocoder=%v exports=%v",
		cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Geocoder.URL != "", cfg.Export.Endpoint != "")

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	r.Use(gin.Logger(), gin.Recovery())

	ctx := context.Background()

	// Connect to Redis early so the rate-limiter can use it when configured
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Rate limiter for the heavy export endpoints (per client IP)
	var exportLimiter gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			exportLimiter = middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win)
		} else {
			exportLimiter = middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}

	registry := caseschema.NewRegistry()

	// Case store: MongoDB when configured, in-memory otherwise (dev/test)
	var store cases.Store
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		// Retry/backoff when connecting to MongoDB to tolerate startup races
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Fatalf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
		}
		defer func() { _ = mongoClient.Disconnect(ctx) }()
		store = cases.NewMongoStore(mongoClient.Database(cfg.MongoDB.Database), registry)
		logger.Infof("using MongoDB store (database=%s)", cfg.MongoDB.Database)
	} else {
		store = cases.NewMemoryStore(registry)
		logger.Warnf("MONGODB_URI not set, using in-memory store; data will not survive restarts")
	}

	schemaSvc := cases.NewSchemaService(store, registry)
	if err := schemaSvc.Hydrate(ctx); err != nil {
		logger.Fatalf("failed to load custom case fields: %v", err)
	}
	logger.Infof("case schema hydrated: %d custom fields", len(registry.Fields()))

	var geocoder cases.Geocoder
	if cfg.Geocoder.URL != "" {
		geocoder = geocode.NewClient(cfg.Geocoder.URL)
		logger.Infof("geocoding via %s", cfg.Geocoder.URL)
	} else {
		logger.Warnf("LOCATION_SERVICE_URL not set, geocoding disabled")
	}

	ctl := cases.NewController(store, registry, geocoder)

	if cfg.Export.Endpoint != "" {
		uploader, err := exports.NewBucketUploader(exports.Config{
			Endpoint:  cfg.Export.Endpoint,
			AccessKey: cfg.Export.AccessKey,
			SecretKey: cfg.Export.SecretKey,
			Bucket:    cfg.Export.Bucket,
			UseSSL:    cfg.Export.UseSSL,
		})
		if err != nil {
			logger.Fatalf("failed to set up export bucket: %v", err)
		}
		ctl.UseUploader(uploader)
		logger.Infof("exports uploaded to bucket %q at %s", cfg.Export.Bucket, cfg.Export.Endpoint)
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when the backing store answers
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{"store": true, "redis": true}
		ready := true
		if mongoClient != nil {
			pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := mongoClient.Ping(pingCtx, nil); err != nil {
				deps["store"] = false
				ready = false
			}
		}
		if cfg.RateLimit.UseRedis && cfg.Redis.Host != "" && redisClient == nil {
			deps["redis"] = false
			ready = false
		}
		status := gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()}
		if !ready {
			status["status"] = "not_ready"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	handler.RegisterCaseRoutes(r, ctl, schemaSvc, exportLimiter)

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting line list service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
