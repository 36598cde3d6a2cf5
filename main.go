package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/yourusername/publicsite/db"
	"github.com/yourusername/publicsite/handlers"
	"github.com/yourusername/publicsite/middleware"
	"github.com/yourusername/publicsite/models"
	"github.com/yourusername/publicsite/services"
	"golang.org/x/time/rate"
)

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func buildAuthorizer(policy services.SecurityPolicy) services.Authorizer {
	var chain services.ChainAuthorizer
	if policy.APITokenBcrypt != "" {
		a, err := services.NewBcryptTokenAuthorizer(policy.APITokenBcrypt)
		if err != nil {
			log.Fatalf("Invalid API_AUTH_TOKEN_BCRYPT: %v", err)
		}
		chain = append(chain, a)
	}
	if policy.JWTSecret != "" {
		var opts []services.JWTOption
		if policy.JWTIssuer != "" {
			opts = append(opts, services.WithIssuer(policy.JWTIssuer))
		}
		a, err := services.NewJWTAuthorizer(policy.JWTSecret, opts...)
		if err != nil {
			log.Fatalf("Invalid JWT_SECRET: %v", err)
		}
		chain = append(chain, a)
	}
	if policy.APIToken != "" || len(chain) == 0 {
		static := services.NewStaticTokenAuthorizer(policy.APIToken)
		if !static.Strict() {
			log.Printf("WARNING: no API token configured, any bearer token is accepted")
		}
		chain = append(chain, static)
	}
	if len(chain) == 1 {
		return chain[0]
	}
	return chain
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	config, err := services.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Security event pipeline: logrus for operators, a ring buffer for the
	// admin API, S3 for retention when configured.
	recent := services.NewMemorySink(config.Logging.RecentEvents)
	logrusSink := services.NewLogrusSink(os.Stderr, config.Logging.Production)
	if config.Logging.RateLimitEventsPerSecond > 0 {
		logrusSink = logrusSink.WithSampling(rate.Limit(config.Logging.RateLimitEventsPerSecond), config.Logging.RateLimitEventBurst)
	}
	sinks := services.MultiSink{logrusSink, recent}

	var s3Sink *services.S3Sink
	if config.Logging.S3.Enabled() {
		s3Sink, err = services.NewS3Sink(config.Logging.S3)
		if err != nil {
			log.Fatalf("Failed to configure S3 event sink: %v", err)
		}
		sinks = append(sinks, s3Sink)
		log.Printf("Shipping security events to s3://%s", config.Logging.S3.Bucket)
	}
	securityLogger := services.NewSecurityLogger(sinks)

	limiter := services.NewRateLimiter(config.RateLimiter)

	security, err := middleware.NewSecurity(middleware.SecurityConfig{
		Limiter:        limiter,
		Logger:         securityLogger,
		Authorizer:     buildAuthorizer(config.Security),
		TrustedProxies: config.Security.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("Invalid trusted proxies: %v", err)
	}
	adminAllow, err := middleware.NewAllowList(config.Security.AdminAllowList)
	if err != nil {
		log.Fatalf("Invalid admin allow-list: %v", err)
	}

	guard := services.NewOutboundGuard(services.OutboundGuardConfig{
		ResolveHosts: config.Security.ResolveOutboundHosts,
	}, securityLogger)

	if err := db.Connect(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	contactRepo := models.NewContactRepository(db.DB)

	contactHandler := handlers.NewContactHandler(contactRepo, securityLogger)
	cmsHandler := handlers.NewCMSHandler(guard, config.CMS)
	adminHandler := handlers.NewAdminHandler(recent, limiter, config.RateLimits)

	app := fiber.New(fiber.Config{
		BodyLimit:    config.Server.BodyLimit,
		ErrorHandler: customErrorHandler,
	})

	app.Use(logger.New())
	app.Use(compress.New())
	app.Use(cors.New())
	app.Use(services.NewSecurityHeaders(nil).Middleware())

	api := app.Group("/api")

	api.Get("/health", security.RateLimit(config.RateLimits.Lenient), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	api.Post("/contact", security.RateLimit(config.RateLimits.Strict), middleware.DBPing(), contactHandler.Submit)
	api.Get("/articles", security.RateLimit(config.RateLimits.Lenient), cmsHandler.Articles)

	// Admin
	admin := api.Group("/admin", security.Guard(middleware.GuardOptions{
		RateLimit:   config.RateLimits.Standard,
		KeyByRoute:  true,
		AllowList:   adminAllow,
		RequireAuth: true,
	}))
	admin.Get("/security-events", adminHandler.SecurityEvents)
	admin.Get("/rate-limits", adminHandler.RateLimitStatus)
	admin.Delete("/rate-limits", adminHandler.ClearRateLimit)
	admin.Get("/rate-limits/stats", adminHandler.RateLimitStats)

	app.Use(func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api") {
			return fiber.ErrNotFound
		}
		return c.SendStatus(fiber.StatusNotFound)
	})

	go func() {
		log.Printf("Server starting on %s", config.Server.Addr)
		if err := app.Listen(config.Server.Addr); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	limiter.Stop()
	if s3Sink != nil {
		if err := s3Sink.Close(); err != nil {
			log.Printf("Failed to flush security events: %v", err)
		}
	}
}
