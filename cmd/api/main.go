package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/harentsoaR/clinic-api/internal/booking"
	"github.com/harentsoaR/clinic-api/internal/config"
	"github.com/harentsoaR/clinic-api/internal/events"
	"github.com/harentsoaR/clinic-api/internal/handlers"
	"github.com/harentsoaR/clinic-api/internal/mail"
	"github.com/harentsoaR/clinic-api/internal/metrics"
	"github.com/harentsoaR/clinic-api/internal/middleware"
	"github.com/harentsoaR/clinic-api/internal/services"
	"github.com/harentsoaR/clinic-api/internal/slots"
	"github.com/harentsoaR/clinic-api/internal/store"
	"github.com/harentsoaR/clinic-api/internal/utils"
	"github.com/harentsoaR/clinic-api/internal/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	// --- Database Connection ---
	client, err := store.Connect(ctx, cfg.MongoURI)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer client.Disconnect(context.Background())
	db := client.Database(cfg.MongoDatabase)
	if err := store.EnsureIndexes(ctx, db); err != nil {
		logger.Fatal("failed to create indexes", zap.Error(err))
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	// --- Initialize Services ---
	m := metrics.New(prometheus.DefaultRegisterer)
	mailer := mail.WithBreaker(newMailSender(cfg, logger), mail.DefaultBreakerConfig("mail-"+cfg.MailProvider), logger)

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	users := store.NewUserRepository(db)
	appointments := store.NewAppointmentRepository(db)

	catalog, err := slots.NewCatalog(slots.Config{
		BaseHour:     cfg.SlotBaseHour,
		DefaultCount: cfg.SlotDefaultCount,
		ClosingTime:  cfg.SlotClosingTime,
		Location:     cfg.Location(),
	})
	if err != nil {
		logger.Fatal("invalid slot configuration", zap.Error(err))
	}
	policy, err := booking.ParseLookupPolicy(cfg.BookingLookupPolicy)
	if err != nil {
		logger.Fatal("invalid booking configuration", zap.Error(err))
	}

	codes := verification.NewService(rdb, mailer, verification.Config{
		TTL:         cfg.VerificationCodeTTL,
		MaxAttempts: cfg.VerificationTries,
	}, logger.Named("verification"), m)

	wizard := booking.NewWizard(booking.Options{
		Catalog:   catalog,
		Booked:    appointments,
		Codes:     codes,
		Submitter: appointments,
		Policy:    policy,
		Logger:    logger.Named("booking"),
		Metrics:   m,
	})
	bookingSvc := booking.NewService(wizard, store.NewRedisSessions(rdb, cfg.BookingSessionTTL, logger), users, logger.Named("booking"))

	tokens, err := utils.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Fatal("invalid JWT configuration", zap.Error(err))
	}
	notificationSvc := services.NewNotificationService(mailer, logger.Named("notifications"))
	defer notificationSvc.Wait()

	// --- Initialize Handlers with DB and Services ---
	h := handlers.NewHandler(handlers.Dependencies{
		Users:        users,
		Appointments: appointments,
		Contact:      store.NewContactRepository(db),
		Codes:        codes,
		Booking:      bookingSvc,
		Catalog:      catalog,
		Tokens:       tokens,
		Notifier:     notificationSvc,
		Events:       publisher,
		Metrics:      m,
		Logger:       logger,
		ClinicEmail:  cfg.ClinicEmail,
	})

	// --- Gin Router ---
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger), m.GinMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Routes(r, middleware.AuthMiddleware(tokens))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

func newMailSender(cfg *config.Config, logger *zap.Logger) mail.Sender {
	switch cfg.MailProvider {
	case "smtp":
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
		}, logger.Named("smtp"))
	case "sendgrid":
		return mail.NewSendGridSender(mail.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.MailFrom,
			FromName:  cfg.MailFromName,
		}, logger.Named("sendgrid"))
	}
	logger.Warn("using stub mail sender; emails are logged, not delivered")
	return mail.NewStubSender(logger.Named("mail"))
}

func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("no Kafka brokers configured; appointment events are disabled")
		return events.NopPublisher{}
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to create event publisher", zap.Error(err))
	}
	return p
}
