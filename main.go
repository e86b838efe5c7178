package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"quote-wizard/pkg/api"
	"quote-wizard/pkg/clients/geocoding"
	"quote-wizard/pkg/clients/recaptcha"
	"quote-wizard/pkg/clients/smartmoving"
	"quote-wizard/pkg/clients/twilio"
	"quote-wizard/pkg/config"
	"quote-wizard/pkg/events"
	"quote-wizard/pkg/location"
	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/metrics"
	"quote-wizard/pkg/middleware"
	"quote-wizard/pkg/quote"
	"quote-wizard/pkg/services"
	"quote-wizard/pkg/wizard"
)

const (
	smsBurst           = 3
	sessionSweepPeriod = 5 * time.Minute
)

func main() {
	envErr := godotenv.Load()

	// Initialize configuration
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	if envErr != nil {
		logger.Info("no .env file loaded", "error", envErr)
	}

	// Session persistence
	var persister quote.Persister = quote.NewMemoryPersister()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		persister = quote.NewRedisPersister(rdb, cfg.SessionTTL)
		logger.Info("persisting quote sessions in redis", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL.String())
	}

	// Initialize API clients
	var geocoder location.Geocoder
	if cfg.GoogleMapsAPIKey != "" {
		client, err := geocoding.NewClient(cfg.GoogleMapsAPIKey)
		if err != nil {
			logger.Error("error creating geocoding client", "error", err)
		} else {
			geocoder = client
		}
	} else {
		logger.Warn("GOOGLE_MAPS_API_KEY not set, location validation unavailable")
	}
	locations := location.NewValidator(geocoder, logger)

	var captcha recaptcha.Client
	if cfg.RecaptchaSecret != "" {
		captcha = recaptcha.NewClient(cfg.RecaptchaSecret, "")
	}

	twilioClient := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioVerifyServiceSID, logger)
	smartMovingClient := smartmoving.NewClient(cfg.SmartMovingProviderKey, cfg.SmartMovingBaseURL, nil, logger)

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.KafkaBroker != "" {
		publisher = events.NewKafkaProducer(cfg.KafkaBroker, cfg.KafkaActivityTopic, logger)
	}
	defer publisher.Close()

	wizardMetrics := metrics.NewWizardMetrics(prometheus.DefaultRegisterer)

	// Initialize services
	verificationService := services.NewVerificationService(twilioClient, captcha, logger)
	submissionService := services.NewLeadSubmissionService(smartMovingClient, publisher, wizardMetrics, logger)

	wizards := wizard.NewManager(quote.NewManager(persister, logger), wizard.Dependencies{
		Verifier:  verificationService,
		Submitter: submissionService,
		Locations: locations,
		Publisher: publisher,
		Metrics:   wizardMetrics,
		Logger:    logger,
	})

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	wizards.StartSweeper(sweepCtx, sessionSweepPeriod, cfg.SessionTTL)

	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Register routes
	handlers := api.NewHandlers(wizards, verificationService, locations, logger)
	handlers.Register(router, middleware.NewRateLimiter(cfg.SMSRatePerMinute, smsBurst))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("error starting server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exiting")
}
