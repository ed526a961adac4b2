package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/config"
	"github.com/iliyamo/smartmess-leaves/internal/database"
	"github.com/iliyamo/smartmess-leaves/internal/handler"
	"github.com/iliyamo/smartmess-leaves/internal/middleware"
	"github.com/iliyamo/smartmess-leaves/internal/queue"
	"github.com/iliyamo/smartmess-leaves/internal/repository"
	"github.com/iliyamo/smartmess-leaves/internal/router"
	"github.com/iliyamo/smartmess-leaves/internal/service"
)

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if strings.EqualFold(format, "json") {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}).
		With().Timestamp().Logger()
}

// requestLogger feeds echo's access log into zerolog.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	log := newLogger(cfg.LogLevel, cfg.LogFormat).With().Str("env", cfg.Env).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		log.Info().Msg("schema migrated")
	}

	// Redis backs the rate limiter and the response cache.  Both degrade
	// to pass-through when it is unreachable.
	var rdb *redis.Client
	if c, err := config.NewRedisClient(config.LoadRedisConfig()); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, rate limiting and response cache disabled")
	} else {
		rdb = c
		defer rdb.Close()
	}

	// ---- Repositories ----
	messRepo := repository.NewMessRepo(db)
	userRepo := repository.NewUserRepo(db)
	adjRepo := repository.NewBillingAdjustmentRepo(db)
	reminderRepo := repository.NewReminderRepo(db)
	leaveRepo := repository.NewLeaveRepo(db, adjRepo, reminderRepo)
	actionRepo := repository.NewUserActionRepo(db)
	notificationRepo := repository.NewNotificationRepo(db)

	// ---- Notifications ----
	var notifier service.Notifier = queue.LogNotifier{Log: log}
	var wg sync.WaitGroup
	if cfg.Queue.URL != "" {
		pub := queue.NewPublisher(cfg.Queue.URL, cfg.Queue.Name, log)
		defer pub.Close()
		notifier = pub

		var mailer queue.Mailer
		if cfg.SMTP.Enabled() {
			mailer = queue.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
		}
		consumer := queue.NewConsumer(queue.ConsumerConfig{
			URL:      cfg.Queue.URL,
			Queue:    cfg.Queue.Name,
			Prefetch: cfg.Queue.Prefetch,
			LogPath:  cfg.Queue.NotificationLogPath,
		}, notificationRepo, mailer, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("notification consumer stopped")
			}
		}()
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, notifications are only logged")
	}
	dispatcher := service.NewDispatcher(notifier, service.DispatcherConfig{
		Concurrency: cfg.NotifyConcurrency,
		RatePerSec:  cfg.NotifyRatePerSec,
	}, log)

	// ---- Services ----
	messes := service.NewMessResolver(messRepo, cfg.MessCacheTTL)
	leaves := service.NewLeaveService(leaveRepo, messes, userRepo, adjRepo, dispatcher, service.LeaveConfig{
		AverageMealCost: cfg.AverageMealCost,
		ReminderLead:    cfg.ReminderLead,
	}, log)
	analytics := service.NewAnalyticsService(leaveRepo, messes, log)
	actions := service.NewUserActionService(messes, userRepo, actionRepo, dispatcher, log)

	reminders := service.NewReminderScheduler(reminderRepo, leaveRepo, userRepo, dispatcher, cfg.ReminderCheckInterval, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reminders.Start(ctx)
	}()

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(requestLogger(log))

	checks := map[string]handler.Pinger{"mysql": db, "redis": nil}
	if rdb != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	router.RegisterRoutes(e, &handler.Readiness{Checks: checks})

	cacheCfg := config.LoadCacheConfig()
	router.RegisterLeaves(e, handler.NewLeaveHandler(leaves, analytics, actions, log), cfg.JWTSecret, router.LeaveMiddleware{
		RateLimit:  middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		Cache:      middleware.NewRedisCache(cacheCfg, rdb),
		Invalidate: middleware.InvalidateOnWrite(cacheCfg, rdb),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	reminders.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
}
