package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/billing"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/config"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/events"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/handler"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/logging"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/middleware"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/notify"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("agendalook exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinks := events.Multi{
		events.NewLogSink(logger.With("component", "events")),
		events.NewMetricsSink(reg, cfg.MetricsNamespace),
	}

	var limiter middleware.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "error", err)
		}
		cancel()

		limiter = middleware.NewRedisLimiter(rdb, "agendalook:ratelimit:")
		if cfg.EventStream != "" {
			sinks = append(sinks, events.NewStreamSink(rdb, cfg.EventStream, cfg.EventStreamMax))
		}
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger.With("component", "notify"))
	if cfg.PostmarkServerToken != "" {
		pm, err := notify.NewPostmarkNotifier(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.PostmarkFrom, cfg.BaseURL,
			notify.WithCurrency(cfg.Currency, cfg.CurrencyDecimals))
		if err != nil {
			return err
		}
		notifier = pm
	}
	dispatcher := notify.NewDispatcher(notifier, sinks, logger.With("component", "notify"), cfg.NotifyTimeout)

	verifier, err := cfg.Verifier()
	if err != nil {
		return err
	}
	gateCfg, err := cfg.GateConfig()
	if err != nil {
		return err
	}

	srv := server.New(db, server.Config{
		Verifier: verifier,
		Webhook: handler.WebhookConfig{
			SignatureHeader: cfg.Webhook.SignatureHeader,
			TimestampHeader: cfg.Webhook.TimestampHeader,
			Mode:            billing.Mode(cfg.PaymentMode),
		},
		RateLimit:  cfg.Webhook.RateLimit,
		RateWindow: cfg.Webhook.RateWindow,
		Gate:       gateCfg,
		Account: handler.AccountConfig{
			CookieName: gateCfg.CookieName,
			SessionTTL: cfg.SessionTTL,
			VerifyTTL:  cfg.VerifyTTL,
			TrialDays:  cfg.TrialDays,
		},
		Prices: cfg.Prices(),
	}, server.Deps{
		Limiter:     limiter,
		Sink:        sinks,
		Activations: dispatcher,
		Mailer:      dispatcher,
		Gatherer:    reg,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("agendalook starting", "addr", httpServer.Addr, "db_driver", cfg.DBDriver, "payment_mode", cfg.PaymentMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Background cleanup
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(ctx, time.Now()); err != nil {
					logger.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up expired sessions", "count", n)
				}
				if rl := srv.RateLimiter(); rl != nil {
					rl.Cleanup()
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		dispatcher.Wait()
		return err
	})

	return g.Wait()
}
