package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"FinLearn/internal/service/maintenance"
	"FinLearn/internal/services/ensemble"
	"FinLearn/internal/services/feedback"
	"FinLearn/internal/services/tracker"
	"FinLearn/internal/usecase"
	"FinLearn/pkg/cache"
	pkgch "FinLearn/pkg/clickhouse"
	"FinLearn/pkg/config"
	xhttp "FinLearn/pkg/http"
	pkgkafka "FinLearn/pkg/kafka"
	applogger "FinLearn/pkg/logger"
	"FinLearn/pkg/queue"
)

// Deps groups everything the application runs. Collector, Consumer and Producer may be nil.
type Deps struct {
	Config      *config.Config
	Logger      *applogger.Logger
	Predictor   *ensemble.Predictor
	Scheduler   *feedback.Scheduler
	Tracker     *tracker.Tracker
	Collector   *usecase.QuoteCollector
	Consumer    *pkgkafka.Consumer
	Handlers    []pkgkafka.MessageHandler
	Queue       queue.Server
	Maintenance *maintenance.Scheduler
	Handler     xhttp.Handler
	ClickHouse  *pkgch.Client
	Producer    *pkgkafka.Producer
	Cache       cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	Deps
	log        *applogger.Logger
	httpServer *xhttp.Server
	cancel     context.CancelFunc
	schedDone  chan struct{}
}

// New creates a new App instance with all dependencies.
func New(d Deps) *App {
	l := d.Logger
	if l == nil {
		l = applogger.Nop()
	}
	return &App{Deps: d, log: l}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	defer cancel()
	cfg := a.Config

	if n, err := a.Predictor.Restore(ctx); err != nil {
		a.log.Warn("model restore failed", applogger.Error(err))
	} else {
		a.log.Info("models restored", applogger.Int("slots", n))
	}

	a.schedDone = make(chan struct{})
	go func() {
		defer close(a.schedDone)
		a.Scheduler.Run(ctx)
	}()
	a.log.Info("feedback scheduler started", applogger.Int("tiers", len(a.Scheduler.TierStates())))

	if a.Collector != nil {
		go func() {
			if err := a.Collector.Start(ctx); err != nil {
				a.log.Error("collector error", applogger.Error(err))
			}
		}()
		a.log.Info("collector started", applogger.Strings("symbols", cfg.Stream.Symbols))
	}

	if a.Consumer != nil && len(a.Handlers) > 0 {
		topics := make([]string, 0, len(a.Handlers))
		for _, h := range a.Handlers {
			a.Consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer error", applogger.Error(err))
			return err
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	if err := a.Queue.Start(); err != nil {
		a.log.Error("job queue start error", applogger.Error(err))
		return err
	}
	a.Maintenance.Start()

	metricsPath := cfg.Metrics.Path
	if !cfg.Metrics.Enabled {
		metricsPath = ""
	}
	a.httpServer = xhttp.NewServer(a.Handler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequest),
		xhttp.WithLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops services in reverse start order.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	a.log.Info("shutting down...")

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if err := a.Maintenance.Stop(ctx); err != nil {
		a.log.Warn("maintenance stop error", applogger.Error(err))
	}
	if err := a.Queue.Stop(ctx); err != nil {
		a.log.Warn("job queue stop error", applogger.Error(err))
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Stops the scheduler and collector loops; an in-flight training cycle sees the cancelled context.
	a.cancel()
	if a.Collector != nil {
		if err := a.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	select {
	case <-a.schedDone:
	case <-ctx.Done():
		a.log.Warn("feedback scheduler did not stop in time")
	}

	if err := a.Tracker.Flush(ctx); err != nil {
		a.log.Warn("tracker flush error", applogger.Error(err))
	}

	if a.Producer != nil {
		a.log.RemoveCollector()
		if err := a.Producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
