package di

import (
	"context"
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
	"FinLearn/internal/domain/repository"
	"FinLearn/internal/handler/api"
	mid "FinLearn/internal/middleware"
	internalrepo "FinLearn/internal/repository"
	"FinLearn/internal/service/clock"
	"FinLearn/internal/service/maintenance"
	"FinLearn/internal/service/marketstream"
	"FinLearn/internal/service/notify"
	"FinLearn/internal/service/quotebook"
	"FinLearn/internal/services/ensemble"
	"FinLearn/internal/services/feedback"
	"FinLearn/internal/services/tracker"
	"FinLearn/internal/usecase"
	"FinLearn/pkg/cache"
	pkgch "FinLearn/pkg/clickhouse"
	"FinLearn/pkg/config"
	pkgkafka "FinLearn/pkg/kafka"
	"FinLearn/pkg/logger"
	"FinLearn/pkg/metrics"
	"FinLearn/pkg/queue"
	"FinLearn/pkg/server"
	xutil "FinLearn/pkg/util"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func ProvideClock() repository.Clock {
	return clock.System{}
}

// ProvideClickHouseClient creates a ClickHouse client and applies the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithConnectRetry(cfg.ClickHouse.ConnectAttempts, cfg.ClickHouse.ConnectDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	stmts, err := pkgch.Schema(cfg.ClickHouse.Database)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects to Redis; nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.Timeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache shares Redis across replicas, or falls back to process memory.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return rc
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(50000), cache.WithMemoryCleanup(time.Minute))
}

// ProvideKafkaProducer creates a Kafka producer; nil when Kafka is disabled.
// With a ship topic configured the producer also carries aggregated logs.
func ProvideKafkaProducer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Logging.ShipTopic != "" {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.ShipInterval,
			CountThreshold: cfg.Logging.ShipThreshold,
			MinLevel:       cfg.Logging.ShipLevel,
			Topic:          cfg.Logging.ShipTopic,
			Publisher:      internalrepo.NewKafkaLogShipper(producer, cfg.Environment),
		})
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer; nil unless consumption is enabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.LoggingHook{Log: l}))
	return consumer, nil
}

// ProvideQuoteBook creates the shared last-price book.
func ProvideQuoteBook() *quotebook.Book {
	return quotebook.New()
}

func ProvideCandleStore(ch *pkgch.Client, cfg *config.Config, l *logger.Logger) repository.CandleStore {
	store := internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database)
	store.SetLogger(l)
	return store
}

func ProvideFeatureProvider(store repository.CandleStore, cfg *config.Config, clk repository.Clock, c cache.Service, l *logger.Logger) repository.FeatureProvider {
	return internalrepo.NewCandleFeatureProvider(store, repository.NormalizeTimeframe(cfg.Engine.Timeframe), clk, c, l)
}

func ProvideModelStore(c cache.Service) repository.ModelStore {
	return internalrepo.NewCacheModelStore(c)
}

func ProvidePerformanceSink(ch *pkgch.Client, cfg *config.Config) repository.PerformanceSink {
	return internalrepo.NewClickHousePerformanceSink(ch.DB(), cfg.ClickHouse.Database)
}

// EnsembleConfig maps YAML onto the predictor configuration.
func EnsembleConfig(cfg *config.Config) ensemble.Config {
	ec := ensemble.DefaultConfig()
	e := cfg.Ensemble
	ec.MinSamples = e.MinSamples
	ec.Arity = e.Arity
	ec.BuyThreshold = e.BuyThreshold
	ec.SellThreshold = e.SellThreshold
	ec.StaleAfter = e.StaleAfter
	ec.RollbackPolicy = ensemble.RollbackPolicy(e.RollbackPolicy)
	ec.RollbackTolerance = e.RollbackTolerance
	ec.HistorySize = e.HistorySize
	ec.ValidationSplit = e.ValidationSplit
	ec.Seed = e.Seed
	switch {
	case e.LegacyWeights:
		ec.Weights = ensemble.LegacyWeights()
	case len(e.Weights) > 0:
		ec.Weights = make(map[models.ModelSlot]float64, len(e.Weights))
		for k, w := range e.Weights {
			ec.Weights[models.ModelSlot(k)] = w
		}
	}
	return ec
}

// FeedbackConfig maps YAML onto the scheduler configuration.
func FeedbackConfig(cfg *config.Config) feedback.Config {
	fc := feedback.DefaultConfig()
	fc.Symbol = cfg.Engine.Symbol
	fc.LookbackDays = cfg.Engine.LookbackDays
	fc.TickInterval = cfg.Engine.TickInterval
	fc.PerformanceThreshold = cfg.Feedback.PerformanceThreshold
	fc.EvaluationWindow = cfg.Feedback.EvaluationWindow
	fc.Cooldown = cfg.Feedback.Cooldown
	fc.TrainingTimeout = cfg.Feedback.TrainingTimeout
	fc.DegradedWeightFactor = cfg.Feedback.DegradedWeightFactor
	if len(cfg.Feedback.Tiers) > 0 {
		fc.Tiers = make([]feedback.TierConfig, 0, len(cfg.Feedback.Tiers))
		for _, t := range cfg.Feedback.Tiers {
			slots := make([]models.ModelSlot, 0, len(t.Slots))
			for _, s := range t.Slots {
				slots = append(slots, models.ModelSlot(s))
			}
			fc.Tiers = append(fc.Tiers, feedback.TierConfig{
				Tier:       t.Tier,
				Interval:   t.Interval,
				Slots:      slots,
				MaxSamples: t.MaxSamples,
			})
		}
	}
	return fc
}

// RiskPolicy maps YAML onto the gate policy.
func RiskPolicy(cfg *config.Config) models.RiskPolicy {
	r := cfg.Risk
	return models.RiskPolicy{
		MaxPositionFraction: r.MaxPositionFraction,
		StopLossFraction:    r.StopLossFraction,
		TakeProfitFraction:  r.TakeProfitFraction,
		MaxDailyTrades:      r.MaxDailyTrades,
		MinOrderNotional:    r.MinOrderNotional,
	}
}

func ProvidePredictor(cfg *config.Config, store repository.ModelStore, clk repository.Clock, l *logger.Logger, m repository.Metrics) (*ensemble.Predictor, error) {
	return ensemble.New(EnsembleConfig(cfg),
		ensemble.WithStore(store),
		ensemble.WithClock(clk),
		ensemble.WithLogger(l.With(logger.String("component", "ensemble"))),
		ensemble.WithMetrics(m),
	)
}

func ProvideTracker(cfg *config.Config, sink repository.PerformanceSink, clk repository.Clock, l *logger.Logger, m repository.Metrics) (*tracker.Tracker, error) {
	return tracker.New(tracker.Config{
		Capacity:       cfg.Tracker.Capacity,
		SampleCapacity: cfg.Tracker.SampleCapacity,
		Window:         cfg.Tracker.Window,
		TrendDelta:     cfg.Tracker.TrendDelta,
		BuyThreshold:   cfg.Ensemble.BuyThreshold,
		SellThreshold:  cfg.Ensemble.SellThreshold,
	},
		tracker.WithSink(sink),
		tracker.WithClock(clk),
		tracker.WithLogger(l.With(logger.String("component", "tracker"))),
		tracker.WithMetrics(m),
	)
}

// ProvideNotifier sends alerts to Telegram when configured, otherwise to the log.
func ProvideNotifier(cfg *config.Config, l *logger.Logger) (repository.Notifier, error) {
	if !cfg.Telegram.Enabled {
		return notify.NewLog(l), nil
	}
	t, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay, l)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return t, nil
}

func ProvideScheduler(
	cfg *config.Config,
	p *ensemble.Predictor,
	t *tracker.Tracker,
	features repository.FeatureProvider,
	clk repository.Clock,
	l *logger.Logger,
	m repository.Metrics,
	n repository.Notifier,
) (*feedback.Scheduler, error) {
	return feedback.New(FeedbackConfig(cfg), p, t, features,
		feedback.WithClock(clk),
		feedback.WithLogger(l.With(logger.String("component", "feedback"))),
		feedback.WithMetrics(m),
		feedback.WithNotifier(n),
	)
}

// ProvideExchange selects the paper or HTTP gateway connector.
func ProvideExchange(cfg *config.Config, book *quotebook.Book, clk repository.Clock, l *logger.Logger) repository.ExchangeConnector {
	x := cfg.Exchange
	if x.Mode == "http" {
		return internalrepo.NewHTTPExchange(x.BaseURL, x.APIKey, x.Timeout, x.Attempts)
	}
	return internalrepo.NewPaperExchange(book, clk,
		internalrepo.WithSlippageBps(x.SlippageBps),
		internalrepo.WithMaxQuoteAge(x.MaxQuoteAge),
		internalrepo.WithOrderRate(x.OrderBurst, x.OrderRate),
		internalrepo.WithPaperLogger(l),
	)
}

// ProvideSignalPublisher fans signals and intents out to Kafka; nil without a producer.
func ProvideSignalPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SignalPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topics.Signals, cfg.Kafka.Topics.Intents)
}

// ProvideJobQueue uses Redis when available so retrain requests survive restarts.
func ProvideJobQueue(cfg *config.Config, rc *cache.RedisCache, l *logger.Logger) queue.Server {
	qc := &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.QueueSize,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	ql := l.With(logger.String("component", "queue"))
	if rc != nil {
		return queue.NewRedisQueue(ql, qc, rc.Client(),
			queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	}
	return queue.NewMemoryQueue(ql, qc)
}

func ProvideRetrainJob(s *feedback.Scheduler, l *logger.Logger) *usecase.RetrainJob {
	return usecase.NewRetrainJob(s, l.With(logger.String("component", "retrain_job")))
}

func ProvideSignalEngine(
	cfg *config.Config,
	p *ensemble.Predictor,
	t *tracker.Tracker,
	s *feedback.Scheduler,
	features repository.FeatureProvider,
	book *quotebook.Book,
	exchange repository.ExchangeConnector,
	c cache.Service,
	publisher repository.SignalPublisher,
	notifier repository.Notifier,
	q queue.Server,
	job *usecase.RetrainJob,
	m repository.Metrics,
	clk repository.Clock,
	l *logger.Logger,
) (*usecase.SignalEngine, error) {
	q.RegisterJob(job)
	// the trade lock must outlive the slowest order attempt chain
	lockTTL := cfg.Exchange.Timeout*time.Duration(cfg.Exchange.Attempts) + 10*time.Second
	return usecase.NewSignalEngine(usecase.EngineConfig{
		Symbol:        cfg.Engine.Symbol,
		Equity:        cfg.Engine.Equity,
		MinConfidence: cfg.Engine.MinConfidence,
		Policy:        RiskPolicy(cfg),
	}, usecase.EngineDeps{
		Predictor: p,
		Tracker:   t,
		Status:    s,
		Features:  features,
		Prices:    book,
		Exchange:  exchange,
		Counter:   internalrepo.NewCacheTradeCounter(c),
		Trades:    internalrepo.NewCacheTradeLog(c),
		Publisher: publisher,
		Notifier:  notifier,
		Retrain:   q,
		Metrics:   m,
		Clock:     clk,
		Lock:      internalrepo.NewCacheLocker(c, lockTTL, lockTTL),
		Log:       l.With(logger.String("component", "engine")),
	})
}

func ProvideOutcomeResolver(
	cfg *config.Config,
	t *tracker.Tracker,
	store repository.CandleStore,
	book *quotebook.Book,
	clk repository.Clock,
	l *logger.Logger,
) *usecase.OutcomeResolver {
	return usecase.NewOutcomeResolver(t, store, book,
		repository.NormalizeTimeframe(cfg.Engine.Timeframe),
		cfg.Engine.OutcomeHorizon, cfg.Engine.OutcomeDeadband,
		clk, l.With(logger.String("component", "outcomes")))
}

// ProvideQuoteSink writes streamed quotes to ClickHouse or to the Kafka quotes topic.
func ProvideQuoteSink(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer) repository.QuoteStore {
	if cfg.Stream.Sink == "kafka" && producer != nil {
		return internalrepo.NewKafkaQuoteSink(producer, cfg.Kafka.Topics.Quotes)
	}
	return internalrepo.NewClickHouseQuoteStore(ch.DB(), cfg.ClickHouse.Database+".quotes", "stream")
}

func ProvideQuoteProcessor(cfg *config.Config, sink repository.QuoteStore, book *quotebook.Book, m repository.Metrics, l *logger.Logger) *usecase.QuoteProcessor {
	return usecase.NewQuoteProcessor(sink, book, m, l.With(logger.String("component", "quotes")),
		cfg.Stream.BatchSize, cfg.Stream.BatchTimeout)
}

// ProvideQuoteCollector wires stream, pipeline and processor; nil when streaming is off.
func ProvideQuoteCollector(cfg *config.Config, proc *usecase.QuoteProcessor, m repository.Metrics, l *logger.Logger) *usecase.QuoteCollector {
	if !cfg.Stream.Enabled {
		return nil
	}
	sl := l.With(logger.String("component", "stream"))
	stream := marketstream.New(
		cfg.Stream.APIKey,
		cfg.Stream.WebSocketURL,
		cfg.Stream.Symbols,
		cfg.Stream.ReconnectDelay,
		cfg.Stream.PingInterval,
		sl,
	)
	pipe := mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(cfg.Stream.MaxRPS),
		mid.WithBufferSize(cfg.Stream.BufferSize),
		mid.WithMaxClockSkew(cfg.Stream.MaxClockSkew),
	)
	return usecase.NewQuoteCollector(stream, pipe, proc, m, sl)
}

// ProvideKafkaHandlers registers the quote ingest and outcome topics.
func ProvideKafkaHandlers(cfg *config.Config, ch *pkgch.Client, engine *usecase.SignalEngine, m repository.Metrics, l *logger.Logger) []pkgkafka.MessageHandler {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil
	}
	store := internalrepo.NewClickHouseQuoteStore(ch.DB(), cfg.ClickHouse.Database+".quotes", "kafka")
	return []pkgkafka.MessageHandler{
		usecase.NewKafkaQuotesHandler(cfg.Kafka.Topics.Quotes, store, m),
		usecase.NewKafkaOutcomeHandler(cfg.Kafka.Topics.Outcomes, engine, l.With(logger.String("component", "kafka_outcomes"))),
	}
}

func ProvideEngineHandler(engine *usecase.SignalEngine, store repository.CandleStore, c cache.Service, l *logger.Logger) *api.EngineHandler {
	h := api.NewEngineHandler(l.With(logger.String("component", "api")), engine, usecase.NewCandlesUseCase(store))
	h.SetCache(c)
	return h
}

// ProvideMaintenance schedules the periodic housekeeping jobs.
func ProvideMaintenance(
	cfg *config.Config,
	p *ensemble.Predictor,
	t *tracker.Tracker,
	resolver *usecase.OutcomeResolver,
	engine *usecase.SignalEngine,
	c cache.Service,
	sink repository.PerformanceSink,
	clk repository.Clock,
	l *logger.Logger,
) (*maintenance.Scheduler, error) {
	mc := cfg.Maintenance
	s := maintenance.New(l, mc.JobTimeout)
	counter := internalrepo.NewCacheTradeCounter(c)

	jobs := []struct {
		spec string
		job  maintenance.Job
	}{
		{mc.ResolveOutcomes, maintenance.FuncJob{JobName: "resolve_outcomes", Fn: func(ctx context.Context) error {
			_, err := resolver.Resolve(ctx)
			return err
		}}},
		{mc.FlushTracker, maintenance.FuncJob{JobName: "flush_tracker", Fn: t.Flush}},
		{mc.ResetDailyTrades, maintenance.FuncJob{JobName: "reset_daily_trades", Fn: func(ctx context.Context) error {
			yesterday := xutil.StartOfDayUTC(clk.Now()).Add(-24 * time.Hour)
			return counter.Reset(ctx, yesterday)
		}}},
		{mc.CleanupVersions, maintenance.FuncJob{JobName: "cleanup_model_versions", Fn: func(ctx context.Context) error {
			_, err := p.CleanupOldVersions(ctx, cfg.Ensemble.HistorySize)
			return err
		}}},
		{mc.PruneSink, maintenance.FuncJob{JobName: "prune_performance", Fn: func(ctx context.Context) error {
			return sink.Prune(ctx, clk.Now().Add(-cfg.ClickHouse.Retention))
		}}},
	}
	if cfg.Engine.AutoTrade {
		jobs = append(jobs, struct {
			spec string
			job  maintenance.Job
		}{mc.AutoTrade, maintenance.FuncJob{JobName: "auto_trade", Fn: func(ctx context.Context) error {
			_, err := engine.ExecuteSignal(ctx, cfg.Engine.Symbol, 0, false)
			return err
		}}})
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := s.AddJob(j.spec, j.job); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", j.job.Name(), err)
		}
	}
	return s, nil
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	p *ensemble.Predictor,
	s *feedback.Scheduler,
	t *tracker.Tracker,
	collector *usecase.QuoteCollector,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	q queue.Server,
	cron *maintenance.Scheduler,
	h *api.EngineHandler,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	c cache.Service,
) *server.App {
	return server.New(server.Deps{
		Config:      cfg,
		Logger:      l,
		Predictor:   p,
		Scheduler:   s,
		Tracker:     t,
		Collector:   collector,
		Consumer:    consumer,
		Handlers:    handlers,
		Queue:       q,
		Maintenance: cron,
		Handler:     h,
		ClickHouse:  ch,
		Producer:    producer,
		Cache:       c,
	})
}
