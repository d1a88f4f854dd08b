package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	blacklistrepo "github.com/Ramsey-B/fern/internal/repositories/blacklist"
	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/pkg/blacklist"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/routes"
	graphroutes "github.com/Ramsey-B/fern/pkg/routes/graph"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// NewServeCommand runs the HTTP API and the Kafka resolver
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolve and review API and consume raw candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return (&server{opts: rootOpts, migrate: migrateFirst}).run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", true, "apply migrations before serving")
	return cmd
}

// server owns everything serve starts. Each start* method is a startup dependency.
type server struct {
	opts    *RootOptions
	migrate bool

	db        database.DB
	rdb       *redis.Client
	graph     *graph.Client
	producer  *kafka.Producer
	blacklist *blacklist.Cached
	params    *matching.Reloader
	processor *processor.Processor
	http      *http.Server
	checker   *health.Checker

	shutdownTracing func(context.Context) error
}

func (s *server) run(ctx context.Context) error {
	cfg := s.opts.Config
	log := s.opts.Logger

	// background loops stop with ctx; dependency Stop handles the rest
	bg, cancel := context.WithCancel(ctx)
	defer cancel()

	boot := startup.NewStartup(log, cfg.StartupMaxAttempts)
	boot.AddDependency(startup.Func{Name: "tracing", StartFn: s.startTracing, StopFn: func(ctx context.Context) error {
		return s.shutdownTracing(ctx)
	}})
	boot.AddDependency(startup.Func{Name: "postgres", StartFn: s.startPostgres, StopFn: func(context.Context) error {
		return s.db.Close()
	}})
	boot.AddDependency(startup.Func{Name: "redis", StartFn: s.startRedis, StopFn: func(context.Context) error {
		if s.rdb == nil {
			return nil
		}
		return s.rdb.Close()
	}})
	boot.AddDependency(startup.Func{Name: "graph", StartFn: s.startGraph, StopFn: func(ctx context.Context) error {
		if s.graph == nil {
			return nil
		}
		return s.graph.Close(ctx)
	}})
	boot.AddDependency(startup.Func{Name: "kafka-producer", StartFn: s.startProducer, StopFn: func(context.Context) error {
		if s.producer == nil {
			return nil
		}
		return s.producer.Close()
	}})
	boot.AddDependency(startup.Func{
		Name:  "blacklist",
		Needs: []string{"postgres"},
		StartFn: func(ctx context.Context) error {
			s.blacklist = blacklist.NewCached(blacklistrepo.NewRepository(s.db, log), log)
			if err := s.blacklist.Refresh(ctx); err != nil {
				return err
			}
			go s.blacklist.Run(bg, cfg.BlacklistRefreshInterval)
			return nil
		},
	})
	boot.AddDependency(startup.Func{
		Name: "matching-config",
		StartFn: func(context.Context) error {
			var err error
			if s.params, err = matching.NewReloader(cfg.MatchingConfigPath, log); err != nil {
				return err
			}
			go func() {
				if err := s.params.Watch(bg); err != nil {
					log.WithError(err).Error("Stopped watching matching parameters")
				}
			}()
			return nil
		},
	})
	boot.AddDependency(startup.Func{
		Name:    "services",
		Needs:   []string{"tracing", "postgres", "redis", "graph", "kafka-producer", "blacklist", "matching-config"},
		StartFn: func(ctx context.Context) error { return s.startServices(bg) },
		StopFn:  s.stopServices,
	})

	if err := boot.Start(ctx); err != nil {
		_ = boot.Stop(context.Background())
		return err
	}
	s.checker.SetReady(true)
	log.WithField("port", cfg.Port).Info("fern is serving")

	<-ctx.Done()
	log.Info("Shutting down")
	s.checker.SetReady(false)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer stopCancel()
	return boot.Stop(stopCtx)
}

func (s *server) startTracing(ctx context.Context) error {
	cfg := s.opts.Config
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Version:     cfg.Version,
		Endpoint:    cfg.OTLPEndpoint,
		Protocol:    cfg.OTLPProtocol,
		Insecure:    cfg.OTLPInsecure,
		Headers:     cfg.OTLPHeaders,
	}, s.opts.Logger)
	if err != nil {
		return err
	}
	s.shutdownTracing = shutdown
	return nil
}

func (s *server) startPostgres(ctx context.Context) error {
	db, err := connectDB(ctx, s.opts)
	if err != nil {
		return err
	}
	if s.migrate {
		if err := migrate(s.opts, db); err != nil {
			_ = db.Close()
			return err
		}
	}
	s.db = db
	return nil
}

func (s *server) startRedis(ctx context.Context) error {
	cfg := s.opts.Config
	if cfg.RedisAddr == "" {
		s.opts.Logger.Info("REDIS_ADDR not set, merges are serialized in-process only")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	s.rdb = rdb
	return nil
}

func (s *server) startGraph(ctx context.Context) error {
	cfg := s.opts.Config
	if cfg.GraphDBHost == "" {
		s.opts.Logger.Info("GRAPH_DB_HOST not set, graph projection disabled")
		return nil
	}
	client, err := graph.NewClient(graph.Config{
		Host:        cfg.GraphDBHost,
		Port:        cfg.GraphDBPort,
		Username:    cfg.GraphDBUser,
		Password:    cfg.GraphDBPassword,
		Database:    cfg.GraphDBName,
		MaxPoolSize: cfg.GraphDBPoolSize,
	}, s.opts.Logger)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	s.graph = client
	return nil
}

func (s *server) startProducer(context.Context) error {
	cfg := s.opts.Config
	if !cfg.KafkaEventsEnabled && !cfg.KafkaConsumerEnabled {
		return nil
	}
	s.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, s.opts.Logger)
	return nil
}

// startServices wires the resolver, merge engine and API over the started dependencies
func (s *server) startServices(bg context.Context) error {
	cfg := s.opts.Config
	log := s.opts.Logger

	store := entitystore.NewPostgresStore(s.db, log)
	entities := entitystore.NewService(store, log)

	var locker merging.Locker = merging.NewLocalLocker()
	if s.rdb != nil {
		locker = merging.NewRedisLocker(s.rdb, log, cfg.MergeLockPrefix, cfg.MergeLockTTL, cfg.MergeLockTimeout)
	}

	var sinks matching.DecisionSinks
	var notifiers []merging.Notifier
	if s.producer != nil && cfg.KafkaEventsEnabled {
		emitter := events.NewEmitter(s.producer, log)
		sinks = append(sinks, emitter)
		notifiers = append(notifiers, emitter)
	}
	// a nil interface keeps the graph routes answering 503
	var querier graphroutes.Querier
	if s.graph != nil {
		projector := graph.NewProjector(s.graph, entities, log)
		sinks = append(sinks, projector)
		notifiers = append(notifiers, projector)
		querier = graph.NewQueryService(s.graph, log)
	}

	engine := merging.NewEngine(log, store, locker, notifiers...)
	matcher := matching.NewMatcher(
		log,
		store,
		gate.New(gate.DefaultConfig(), s.blacklist),
		s.blacklist,
		s.params,
		sinks,
		matching.Config{MaxAttempts: cfg.MatchMaxAttempts, MaxCandidates: cfg.MatchMaxCandidates},
	)

	checks := map[string]health.Pinger{"postgres": s.db.PingContext}
	if s.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
	}
	if s.graph != nil {
		checks["graph"] = s.graph.Ping
	}

	if cfg.KafkaConsumerEnabled {
		strategies, err := processor.DefaultStrategies()
		if err != nil {
			return err
		}
		s.processor = processor.NewProcessor(log, matcher, strategies, processor.Config{Workers: cfg.ResolveWorkers})
		var deadLetter kafka.DeadLetter
		if cfg.KafkaDeadLetterTopic != "" && s.producer != nil {
			deadLetter = func(ctx context.Context, msgs []*kafka.IncomingMessage) error {
				return s.producer.Forward(ctx, cfg.KafkaDeadLetterTopic, msgs...)
			}
		}
		err = s.processor.Start(bg, kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaInputTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			BatchSize:     cfg.KafkaConsumeBatch,
			BatchWait:     cfg.KafkaConsumeWait,
			MaxRetries:    cfg.KafkaMaxRetries,
		}, deadLetter)
		if err != nil {
			return err
		}
		checks["consumer"] = func(context.Context) error {
			if !s.processor.Health() {
				return errors.New("consumer stopped")
			}
			return nil
		}
	}

	s.checker = health.NewChecker(cfg.Version, checks)
	e := routes.NewRouter(cfg.AppName, log, routes.Deps{
		Resolver:   matcher,
		Reviewer:   matching.NewReviewer(log, store, matcher, engine),
		Entities:   entities,
		Merger:     engine,
		Candidates: matchcandidate.NewRepository(s.db, log),
		Graph:      querier,
		Health:     s.checker,
	})
	return s.serveHTTP(e)
}

func (s *server) serveHTTP(e *echo.Echo) error {
	cfg := s.opts.Config
	s.http = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        e,
		ReadTimeout:    time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.WithError(err).Error("HTTP server failed")
		}
	}()
	return nil
}

func (s *server) stopServices(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		errs = append(errs, s.http.Shutdown(ctx))
	}
	if s.processor != nil {
		errs = append(errs, s.processor.Stop())
	}
	return errors.Join(errs...)
}
