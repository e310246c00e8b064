// Package app wires the traffic coordinator and the detection pipeline into
// one process.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/common/database"
	mqttcommon "github.com/CALEB-creator15/sih-backend-project/common/mqtt"
	rediscommon "github.com/CALEB-creator15/sih-backend-project/common/redis"
	"github.com/CALEB-creator15/sih-backend-project/internal/config"
	"github.com/CALEB-creator15/sih-backend-project/internal/congestion"
	"github.com/CALEB-creator15/sih-backend-project/internal/consumer"
	"github.com/CALEB-creator15/sih-backend-project/internal/detector"
	httpapi "github.com/CALEB-creator15/sih-backend-project/internal/http"
	"github.com/CALEB-creator15/sih-backend-project/internal/repository"
	"github.com/CALEB-creator15/sih-backend-project/internal/service"
	"github.com/CALEB-creator15/sih-backend-project/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const httpShutdownTimeout = 5 * time.Second

// TrafficApp owns every long-lived component. Optional parts (Redis feed,
// Postgres archive, vision pipeline) are nil when disabled.
type TrafficApp struct {
	config *config.Config
	logger *zap.Logger

	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	consumer   *consumer.FrameConsumer

	traffic *service.TrafficService
	handler http.Handler
	server  *service.Server

	mu   sync.Mutex
	addr net.Addr
}

// NewTrafficApp connects the enabled backing services and builds the object
// graph. The MQTT connection is made later, by Run.
func NewTrafficApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*TrafficApp, error) {
	a := &TrafficApp{config: cfg, logger: logger}

	var publisher service.VerdictPublisher
	if cfg.RedisEnabled {
		a.redis = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, a.redis); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		publisher = store.NewCongestionFeed(a.redis, cfg.Feed, logger)
		logger.Info("Congestion feed enabled",
			zap.String("redis", cfg.Redis.Addr),
			zap.String("stream", cfg.Feed.Stream),
		)
	}

	var archiver service.IncidentArchiver
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		archive := repository.NewIncidentArchive(db, uuid.NewString(), logger)
		if err := archive.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		archiver = archive
	}

	classifier := congestion.NewClassifier(congestion.Thresholds{
		VehicleCount: cfg.Congestion.VehicleThreshold,
		Density:      cfg.Congestion.DensityThreshold,
	})
	a.traffic = service.NewTrafficService(repository.NewMemorySensorRepo(), classifier, publisher, logger)
	signals := service.NewSignalService(repository.NewMemoryLightRepo(), logger)
	incidents := service.NewIncidentService(repository.NewIncidentLog(), archiver, logger)

	var vision httpapi.VisionMonitor
	if cfg.Vision.Enabled {
		if err := a.buildPipeline(); err != nil {
			a.close()
			return nil, err
		}
		vision = a.consumer
	}

	router := httpapi.NewRouter(logger)
	router.RegisterSystemRoutes(httpapi.NewSystemHandler(vision))
	router.RegisterTrafficRoutes(httpapi.NewTrafficHandler(a.traffic, signals, incidents, logger))
	a.handler = router
	a.server = service.NewServer(cfg.HTTP.Addr, router, logger)

	return a, nil
}

func (a *TrafficApp) buildPipeline() error {
	det, err := detector.NewHTTPDetector(a.config.Detector, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	mqttClient, err := mqttcommon.NewClient(&a.config.MQTT, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create MQTT client: %w", err)
	}
	a.mqttClient = mqttClient

	var ingestor consumer.Ingestor
	if a.config.Vision.IngestEnabled {
		ingestor = a.traffic
	}
	a.consumer = consumer.NewFrameConsumer(a.config.Vision, mqttClient, det, ingestor, a.logger)
	return nil
}

// Handler the HTTP API
func (a *TrafficApp) Handler() http.Handler {
	return a.handler
}

// Addr the bound HTTP address once Run is listening, else nil.
func (a *TrafficApp) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run serves HTTP and runs the pipeline until ctx is cancelled or a component
// fails, then shuts everything down.
func (a *TrafficApp) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.HTTP.Addr)
	if err != nil {
		a.close()
		return fmt.Errorf("failed to listen on %s: %w", a.config.HTTP.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Serve(ln)
	})

	consumerStarted := make(chan struct{})
	if a.consumer != nil {
		g.Go(func() error {
			defer close(consumerStarted)
			if err := a.consumer.Start(gctx); err != nil {
				return fmt.Errorf("failed to start frame consumer: %w", err)
			}
			return nil
		})
	} else {
		close(consumerStarted)
	}

	g.Go(func() error {
		<-gctx.Done()
		// Connect honours gctx, so this does not wait long
		<-consumerStarted
		a.stop()
		return nil
	})

	return g.Wait()
}

func (a *TrafficApp) stop() {
	a.logger.Info("Stopping traffic service")

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("Error stopping HTTP server", zap.Error(err))
	}

	if a.consumer != nil {
		// the consumer applies its own shutdown grace
		if err := a.consumer.Stop(context.Background()); err != nil {
			a.logger.Error("Error stopping frame consumer", zap.Error(err))
		}
	}

	a.close()
	a.logger.Info("Traffic service stopped")
}

func (a *TrafficApp) close() {
	if a.redis != nil {
		if err := rediscommon.Close(a.redis); err != nil {
			a.logger.Warn("Error closing redis", zap.Error(err))
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("Error closing database", zap.Error(err))
		}
		a.db = nil
	}
}
