package commands

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"impact-escrow/escrow-engine/internal/config"
	"impact-escrow/escrow-engine/internal/ledger"
	"impact-escrow/escrow-engine/internal/notifications"
	"impact-escrow/escrow-engine/internal/notifications/websocket"
	"impact-escrow/escrow-engine/internal/projects"
	"impact-escrow/escrow-engine/internal/scheduler"
	"impact-escrow/escrow-engine/internal/validators"
	"impact-escrow/escrow-engine/pkg/locking"
	"impact-escrow/escrow-engine/pkg/storage"
)

const metricsNamespace = "impactd"

// app holds the wired components shared by the commands
type app struct {
	registry   *validators.Registry
	engine     *projects.Engine
	dispatcher *notifications.Dispatcher
	sockets    *websocket.Manager
	sweeper    *scheduler.DeadlineSweeper

	closers []func()
}

// Close releases connections in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type repositories struct {
	projects      projects.Repository
	validators    validators.Repository
	notifications notifications.Store
}

// buildApp wires every component from cfg. withMetrics registers Prometheus
// collectors and must only be set once per process.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, withMetrics bool) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	repos, err := a.openRepositories(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	locks, err := a.openLocker(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}

	l, poolAddress, err := openLedger(cfg.Stellar)
	if err != nil {
		return nil, err
	}

	var (
		projectMetrics      *projects.Metrics
		validatorMetrics    *validators.Metrics
		notificationMetrics *notifications.Metrics
		sweeperMetrics      *scheduler.Metrics
	)
	if withMetrics {
		projectMetrics = projects.PrometheusMetrics(metricsNamespace)
		validatorMetrics = validators.PrometheusMetrics(metricsNamespace)
		notificationMetrics = notifications.PrometheusMetrics(metricsNamespace)
		sweeperMetrics = scheduler.PrometheusMetrics(metricsNamespace)
	}

	registryCfg := validators.DefaultRegistryConfig()
	registryCfg.DefaultSearchRadiusKm = cfg.Validators.SearchRadiusKm
	registryCfg.RewardPerValidation = cfg.Validators.RewardPerValidation
	a.registry = validators.NewRegistry(repos.validators, locks, registryCfg, validatorMetrics, logger.Named("validators"))
	if cfg.Validators.SeedDefaults {
		n, err := validators.SeedDefaults(ctx, a.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to seed validators: %w", err)
		}
		logger.Info("Seeded validators", zap.Int("count", n))
	}

	engineCfg := projects.EngineConfig{
		HighTrustReputation: cfg.Escrow.HighTrustReputation,
		SoftProgressRatio:   cfg.Escrow.SoftProgressRatio,
		HoldGracePeriod:     cfg.Escrow.HoldGracePeriod.Duration,
		PendingOpTimeout:    cfg.Escrow.PendingOpTimeout.Duration,
		PoolAddress:         cfg.Escrow.PoolAddress,
	}
	if engineCfg.PoolAddress == "" {
		engineCfg.PoolAddress = poolAddress
	}
	a.engine = projects.NewEngine(repos.projects, l, a.registry, locks, engineCfg, projectMetrics, logger.Named("escrow"))

	if cfg.AWS.EvidenceBucket != "" || cfg.Notifications.HasTransport("sns") || cfg.Notifications.HasTransport("ses") {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if cfg.AWS.EvidenceBucket != "" {
			store := storage.NewS3Store(awsCfg, cfg.AWS.EvidenceBucket)
			a.engine.SetArchiver(projects.NewEvidenceArchiver(store, cfg.AWS.EvidencePrefix))
		}
		a.buildDispatcher(cfg, repos.notifications, notificationMetrics, logger, func() notifications.Multi {
			var extra notifications.Multi
			if cfg.Notifications.HasTransport("sns") {
				extra = append(extra, notifications.NewSNSTransport(sns.NewFromConfig(awsCfg), cfg.AWS.SNSTopicARN))
			}
			if cfg.Notifications.HasTransport("ses") {
				extra = append(extra, notifications.NewSESTransport(sesv2.NewFromConfig(awsCfg), cfg.AWS.SESSender))
			}
			return extra
		}())
	} else {
		a.buildDispatcher(cfg, repos.notifications, notificationMetrics, logger, nil)
	}
	a.engine.SetRecruiter(notifications.NewProjectRecruiter(a.dispatcher))

	a.sweeper = scheduler.NewDeadlineSweeper(a.engine, scheduler.SweeperConfig{
		Spec:                cfg.Scheduler.Spec,
		Concurrency:         cfg.Scheduler.Concurrency,
		ClawbackGracePeriod: cfg.Scheduler.ClawbackGracePeriod.Duration,
	}, sweeperMetrics, logger.Named("sweeper"))

	ok = true
	return a, nil
}

func (a *app) buildDispatcher(
	cfg *config.Config,
	store notifications.Store,
	metrics *notifications.Metrics,
	logger *zap.Logger,
	extra notifications.Multi,
) {
	var transport notifications.Multi
	if cfg.Notifications.HasTransport("websocket") {
		a.sockets = websocket.NewManager(cfg.Server.AllowedOrigins, logger.Named("websocket"))
		a.closers = append(a.closers, a.sockets.Close)
		transport = append(transport, a.sockets)
	}
	transport = append(transport, extra...)

	a.dispatcher = notifications.NewDispatcher(
		a.registry,
		validators.NewSelector(validators.DefaultSelectorWeights()),
		store,
		transport,
		notifications.DispatcherConfig{
			Reward:         cfg.Validators.RewardPerValidation,
			ResponseWindow: cfg.Notifications.ResponseWindow.Duration,
			Backups:        cfg.Notifications.Backups,
			MaxDistanceKm:  cfg.Validators.SearchRadiusKm,
			RatePerSecond:  cfg.Notifications.RatePerSecond,
			Burst:          cfg.Notifications.Burst,
			SendTimeout:    cfg.Notifications.SendTimeout.Duration,
		},
		metrics,
		logger.Named("dispatch"),
	)
	a.closers = append(a.closers, a.dispatcher.Wait)
}

func (a *app) openRepositories(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*repositories, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory storage; state is lost on restart")
		return &repositories{
			projects:      projects.NewMemoryRepository(),
			validators:    validators.NewMemoryRepository(),
			notifications: notifications.NewMemoryStore(),
		}, nil
	}

	logger.Info("Connecting to database",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("db_name", cfg.DBName),
	)
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime.Duration)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	if cfg.AutoMigrate {
		for name, schema := range map[string]string{
			"projects":   projects.Schema,
			"validators": validators.Schema,
		} {
			if _, err := db.ExecContext(ctx, schema); err != nil {
				return nil, fmt.Errorf("failed to migrate %s: %w", name, err)
			}
		}
		if err := notifications.Migrate(gdb); err != nil {
			return nil, fmt.Errorf("failed to migrate notifications: %w", err)
		}
	}

	return &repositories{
		projects:      projects.NewPostgresRepository(db),
		validators:    validators.NewPostgresRepository(db),
		notifications: notifications.NewGormStore(gdb),
	}, nil
}

func (a *app) openLocker(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (locking.Locker, error) {
	if cfg.Addr == "" {
		return locking.NewKeyedMutex(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("Using redis locks", zap.String("addr", cfg.Addr))

	lockCfg := locking.DefaultRedisLockerConfig()
	lockCfg.Prefix = cfg.LockPrefix
	lockCfg.TTL = cfg.LockTTL.Duration
	return locking.NewRedisLocker(client, lockCfg), nil
}

// openLedger returns the configured ledger and the pool account it settles
// from, if it has one
func openLedger(cfg config.StellarConfig) (ledger.Ledger, string, error) {
	var (
		l    ledger.Ledger
		pool string
	)
	switch cfg.Driver {
	case "stellar":
		sl, err := ledger.NewStellarLedger(ledger.StellarConfig{
			HorizonURL:    cfg.HorizonURL,
			Network:       cfg.Network,
			PoolSecretKey: cfg.PoolSecretKey,
			TxTimeoutSecs: cfg.TxTimeoutSecs,
		})
		if err != nil {
			return nil, "", err
		}
		l, pool = sl, sl.PoolAddress()
	default:
		l = ledger.NewMemoryLedger()
	}

	if cfg.CallTimeout.Duration > 0 {
		l = ledger.WithTimeout(l, cfg.CallTimeout.Duration)
	}
	return l, pool, nil
}
