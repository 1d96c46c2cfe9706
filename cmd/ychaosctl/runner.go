package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yahoo/ychaos/agent"
	"github.com/yahoo/ychaos/agent/builtins"
	"github.com/yahoo/ychaos/config"
	"github.com/yahoo/ychaos/coordinator"
	"github.com/yahoo/ychaos/internal/database"
	"github.com/yahoo/ychaos/internal/eventstream"
	"github.com/yahoo/ychaos/secrets"
	"github.com/yahoo/ychaos/store"
	"github.com/yahoo/ychaos/testplan"
	"github.com/yahoo/ychaos/verification"
	"github.com/yahoo/ychaos/verification/plugins"
)

// runner ties the Plan Model, Agent Registry, Coordinator, Verification
// Controller, and a persistence backend together into the single
// "run one plan end to end" operation ychaosctl's "run" subcommand
// exposes. It is the CLI's own glue, not part of the engine core.
type runner struct {
	cfg           *config.Config
	logger        *zap.Logger
	agentRegistry *agent.Registry
	vRegistry     *verification.Registry
	secretsReg    *secrets.Registry
	reports       store.ReportStore
	vdata         store.VerificationDataStore

	redisClient *redis.Client

	hub       *eventstream.Hub
	evtServer *eventstream.Server

	closers []func() error
}

// newRunner wires every registry and the configured persistence backend
// from cfg. Agent and verification plugin types are registered once,
// matching the original's module-import-time registration.
func newRunner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runner, error) {
	agentRegistry := agent.NewRegistry(logger)
	builtins.Register(agentRegistry)

	if cfg.Engine.ContribDir != "" {
		logger.Info("contrib agent directory configured but no contrib tags declared",
			zap.String("dir", cfg.Engine.ContribDir))
	}

	secretsReg := secrets.NewRegistry()
	if cfg.Secrets.EnableEnv {
		secretsReg.Register("env", secrets.EnvResolver{})
	}

	var redisClient *redis.Client
	if cfg.Secrets.EnableRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("secrets: connect redis resolver: %w", err)
		}
		secretsReg.Register("redis", secrets.NewRedisResolver(redisClient, cfg.Secrets.RedisKeyPrefix))
	}

	vRegistry := verification.NewRegistry()
	vRegistry.Register(plugins.TypeNoOp, plugins.NewNoOp)
	vRegistry.Register(plugins.TypeScript, plugins.NewScript)
	vRegistry.Register(plugins.TypeHTTPRequest, plugins.NewHTTPRequest)
	vRegistry.Register(plugins.TypeMetrics, plugins.NewMetrics)
	vRegistry.Register(plugins.TypeCIJob, plugins.NewCIJobFactory(secretsReg, nil))

	reports, vdata, closers, err := newPersistence(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ru := &runner{
		cfg:           cfg,
		logger:        logger,
		agentRegistry: agentRegistry,
		vRegistry:     vRegistry,
		secretsReg:    secretsReg,
		reports:       reports,
		vdata:         vdata,
		redisClient:   redisClient,
		closers:       closers,
	}

	if cfg.Server.Enabled {
		ru.hub = eventstream.NewHub(logger)
		ru.evtServer = eventstream.NewServer(ru.hub, eventstream.Config{
			Addr:            cfg.Server.Addr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger)
		if err := ru.evtServer.Start(); err != nil {
			return nil, fmt.Errorf("start eventstream server: %w", err)
		}
		logger.Info("eventstream server listening", zap.String("addr", cfg.Server.Addr))
	}

	return ru, nil
}

// newPersistence selects the ReportStore/VerificationDataStore backend
// named by cfg.Database.Driver: "file" (and the zero value) is the
// always-available FileStore; "postgres"/"mysql"/"sqlite" open a GORM
// pool against an already-migrated schema (see `ychaosctl migrate up`);
// "mongodb" dials a Mongo client. Any opened connection is returned
// wrapped as a closer so newRunner's caller can release it via Close.
func newPersistence(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.ReportStore, store.VerificationDataStore, []func() error, error) {
	switch cfg.Database.Driver {
	case "", "file":
		reportDir := cfg.Engine.ReportDir
		if reportDir == "" {
			reportDir = "./ychaos-reports"
		}
		fileStore, err := store.NewFileStore(reportDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return fileStore, fileStore, nil, nil

	case "postgres", "mysql", "sqlite":
		gormDB, err := database.Open(cfg.Database.Driver, cfg.Database.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: open %s: %w", cfg.Database.Driver, err)
		}
		pool, err := database.NewPoolManager(gormDB, database.PoolConfig{
			MaxIdleConns:        cfg.Database.MaxIdleConns,
			MaxOpenConns:        cfg.Database.MaxOpenConns,
			ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
			HealthCheckInterval: 30 * time.Second,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: init pool: %w", err)
		}
		sqlStore := store.NewSQLStore(pool)
		return sqlStore, sqlStore, []func() error{pool.Close}, nil

	case "mongodb", "mongo":
		client, err := store.Connect(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: connect mongo: %w", err)
		}
		mongoStore := store.NewMongoStore(client.Database(cfg.Database.Name))
		closer := func() error { return client.Disconnect(context.Background()) }
		return mongoStore, mongoStore, []func() error{closer}, nil

	default:
		return nil, nil, nil, fmt.Errorf("store: unsupported database driver %q", cfg.Database.Driver)
	}
}

// Close releases any connections and listeners newRunner opened.
func (r *runner) Close() error {
	if r.evtServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.evtServer.Shutdown(ctx); err != nil {
			r.logger.Warn("eventstream server shutdown error", zap.Error(err))
		}
	}
	for _, closer := range r.closers {
		if err := closer(); err != nil {
			r.logger.Warn("persistence backend close error", zap.Error(err))
		}
	}
	if r.redisClient != nil {
		return r.redisClient.Close()
	}
	return nil
}

// runResult is ychaosctl's own report envelope: the Coordinator's attack
// Report plus the Verification Controller's accumulated per-state data
// and aggregate pass/fail, encoded together as the CLI's single output
// artefact.
type runResult struct {
	Report           *coordinator.Report `json:"report" yaml:"report"`
	Verifications    []map[string]any    `json:"verifications" yaml:"verifications"`
	SteadyVerified   bool                `json:"steady_verified" yaml:"steady_verified"`
	ChaosVerified    bool                `json:"chaos_verified" yaml:"chaos_verified"`
	RecoveredVerifed bool                `json:"recovered_verified" yaml:"recovered_verified"`
	ExitCode         int                 `json:"exit_code" yaml:"exit_code"`
}

func (r *runResult) MarshalJSON() ([]byte, error) {
	type alias runResult
	return json.MarshalIndent((*alias)(r), "", "    ")
}

func (r *runResult) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// Run loads the plan at planPath and executes it end to end: STEADY
// verifications, the attack (with CHAOS verifications started right
// after the attack is launched, without waiting for any agent's start
// time), teardown, then RECOVERED verifications.
// The accumulated verification data and the attack report are persisted
// to the runner's store under the plan's ID before returning, so a
// later invocation (e.g. a separate RECOVERED-only pass) can resume from
// where this one left off.
func (r *runner) Run(ctx context.Context, planPath string) (*runResult, error) {
	plan, err := testplan.NewLoader().LoadFile(planPath)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	log := r.logger.With(zap.String("plan_id", plan.ID))

	priorData, err := r.vdata.LoadData(ctx, plan.ID)
	if err != nil {
		priorData = nil
	}

	steadyCtrl, err := verification.NewController(plan.Verifications, testplan.Steady, priorData, r.vRegistry, log)
	if err != nil {
		return nil, fmt.Errorf("build steady controller: %w", err)
	}
	r.subscribeVerificationHooks(steadyCtrl)
	steadyPass, err := steadyCtrl.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("steady verification: %w", err)
	}
	data := steadyCtrl.Data()

	coord := coordinator.New(plan, r.agentRegistry, log)
	r.subscribeCoordinatorHooks(coord)
	attackDone := make(chan struct{})
	var report *coordinator.Report
	var attackErr error
	go func() {
		defer close(attackDone)
		report, attackErr = coord.StartAttack(ctx)
	}()

	chaosCtrl, err := verification.NewController(plan.Verifications, testplan.Chaos, data, r.vRegistry, log)
	if err != nil {
		return nil, fmt.Errorf("build chaos controller: %w", err)
	}
	r.subscribeVerificationHooks(chaosCtrl)
	chaosPass, err := chaosCtrl.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("chaos verification: %w", err)
	}
	data = chaosCtrl.Data()

	<-attackDone
	if attackErr != nil {
		return nil, fmt.Errorf("attack: %w", attackErr)
	}

	recoveredCtrl, err := verification.NewController(plan.Verifications, testplan.Recovered, data, r.vRegistry, log)
	if err != nil {
		return nil, fmt.Errorf("build recovered controller: %w", err)
	}
	r.subscribeVerificationHooks(recoveredCtrl)
	recoveredPass, err := recoveredCtrl.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovered verification: %w", err)
	}
	data = recoveredCtrl.Data()

	if err := r.reports.SaveReport(ctx, report); err != nil {
		log.Warn("failed to persist attack report", zap.Error(err))
	}
	if err := r.vdata.SaveData(ctx, plan.ID, data); err != nil {
		log.Warn("failed to persist verification data", zap.Error(err))
	}

	exitCode := report.ExitCode
	if !steadyPass || !chaosPass || !recoveredPass {
		exitCode = 1
	}

	encoded := make([]map[string]any, len(data))
	for i, d := range data {
		encoded[i] = d.EncodedDict()
	}

	return &runResult{
		Report:           report,
		Verifications:    encoded,
		SteadyVerified:   steadyPass,
		ChaosVerified:    chaosPass,
		RecoveredVerifed: recoveredPass,
		ExitCode:         exitCode,
	}, nil
}

// subscribeCoordinatorHooks mirrors every event the Coordinator's bus
// accepts to the eventstream Hub, a no-op when the server isn't
// enabled.
func (r *runner) subscribeCoordinatorHooks(coord *coordinator.Coordinator) {
	if r.hub == nil {
		return
	}
	r.hub.Subscribe(coord.Hooks(), "coordinator",
		coordinator.EventStart, coordinator.EventAgentStart, coordinator.EventAgentEnd,
		coordinator.EventTeardownStart, coordinator.EventTeardownEnd, coordinator.EventEnd)
}

// subscribeVerificationHooks mirrors every event a Verification
// Controller's bus accepts to the eventstream Hub, a no-op when the
// server isn't enabled.
func (r *runner) subscribeVerificationHooks(ctrl *verification.Controller) {
	if r.hub == nil {
		return
	}
	r.hub.Subscribe(ctrl.Hooks(), "verification",
		verification.EventStart, verification.EventEachPluginStart, verification.EventEachPluginEnd,
		verification.EventPluginNotFound, verification.EventEnd)
}
