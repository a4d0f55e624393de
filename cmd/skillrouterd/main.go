package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"SkillRouter/internal/api"
	"SkillRouter/internal/config"
	"SkillRouter/internal/ledger"
	"SkillRouter/internal/observability/alerting"
	"SkillRouter/internal/observability/metrics"
	"SkillRouter/internal/reconcile"
	"SkillRouter/internal/routing"
	"SkillRouter/internal/settlement"
	"SkillRouter/internal/web3"
	"SkillRouter/internal/web3/ethereum"
	"SkillRouter/pkg/logger"
)

// main 是 Skill Router 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("skillrouterd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SKILLROUTER_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "skillrouter.json")
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logCfg := logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
	}
	if cfg.Logging.AuditDir != "" {
		logCfg.Audit = logger.AuditConfig{
			Enabled: true,
			Path:    filepath.Join(cfg.Logging.AuditDir, "payouts.log"),
		}
	}
	if err := logger.Init(logCfg); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// 账本存储
	var store ledger.Store
	switch cfg.Ledger.Driver {
	case "", "memory":
		store = ledger.NewMemoryStore()
	case "mysql":
		mysqlStore, err := ledger.NewMySQLStore(cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
	defer func() { _ = store.Close() }()

	// 结算网络与链网关
	defs, err := web3.LoadChainDefinitions(cfg.Web3.Definitions)
	if err != nil {
		return err
	}
	network := defs.Network(cfg.Web3.Chain)
	gateway, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:   network.Name,
		RPCURL: network.RPCURL,
	})
	if err != nil {
		return err
	}
	defer gateway.Close()

	// 对账队列
	var queue reconcile.Queue
	switch cfg.Reconcile.Driver {
	case "", "memory":
		queue = reconcile.NewMemoryQueue(1024)
	case "redis":
		redisQueue, err := reconcile.NewRedisQueue(reconcile.RedisQueueConfig{
			Address:  cfg.Reconcile.Redis.Address,
			Password: cfg.Reconcile.Redis.Password,
			DB:       cfg.Reconcile.Redis.DB,
			Queue:    cfg.Reconcile.Redis.Queue,
		})
		if err != nil {
			return err
		}
		queue = redisQueue
	case "rabbitmq":
		rabbitQueue, err := reconcile.NewRabbitMQQueue(reconcile.RabbitMQConfig{
			URL:      cfg.Reconcile.RabbitMQ.URL,
			Queue:    cfg.Reconcile.RabbitMQ.Queue,
			Prefetch: cfg.Reconcile.RabbitMQ.Prefetch,
			Durable:  cfg.Reconcile.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		queue = rabbitQueue
	default:
		return fmt.Errorf("未知的对账队列驱动: %s", cfg.Reconcile.Driver)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭对账队列失败", "error", err)
		}
	}()

	// 托管付款私钥只从环境变量读取
	operatorKey, err := loadOperatorKey()
	if err != nil {
		return err
	}

	settlerOpts := []settlement.Option{
		settlement.WithConfirmWait(cfg.Web3.ConfirmWait.Std()),
		settlement.WithNotifier(reconcile.EnqueueNotifier{Producer: queue}),
	}
	if operatorKey != nil {
		settlerOpts = append(settlerOpts, settlement.WithOperatorKey(operatorKey))
	}
	settler := settlement.NewSettler(store, gateway, network, settlerOpts...)
	if operatorKey != nil {
		logger.L().Info("托管结算模式", "operator", settler.OperatorAddress().Hex())
	} else {
		logger.L().Info("开放结算模式, 审批将返回 402 支付条款")
	}

	engine := routing.NewEngine(store, routing.WithFallbackAgents(ledger.FallbackAgents()))
	refresher := reconcile.NewRefresher(store, gateway, network)

	worker := reconcile.NewWorker(refresher, queue, queue,
		reconcile.WithWorkerCount(cfg.Reconcile.Workers),
		reconcile.WithMaxAttempts(cfg.Reconcile.MaxAttempts),
		reconcile.WithRetryDelay(cfg.Reconcile.RetryDelay.Std()),
		reconcile.WithAlertDispatcher(alerting.NewFanout(alerting.LogNotifier{})),
	)
	go func() {
		if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("对账工作器异常退出", "error", err)
		}
	}()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, store, engine, settler, refresher,
		api.WithSeeder(seeder(store)))

	if cfg.Server.Seed {
		seedCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := seeder(store)(seedCtx); err != nil {
			cancel()
			return err
		}
		cancel()
	}

	return server.Start(ctx)
}

// loadOperatorKey 读取托管付款私钥。两个变量名都支持，路由方专用的优先。
func loadOperatorKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(os.Getenv("ROUTER_PRIVATE_KEY"))
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv("FUNDER_PRIVATE_KEY"))
	}
	if raw == "" {
		return nil, nil
	}
	key, err := ethereum.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("解析托管私钥失败: %w", err)
	}
	return key, nil
}

// seeder 返回演示数据播种函数，可重复调用。
func seeder(store ledger.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		agents := ledger.DemoAgents(os.Getenv("WORKER_ADDRESS"), os.Getenv("WORKER2_ADDRESS"))
		if err := store.SeedAgents(ctx, agents); err != nil {
			return err
		}
		tasks, err := store.ListTasks(ctx)
		if err != nil {
			return err
		}
		if len(tasks) > 0 {
			return nil
		}
		for _, task := range ledger.DemoTasks() {
			if err := store.CreateTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	}
}
