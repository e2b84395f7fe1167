package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"comercios/ordersync/internal/stream"
	"comercios/ordersync/pkg/config"
	"comercios/ordersync/pkg/infra/mysql"
	"comercios/ordersync/pkg/infra/redis"
	"comercios/ordersync/pkg/logger"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	StoreID    string // 覆盖配置中的 store.id
}

// NewRootCommand 创建 ordersync 根命令
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ordersync",
		Short: "ordersync - 商户订单同步服务",
		Long:  "订阅门店订单流，识别新订单并提醒商户，按状态机推进订单。",
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./config/config.yaml", "配置文件路径")
	cmd.PersistentFlags().StringVar(&opts.StoreID, "store", "", "门店 ID（默认取配置 store.id）")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

// loadConfig 加载配置并初始化 Logger
func loadConfig(opts *RootOptions) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if opts.StoreID != "" {
		cfg.Store.ID = opts.StoreID
	}

	log, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

// storeTools 维护命令使用的 MySQL 与变更频道
type storeTools struct {
	dao       *mysql.OrderDAO
	transport *stream.Transport
	cleanup   func()
}

func openStoreTools(ctx context.Context, cfg *config.Config, log logger.Logger) (*storeTools, error) {
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("mysql.dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}

	dao, err := mysql.NewOrderDAO(cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	dao.SetLogger(log)
	if err := dao.AutoMigrate(); err != nil {
		_ = dao.Close()
		return nil, err
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = dao.Close()
		return nil, err
	}

	transport := stream.New(stream.Config{ChannelPrefix: cfg.Stream.ChannelPrefix}, dao, redis.NewChangeFeed(rdb), log)
	return &storeTools{
		dao:       dao,
		transport: transport,
		cleanup: func() {
			_ = rdb.Close()
			_ = dao.Close()
		},
	}, nil
}
