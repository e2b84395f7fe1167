package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"comercios/ordersync/internal/worker"
)

// NewServeCommand 启动订单同步服务
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动订单同步服务",
		Long: `绑定门店订单流并启动 HTTP 接口。

Example:
  ordersync serve -c ./config/config.yaml
  ordersync serve --store store001`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	// 1. 加载配置
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log.Infof(ctx, "[Serve] Config loaded: %s, env: %s, store: %s", cfg.App.Name, cfg.App.Env, cfg.Store.ID)

	// 2. 创建 Manager
	mgr, err := worker.NewManagerInstance(cfg, log)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	// 3. 启动 Manager（goroutine）
	startErr := make(chan error, 1)
	go func() {
		startErr <- mgr.Start()
	}()

	// 4. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof(ctx, "[Serve] Received signal: %v, shutting down", sig)
	case <-ctx.Done():
	case err := <-startErr:
		mgr.Shutdown()
		return err
	}

	// 5. 优雅关闭
	mgr.Shutdown()
	if err := <-startErr; err != nil {
		return err
	}
	log.Infof(ctx, "[Serve] Exited gracefully")
	return nil
}
