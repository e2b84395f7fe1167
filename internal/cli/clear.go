package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"comercios/ordersync/internal/stream"
)

// storeClearer 删除门店订单（*mysql.OrderDAO 实现）
type storeClearer interface {
	ClearStore(ctx context.Context, storeID string) (int64, error)
}

// NewClearCommand 清空门店订单
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear-orders",
		Short: "删除门店的全部订单",
		Long: `删除门店的全部订单并通知订阅方。需要 --yes 确认。

Example:
  ordersync clear-orders --store store001 --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete orders without --yes")
			}
			cfg, log, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cfg.Store.ID == "" {
				return fmt.Errorf("store id is required (--store or store.id)")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			tools, err := openStoreTools(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer tools.cleanup()

			return clearOrders(ctx, tools.dao, tools.transport, cfg.Store.ID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "确认删除")

	return cmd
}

func clearOrders(ctx context.Context, c storeClearer, ann changeAnnouncer, storeID string, out io.Writer) error {
	n, err := c.ClearStore(ctx, storeID)
	if err != nil {
		return err
	}
	if err := ann.Announce(ctx, stream.ChangePing{StoreID: storeID}); err != nil {
		fmt.Fprintf(out, "warning: change notification failed: %v\n", err)
	}
	fmt.Fprintf(out, "deleted %d order(s) for store %s\n", n, storeID)
	return nil
}
