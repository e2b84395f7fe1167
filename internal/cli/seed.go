package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/stream"
)

// SeedOptions seed 命令参数
type SeedOptions struct {
	*RootOptions
	Count int
}

// orderInserter 批量写入订单（*mysql.OrderDAO 实现）
type orderInserter interface {
	Insert(ctx context.Context, orders ...domain.Order) error
}

// changeAnnouncer 发布门店变更通知（*stream.Transport 实现）
type changeAnnouncer interface {
	Announce(ctx context.Context, ping stream.ChangePing) error
}

// NewSeedCommand 写入测试订单
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "写入待处理的测试订单",
		Long: `向门店写入待处理 (pending) 的测试订单，并通知正在订阅的服务重新加载。

Example:
  ordersync seed --store store001
  ordersync seed --count 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			cfg, log, err := loadConfig(opts.RootOptions)
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

			orders := SampleOrders(cfg.Store.ID, opts.Count, time.Now())
			return seedOrders(ctx, tools.dao, tools.transport, cfg.Store.ID, orders, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "订单数量")

	return cmd
}

// SampleOrders 生成 count 个待处理订单，创建时间按分钟递减
func SampleOrders(storeID string, count int, now time.Time) []domain.Order {
	burger := decimal.RequireFromString("8.50")
	fries := decimal.RequireFromString("3.50")
	fee := decimal.RequireFromString("2.00")

	orders := make([]domain.Order, 0, count)
	for i := 0; i < count; i++ {
		items := []domain.Item{
			{Name: "Hamburguesa Clásica", UnitPrice: burger, Quantity: 2, Subtotal: burger.Mul(decimal.NewFromInt(2)), Notes: "Sin cebolla"},
			{Name: "Papas Fritas Grande", UnitPrice: fries, Quantity: 1, Subtotal: fries},
		}
		subtotal := items[0].Subtotal.Add(items[1].Subtotal)
		created := now.Add(-time.Duration(i) * time.Minute)

		orders = append(orders, domain.Order{
			ID:            "order-" + uuid.NewString()[:8],
			StoreID:       storeID,
			Status:        domain.StatusPending,
			Type:          domain.TypeDelivery,
			PaymentMethod: "cash",
			Items:         items,
			Subtotal:      subtotal,
			DeliveryFee:   fee,
			Total:         subtotal.Add(fee),
			Customer:      domain.Customer{Name: "María González", Phone: "+584149876543"},
			Destination:   domain.Destination{Address: "Av. Bolívar, Valencia, Venezuela"},
			CreatedAt:     created,
			UpdatedAt:     created,
		})
	}
	return orders
}

// seedOrders 写入订单后发布一次变更通知；通知失败时订阅方会在下次周期同步时看到新订单
func seedOrders(ctx context.Context, ins orderInserter, ann changeAnnouncer, storeID string, orders []domain.Order, out io.Writer) error {
	// 1. 写入
	if err := ins.Insert(ctx, orders...); err != nil {
		return fmt.Errorf("insert orders: %w", err)
	}
	for _, o := range orders {
		fmt.Fprintf(out, "created %s  %s  %s  total=%s\n", o.ID, o.Status, o.Customer.Name, o.Total.StringFixed(2))
	}

	// 2. 通知
	if err := ann.Announce(ctx, stream.ChangePing{StoreID: storeID}); err != nil {
		fmt.Fprintf(out, "warning: change notification failed: %v\n", err)
	}
	fmt.Fprintf(out, "seeded %d order(s) for store %s\n", len(orders), storeID)
	return nil
}
