package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/pkg/logger"
)

var (
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrStaleStatus 远端状态已不是写入的前驱状态（CAS 失败）
	ErrStaleStatus = errors.New("order status changed concurrently")
)

// OrderDAO 订单数据访问对象
type OrderDAO struct {
	db     *gorm.DB
	now    func() time.Time
	logger logger.Logger
}

// NewOrderDAO 创建 OrderDAO 实例
func NewOrderDAO(dsn string) (*OrderDAO, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return NewOrderDAOWithDB(db), nil
}

// NewOrderDAOWithDB 使用已有连接创建 OrderDAO
func NewOrderDAOWithDB(db *gorm.DB) *OrderDAO {
	return &OrderDAO{db: db, now: time.Now, logger: logger.NewNop()}
}

// SetLogger 设置日志（nil 时忽略）
func (dao *OrderDAO) SetLogger(log logger.Logger) {
	if log != nil {
		dao.logger = log
	}
}

// AutoMigrate 创建或更新订单表
func (dao *OrderDAO) AutoMigrate() error {
	return dao.db.AutoMigrate(&OrderRecord{})
}

// ListByStore 按创建时间倒序返回门店订单；since 为零值时不限制时间
// 无法解析的记录（如未知状态）跳过并记录警告，不影响其余订单
func (dao *OrderDAO) ListByStore(ctx context.Context, storeID string, since time.Time) ([]domain.Order, error) {
	q := dao.db.WithContext(ctx).Where("store_id = ?", storeID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}

	var records []OrderRecord
	if err := q.Order("created_at DESC").Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(records))
	for i := range records {
		o, err := records[i].toDomain()
		if err != nil {
			dao.logger.Warnf(logger.WithStoreID(ctx, storeID), "[OrderDAO] skip order %s: %v", records[i].ID, err)
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetOrderByID 根据订单 ID 获取订单
func (dao *OrderDAO) GetOrderByID(ctx context.Context, orderID string) (domain.Order, error) {
	var rec OrderRecord
	err := dao.db.WithContext(ctx).Where("id = ?", orderID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return rec.toDomain()
}

// UpdateStatus 条件更新订单状态
// 只有当前状态属于 next 的前驱时才会写入，返回订单所属门店
func (dao *OrderDAO) UpdateStatus(ctx context.Context, orderID string, next domain.Status,
	extra domain.TransitionExtra) (string, error) {
	var storeID string

	err := dao.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 读取当前记录
		var rec OrderRecord
		if err := tx.Where("id = ?", orderID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
			}
			return fmt.Errorf("failed to load order: %w", err)
		}
		storeID = rec.StoreID

		// 2. 构造更新字段
		updates := map[string]interface{}{
			"status":     string(next),
			"updated_at": dao.now(),
		}
		if extra.RejectInfo != nil {
			b, err := json.Marshal(extra.RejectInfo)
			if err != nil {
				return fmt.Errorf("failed to marshal reject info: %w", err)
			}
			updates["reject_info"] = datatypes.JSON(b)
		}
		if extra.DriverStatus != "" && hasJSON(rec.Driver) {
			var driver domain.Driver
			if err := json.Unmarshal(rec.Driver, &driver); err != nil {
				return fmt.Errorf("failed to decode driver: %w", err)
			}
			driver.Status = extra.DriverStatus
			b, err := json.Marshal(driver)
			if err != nil {
				return fmt.Errorf("failed to marshal driver: %w", err)
			}
			updates["driver"] = datatypes.JSON(b)
		}

		// 3. 以前驱状态为条件执行更新
		from := make([]string, 0, 4)
		for _, s := range domain.Predecessors(next) {
			from = append(from, string(s))
		}
		if len(from) == 0 {
			return fmt.Errorf("%w: no status can move to %s", ErrStaleStatus, next)
		}

		result := tx.Model(&OrderRecord{}).
			Where("id = ? AND LOWER(status) IN ?", orderID, from).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update order: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: order %s is %s, cannot move to %s",
				ErrStaleStatus, orderID, strings.ToLower(rec.Status), next)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return storeID, nil
}

// Insert 校验后批量插入订单
func (dao *OrderDAO) Insert(ctx context.Context, orders ...domain.Order) error {
	records := make([]*OrderRecord, 0, len(orders))
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("invalid order: %w", err)
		}
		rec, err := toRecord(o)
		if err != nil {
			return err
		}
		now := dao.now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	if err := dao.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("failed to insert orders: %w", err)
	}
	return nil
}

// ClearStore 删除门店的全部订单，返回删除条数
func (dao *OrderDAO) ClearStore(ctx context.Context, storeID string) (int64, error) {
	result := dao.db.WithContext(ctx).Where("store_id = ?", storeID).Delete(&OrderRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear orders: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close 关闭数据库连接
func (dao *OrderDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
