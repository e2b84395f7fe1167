package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/testutil"
	applog "comercios/ordersync/pkg/logger"
)

func newTestDAO(t *testing.T) *OrderDAO {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	dao := NewOrderDAOWithDB(db)
	dao.now = func() time.Time { return testutil.Epoch }
	require.NoError(t, dao.AutoMigrate())
	t.Cleanup(func() { _ = dao.Close() })
	return dao
}

func TestInsertAndList(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()

	older := testutil.NewOrder("s1", "o1", domain.StatusPending)
	older.CreatedAt = testutil.Epoch.Add(-48 * time.Hour)
	newer := testutil.WithDriver(testutil.NewOrder("s1", "o2", domain.StatusReady), domain.DriverAssigned)
	newer.Items[0].Notes = "Sin cebolla"
	other := testutil.NewOrder("s2", "x1", domain.StatusPending)
	require.NoError(t, dao.Insert(ctx, older, newer, other))

	orders, err := dao.ListByStore(ctx, "s1", time.Time{})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[0].ID)
	assert.Equal(t, "o1", orders[1].ID)

	got := orders[0]
	assert.Equal(t, domain.StatusReady, got.Status)
	assert.True(t, decimal.RequireFromString("10.50").Equal(got.Total))
	assert.Equal(t, "Sin cebolla", got.Items[0].Notes)
	assert.Equal(t, "María", got.Customer.Name)
	require.NotNil(t, got.Driver)
	assert.Equal(t, domain.DriverAssigned, got.Driver.Status)
	assert.Nil(t, got.RejectInfo)

	recent, err := dao.ListByStore(ctx, "s1", testutil.Epoch.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "o2", recent[0].ID)
}

func TestInsertRejectsInvalidOrder(t *testing.T) {
	dao := newTestDAO(t)
	o := testutil.NewOrder("s1", "o1", domain.StatusPending)
	o.Total = decimal.RequireFromString("1")

	err := dao.Insert(context.Background(), o)
	require.Error(t, err)
}

func TestUpdateStatusCompareAndSet(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	require.NoError(t, dao.Insert(ctx, testutil.NewOrder("s1", "o1", domain.StatusPending)))

	storeID, err := dao.UpdateStatus(ctx, "o1", domain.StatusAccepted, domain.TransitionExtra{})
	require.NoError(t, err)
	assert.Equal(t, "s1", storeID)

	// 重复写入同一目标状态不再满足前驱条件
	_, err = dao.UpdateStatus(ctx, "o1", domain.StatusAccepted, domain.TransitionExtra{})
	assert.True(t, errors.Is(err, ErrStaleStatus))

	// 过期的 ready 写入不会跳过 preparing
	_, err = dao.UpdateStatus(ctx, "o1", domain.StatusReady, domain.TransitionExtra{})
	assert.True(t, errors.Is(err, ErrStaleStatus))

	o, err := dao.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, o.Status)
}

func TestUpdateStatusLegacyUppercase(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	require.NoError(t, dao.Insert(ctx, testutil.NewOrder("s1", "o1", domain.StatusPending)))
	require.NoError(t, dao.db.Model(&OrderRecord{}).Where("id = ?", "o1").Update("status", "PENDING").Error)

	o, err := dao.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, o.Status)

	_, err = dao.UpdateStatus(ctx, "o1", domain.StatusAccepted, domain.TransitionExtra{})
	require.NoError(t, err)
}

func TestRejectWritesInfoAndFreesDriver(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	require.NoError(t, dao.Insert(ctx, testutil.WithDriver(testutil.NewOrder("s1", "o1", domain.StatusReady), domain.DriverAssigned)))

	info := &domain.RejectInfo{ReasonID: domain.ReasonTooBusy, ReasonLabel: "Demasiados pedidos", Timestamp: testutil.Epoch}
	_, err := dao.UpdateStatus(ctx, "o1", domain.StatusCancelled, domain.TransitionExtra{RejectInfo: info, DriverStatus: domain.DriverFreed})
	require.NoError(t, err)

	o, err := dao.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	require.NotNil(t, o.RejectInfo)
	assert.Equal(t, domain.ReasonTooBusy, o.RejectInfo.ReasonID)
	assert.True(t, testutil.Epoch.Equal(o.RejectInfo.Timestamp))
	assert.Equal(t, domain.DriverFreed, o.Driver.Status)

	// 终态之后不能再次写入拒单信息
	_, err = dao.UpdateStatus(ctx, "o1", domain.StatusCancelled, domain.TransitionExtra{RejectInfo: info})
	assert.True(t, errors.Is(err, ErrStaleStatus))
}

func TestUpdateStatusNotFound(t *testing.T) {
	dao := newTestDAO(t)
	_, err := dao.UpdateStatus(context.Background(), "missing", domain.StatusAccepted, domain.TransitionExtra{})
	assert.True(t, errors.Is(err, ErrOrderNotFound))

	_, err = dao.GetOrderByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestClearStore(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	require.NoError(t, dao.Insert(ctx,
		testutil.NewOrder("s1", "o1", domain.StatusPending),
		testutil.NewOrder("s1", "o2", domain.StatusPending),
		testutil.NewOrder("s2", "x1", domain.StatusPending),
	))

	n, err := dao.ClearStore(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := dao.ListByStore(ctx, "s2", time.Time{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestListByStoreSkipsUnknownStatus(t *testing.T) {
	dao := newTestDAO(t)
	core, logs := observer.New(zap.WarnLevel)
	dao.SetLogger(applog.NewFromZap(zap.New(core)))
	ctx := context.Background()

	require.NoError(t, dao.Insert(ctx,
		testutil.NewOrder("s1", "o1", domain.StatusPending),
		testutil.NewOrder("s1", "o2", domain.StatusPending),
	))
	// 外部写入方（骑手端）可能写入本服务不认识的状态
	require.NoError(t, dao.db.Model(&OrderRecord{}).Where("id = ?", "o2").Update("status", "in_delivery").Error)

	orders, err := dao.ListByStore(ctx, "s1", time.Time{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].ID)

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "o2")
	assert.Contains(t, logs.All()[0].Message, "in_delivery")
}
