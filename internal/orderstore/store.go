package orderstore

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"comercios/ordersync/internal/domain"
)

// Aggregates 每次快照后从头重算的派生值
type Aggregates struct {
	PendingCount int            `json:"pending_count"`
	ActiveOrders []domain.Order `json:"active_orders"`
	Today        TodayStats     `json:"today"`
}

// TodayStats 当日统计（按配置时区切分）
type TodayStats struct {
	OrdersToday    int             `json:"orders_today"`
	CompletedToday int             `json:"completed_today"`
	SalesToday     decimal.Decimal `json:"sales_today"`
}

// Store 当前门店的订单集合
// 非并发安全，由 engine 在状态锁内访问
type Store struct {
	loc    *time.Location
	byID   map[string]domain.Order
	sorted []domain.Order
	agg    Aggregates
}

// New 创建 Store；loc 为 nil 时使用本地时区
func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{loc: loc}
	s.Clear()
	return s
}

// Clear 清空订单集合
func (s *Store) Clear() {
	s.byID = make(map[string]domain.Order)
	s.sorted = nil
	s.agg = Aggregates{Today: TodayStats{SalesToday: decimal.Zero}}
}

// Replace 用快照整体替换订单集合并重算聚合值
// 快照内 id 必须唯一，重复 id 请先调用 Dedup
func (s *Store) Replace(orders []domain.Order, now time.Time) {
	byID := make(map[string]domain.Order, len(orders))
	sorted := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		c := o.Clone()
		byID[o.ID] = c
		sorted = append(sorted, c)
	}
	sortNewestFirst(sorted)

	s.byID = byID
	s.sorted = sorted
	s.agg = Compute(sorted, now, s.loc)
}

// Get 按 id 查找订单
func (s *Store) Get(id string) (domain.Order, bool) {
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, false
	}
	return o.Clone(), true
}

// Len 订单数
func (s *Store) Len() int {
	return len(s.sorted)
}

// Orders 按创建时间倒序返回副本
func (s *Store) Orders() []domain.Order {
	return cloneAll(s.sorted)
}

// Aggregates 返回聚合值副本
func (s *Store) Aggregates() Aggregates {
	a := s.agg
	a.ActiveOrders = cloneAll(s.agg.ActiveOrders)
	return a
}

// Compute 纯函数：从订单集合计算聚合值
func Compute(orders []domain.Order, now time.Time, loc *time.Location) Aggregates {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	agg := Aggregates{
		ActiveOrders: make([]domain.Order, 0),
		Today:        TodayStats{SalesToday: decimal.Zero},
	}
	for _, o := range orders {
		if o.Status == domain.StatusPending {
			agg.PendingCount++
		}
		if o.Status.IsActive() {
			agg.ActiveOrders = append(agg.ActiveOrders, o)
		}
		if o.CreatedAt.Before(start) || !o.CreatedAt.Before(end) {
			continue
		}
		agg.Today.OrdersToday++
		if o.Status == domain.StatusDelivered {
			agg.Today.CompletedToday++
			agg.Today.SalesToday = agg.Today.SalesToday.Add(o.Total)
		}
	}
	return agg
}

// Dedup 保留每个 id 的第一次出现，返回去重后的快照和重复的 id
func Dedup(orders []domain.Order) ([]domain.Order, []string) {
	seen := make(map[string]struct{}, len(orders))
	out := make([]domain.Order, 0, len(orders))
	var dups []string
	for _, o := range orders {
		if _, ok := seen[o.ID]; ok {
			dups = append(dups, o.ID)
			continue
		}
		seen[o.ID] = struct{}{}
		out = append(out, o)
	}
	return out, dups
}

func sortNewestFirst(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func cloneAll(orders []domain.Order) []domain.Order {
	out := make([]domain.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out
}
