package domain

import (
	"comercios/ordersync/pkg/errorutil"
)

// 合法的状态边；终态没有出边
var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusDelivered},
}

// CanTransition 判断 current -> next 是否是一条合法的边
func CanTransition(current, next Status) bool {
	for _, s := range transitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// ApplyTransition 返回状态已更新的订单副本；非法边返回 IllegalTransition，原订单不变
func ApplyTransition(o Order, next Status) (Order, error) {
	if !CanTransition(o.Status, next) {
		return o, errorutil.IllegalTransition(o.ID, string(o.Status), string(next))
	}
	updated := o.Clone()
	updated.Status = next
	return updated, nil
}

// Predecessors 一步可到达 next 的所有状态（写入时用作 CAS 条件）
func Predecessors(next Status) []Status {
	var from []Status
	for _, s := range Statuses() {
		if CanTransition(s, next) {
			from = append(from, s)
		}
	}
	return from
}
