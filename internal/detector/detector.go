package detector

import (
	"comercios/ordersync/internal/domain"
)

// Class 快照中订单的分类
type Class string

const (
	ClassInitial    Class = "initial"     // 绑定后第一份快照中的订单，不提醒
	ClassNewArrival Class = "new-arrival" // 新出现且处于 pending，需要提醒一次
	ClassUpdate     Class = "update"      // 已见过的订单
	ClassBackfill   Class = "backfill"    // 新出现但已不是 pending，不提醒
)

// Classification 单个订单的分类结果
type Classification struct {
	Order domain.Order
	Class Class
}

// maxDeparted 记住的已提醒且已离开快照的订单数上限
const maxDeparted = 1024

// Detector 比较前后两份快照的订单 id 集合，识别真正的新订单
// 非并发安全，由调用方串行调用
type Detector struct {
	primed   bool
	previous map[string]struct{}
	// alerted 已提醒且仍在快照中的订单
	alerted map[string]struct{}
	// departed 已提醒但已离开快照的订单（值为离开序号），按离开顺序保留最近 limit 个
	departed map[string]uint64
	order    []departure
	seq      uint64
	limit    int
}

type departure struct {
	id  string
	seq uint64
}

// New 创建 Detector
func New() *Detector {
	d := &Detector{limit: maxDeparted}
	d.Reset()
	return d
}

// Reset 清空已知集合，下一份快照视为首份
func (d *Detector) Reset() {
	d.primed = false
	d.previous = make(map[string]struct{})
	d.alerted = make(map[string]struct{})
	d.departed = make(map[string]uint64)
	d.order = nil
}

// Primed 是否已经处理过首份快照
func (d *Detector) Primed() bool {
	return d.primed
}

// Seen 上一份快照中的订单数
func (d *Detector) Seen() int {
	return len(d.previous)
}

// Classify 按快照顺序逐个分类，然后用本次快照替换已知集合
func (d *Detector) Classify(orders []domain.Order) []Classification {
	out := make([]Classification, 0, len(orders))
	next := make(map[string]struct{}, len(orders))

	for _, o := range orders {
		next[o.ID] = struct{}{}
		out = append(out, Classification{Order: o, Class: d.classify(o)})
	}

	d.previous = next
	d.primed = true
	d.prune(next)
	return out
}

// prune 把离开快照的已提醒订单移入 departed，超出上限时淘汰最早离开的
func (d *Detector) prune(next map[string]struct{}) {
	for id := range d.alerted {
		if _, ok := next[id]; ok {
			continue
		}
		delete(d.alerted, id)
		d.seq++
		d.departed[id] = d.seq
		d.order = append(d.order, departure{id: id, seq: d.seq})
	}

	// order 中可能有已回到快照或再次离开的旧记录，序号不一致的直接丢弃
	for len(d.departed) > d.limit && len(d.order) > 0 {
		oldest := d.order[0]
		d.order = d.order[1:]
		if d.departed[oldest.id] == oldest.seq {
			delete(d.departed, oldest.id)
		}
	}
	if len(d.order) > 2*d.limit {
		kept := make([]departure, 0, len(d.departed))
		for _, dep := range d.order {
			if d.departed[dep.id] == dep.seq {
				kept = append(kept, dep)
			}
		}
		d.order = kept
	}
}

func (d *Detector) classify(o domain.Order) Class {
	if !d.primed {
		return ClassInitial
	}
	if _, ok := d.previous[o.ID]; ok {
		return ClassUpdate
	}
	if o.Status != domain.StatusPending {
		return ClassBackfill
	}
	// 离开窗口后又回来的订单不再重复提醒
	if _, ok := d.alerted[o.ID]; ok {
		return ClassUpdate
	}
	if _, ok := d.departed[o.ID]; ok {
		delete(d.departed, o.ID)
		d.alerted[o.ID] = struct{}{}
		return ClassUpdate
	}
	d.alerted[o.ID] = struct{}{}
	return ClassNewArrival
}

// Arrivals 过滤出需要提醒的订单，保持快照顺序
func Arrivals(cs []Classification) []domain.Order {
	var out []domain.Order
	for _, c := range cs {
		if c.Class == ClassNewArrival {
			out = append(out, c.Order)
		}
	}
	return out
}
