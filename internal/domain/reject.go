package domain

import (
	"strings"

	"comercios/ordersync/pkg/errorutil"
)

// RejectReason 拒单原因
type RejectReason string

// 拒单原因常量
const (
	ReasonOutOfStock     RejectReason = "out_of_stock"
	ReasonTooBusy        RejectReason = "too_busy"
	ReasonClosingSoon    RejectReason = "closing_soon"
	ReasonTechnicalIssue RejectReason = "technical_issue"
	ReasonDeliveryArea   RejectReason = "delivery_area"
	ReasonOther          RejectReason = "other"
)

var reasonLabels = map[RejectReason]string{
	ReasonOutOfStock:     "Producto agotado",
	ReasonTooBusy:        "Demasiados pedidos",
	ReasonClosingSoon:    "Próximo a cerrar",
	ReasonTechnicalIssue: "Problema técnico",
	ReasonDeliveryArea:   "Fuera de zona de entrega",
	ReasonOther:          "Otra razón",
}

// Label 默认展示文案
func (r RejectReason) Label() string {
	return reasonLabels[r]
}

// NewRejectInfo 校验原因并生成拒单信息（时间戳由调用方填写）
// other 必须带自定义说明；其余原因未给说明时使用默认文案
func NewRejectInfo(reasonID, label string) (RejectInfo, error) {
	reason := RejectReason(strings.TrimSpace(reasonID))
	if _, ok := reasonLabels[reason]; !ok {
		return RejectInfo{}, errorutil.InvalidArgument("unknown reject reason: " + reasonID)
	}

	label = strings.TrimSpace(label)
	if label == "" {
		if reason == ReasonOther {
			return RejectInfo{}, errorutil.InvalidArgument("reject reason 'other' requires a label")
		}
		label = reason.Label()
	}

	return RejectInfo{ReasonID: reason, ReasonLabel: label}, nil
}
