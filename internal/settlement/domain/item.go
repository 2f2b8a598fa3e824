package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemType 实物类型
type ItemType string

const (
	ItemConcentrate ItemType = "concentrado" // 精矿批次
	ItemLot         ItemType = "lote"        // 原矿批
)

// ItemState 实物状态，两类实物的取值体系不同
type ItemState string

const (
	ConcentrateAwaitingPayment ItemState = "esperando_pago"
	ConcentrateReadyForSale    ItemState = "listo_para_venta"
	ConcentrateInSale          ItemState = "en_venta"
	ConcentrateSold            ItemState = "vendido"

	LotTransportComplete ItemState = "Transporte completo"
	LotInSale            ItemState = "En venta"
	LotSold              ItemState = "Vendido"
)

// ReadyState 进入销售前的就绪状态
func (t ItemType) ReadyState() ItemState {
	if t == ItemLot {
		return LotTransportComplete
	}
	return ConcentrateReadyForSale
}

// InSaleState 销售中状态
func (t ItemType) InSaleState() ItemState {
	if t == ItemLot {
		return LotInSale
	}
	return ConcentrateInSale
}

// SoldState 已售状态（终态）
func (t ItemType) SoldState() ItemState {
	if t == ItemLot {
		return LotSold
	}
	return ConcentrateSold
}

// PhysicalItem 实物（精矿或原矿批）的最小视图
type PhysicalItem struct {
	ID      string
	Type    ItemType
	SocioID string
	State   ItemState
	Mineral string
	Weight  decimal.Decimal
}

// ItemLink 结算单与实物的关联，双方报告各占一个槽位
type ItemLink struct {
	ID                   string
	SettlementID         string
	ItemID               string
	ItemType             ItemType
	Weight               decimal.Decimal
	SocioReportID        *string
	CounterpartyReportID *string
	CreatedAt            time.Time
}

// ReportID 返回指定参与方槽位中的报告
func (l *ItemLink) ReportID(party ReportParty) *string {
	if party == PartySocio {
		return l.SocioReportID
	}
	return l.CounterpartyReportID
}

// Attach 将报告挂到参与方槽位，槽位已占用时报重复提交
func (l *ItemLink) Attach(party ReportParty, reportID string) error {
	if l.ReportID(party) != nil {
		return &DuplicateSubmissionError{SettlementID: l.SettlementID, Party: party}
	}
	id := reportID
	if party == PartySocio {
		l.SocioReportID = &id
	} else {
		l.CounterpartyReportID = &id
	}
	return nil
}
