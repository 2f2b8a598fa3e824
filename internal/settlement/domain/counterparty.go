package domain

import "fmt"

// CounterpartyType 对手方类型
type CounterpartyType string

const (
	CounterpartyPlant   CounterpartyType = "planta"
	CounterpartyTrading CounterpartyType = "comercializadora"
)

// Counterparty 结算对手方：加工厂或贸易公司，二者互斥
type Counterparty interface {
	Type() CounterpartyType
	PartyID() string
	counterparty()
}

// ProcessingPlant 加工厂（加工费结算）
type ProcessingPlant struct {
	ID string
}

func (ProcessingPlant) Type() CounterpartyType { return CounterpartyPlant }
func (p ProcessingPlant) PartyID() string     { return p.ID }
func (ProcessingPlant) counterparty()          {}

// TradingCompany 贸易公司（销售结算）
type TradingCompany struct {
	ID string
}

func (TradingCompany) Type() CounterpartyType { return CounterpartyTrading }
func (t TradingCompany) PartyID() string      { return t.ID }
func (TradingCompany) counterparty()           {}

// NewCounterparty 由持久化的类型与 ID 还原对手方
func NewCounterparty(t CounterpartyType, id string) (Counterparty, error) {
	if id == "" {
		return nil, NewValidationError("counterparty_id", "requerido")
	}
	switch t {
	case CounterpartyPlant:
		return ProcessingPlant{ID: id}, nil
	case CounterpartyTrading:
		return TradingCompany{ID: id}, nil
	default:
		return nil, NewValidationError("counterparty_type", fmt.Sprintf("tipo desconocido %q", t))
	}
}

// CounterpartyKey 对手方唯一键，用于锁与缓存
func CounterpartyKey(cp Counterparty) string {
	return fmt.Sprintf("%s:%s", cp.Type(), cp.PartyID())
}
