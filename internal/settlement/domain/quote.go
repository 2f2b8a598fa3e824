package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// 报价单位
const (
	UnitUSDPerFineTon   = "USD/TMF" // 每公吨精金属
	UnitUSDPerTroyOunce = "USD/OT"  // 每金衡盎司
)

// QuoteSnapshot 结算关闭时捕获的价格，创建后不可变
type QuoteSnapshot struct {
	ID           uint64
	SettlementID string
	Mineral      string
	PriceUSD     decimal.Decimal
	Unit         string
	Source       string
	QuoteDate    time.Time
}

// quoteFromBracket 由命中的价格区间生成快照
func quoteFromBracket(b PriceBracket, at time.Time) QuoteSnapshot {
	unit := b.Unit
	if unit == "" {
		unit = UnitUSDPerFineTon
		if b.Mineral == MineralSilver {
			unit = UnitUSDPerTroyOunce
		}
	}
	return QuoteSnapshot{
		Mineral:   b.Mineral,
		PriceUSD:  b.PriceUSD,
		Unit:      unit,
		Source:    fmt.Sprintf("tabla_precios:%d", b.ID),
		QuoteDate: dateOnly(at),
	}
}
