package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// openEnd 开放有效期的比较哨兵
var openEnd = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// DefaultBracketCeiling 价格表最高区间上界应达到的值
var DefaultBracketCeiling = decimal.NewFromInt(100)

// PriceBracket 对手方维护的矿物价格区间 [MinValue, MaxValue)
type PriceBracket struct {
	ID           uint64
	Counterparty Counterparty
	Mineral      string
	MinValue     decimal.Decimal
	MaxValue     decimal.Decimal
	PriceUSD     decimal.Decimal
	Unit         string
	ValidFrom    time.Time
	ValidTo      *time.Time // nil 表示长期有效
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// dateOnly 截断到 UTC 日期
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (b PriceBracket) from() time.Time { return dateOnly(b.ValidFrom) }

func (b PriceBracket) to() time.Time {
	if b.ValidTo == nil {
		return openEnd
	}
	return dateOnly(*b.ValidTo)
}

func (b PriceBracket) windowString() string {
	if b.ValidTo == nil {
		return fmt.Sprintf("desde %s", b.from().Format(time.DateOnly))
	}
	return fmt.Sprintf("%s..%s", b.from().Format(time.DateOnly), b.to().Format(time.DateOnly))
}

// Validate 校验区间自身的合法性
func (b PriceBracket) Validate() error {
	if b.Counterparty == nil {
		return NewValidationError("contraparte", "requerida")
	}
	if b.Mineral == "" {
		return NewValidationError("mineral", "requerido")
	}
	if b.MinValue.IsNegative() {
		return NewValidationError("valor_minimo", "no puede ser negativo")
	}
	if !b.MinValue.LessThan(b.MaxValue) {
		return NewValidationError("valor_maximo", "debe ser mayor que valor_minimo")
	}
	if b.PriceUSD.IsNegative() {
		return NewValidationError("precio_usd", "no puede ser negativo")
	}
	if b.ValidFrom.IsZero() {
		return NewValidationError("fecha_inicio", "requerida")
	}
	if b.ValidTo != nil && b.to().Before(b.from()) {
		return NewValidationError("fecha_fin", "anterior a fecha_inicio")
	}
	return nil
}

// WindowOverlaps 有效期（含两端）是否相交
func (b PriceBracket) WindowOverlaps(o PriceBracket) bool {
	return !b.from().After(o.to()) && !o.from().After(b.to())
}

// RangeOverlaps 半开数值区间是否相交，相邻区间 [10,20) 与 [20,30) 不相交
func (b PriceBracket) RangeOverlaps(o PriceBracket) bool {
	return b.MinValue.LessThan(o.MaxValue) && o.MinValue.LessThan(b.MaxValue)
}

// Contains 数值是否落在 [MinValue, MaxValue)
func (b PriceBracket) Contains(v decimal.Decimal) bool {
	return !v.LessThan(b.MinValue) && v.LessThan(b.MaxValue)
}

// VigenteAt 在给定日期是否生效
func (b PriceBracket) VigenteAt(at time.Time) bool {
	d := dateOnly(at)
	return b.Active && !d.Before(b.from()) && !d.After(b.to())
}

// CheckOverlap 与同一对手方、同一矿物的其他有效区间比较，有效期与数值区间同时相交即冲突
func CheckOverlap(candidate PriceBracket, existing []PriceBracket) error {
	for _, e := range existing {
		if candidate.ID != 0 && e.ID == candidate.ID {
			continue
		}
		if !e.Active || e.Mineral != candidate.Mineral {
			continue
		}
		if e.Counterparty == nil || candidate.Counterparty == nil ||
			CounterpartyKey(e.Counterparty) != CounterpartyKey(candidate.Counterparty) {
			continue
		}
		if candidate.WindowOverlaps(e) && candidate.RangeOverlaps(e) {
			return &BracketOverlapError{Candidate: candidate, Existing: e}
		}
	}
	return nil
}

// FindBracket 查找某矿物在给定日期生效且包含该品位的区间
func FindBracket(brackets []PriceBracket, mineral string, grade decimal.Decimal, at time.Time) (PriceBracket, bool) {
	for _, b := range brackets {
		if b.Mineral == mineral && b.VigenteAt(at) && b.Contains(grade) {
			return b, true
		}
	}
	return PriceBracket{}, false
}

// CurrentPrice 取该矿物所有区间中的最高价（不区分对手方），没有区间时为 0
func CurrentPrice(brackets []PriceBracket, mineral string) decimal.Decimal {
	price := decimal.Zero
	for _, b := range brackets {
		if b.Mineral == mineral && b.PriceUSD.GreaterThan(price) {
			price = b.PriceUSD
		}
	}
	return price
}

// CatalogReport 价格表完整性检查结果，警告不影响 Valid
type CatalogReport struct {
	Counts   map[string]int `json:"conteo"`
	Errors   []string       `json:"errores"`
	Warnings []string       `json:"advertencias"`
	Valid    bool           `json:"valido"`
}

// ValidateCatalog 检查每个跟踪矿物是否有生效区间、区间之间是否有空档、最高上界是否达到 ceiling
func ValidateCatalog(brackets []PriceBracket, minerals []string, ceiling decimal.Decimal, at time.Time) CatalogReport {
	report := CatalogReport{
		Counts:   make(map[string]int, len(minerals)),
		Errors:   []string{},
		Warnings: []string{},
	}

	for _, mineral := range minerals {
		var vigentes []PriceBracket
		for _, b := range brackets {
			if b.Mineral == mineral && b.VigenteAt(at) {
				vigentes = append(vigentes, b)
			}
		}
		report.Counts[mineral] = len(vigentes)

		if len(vigentes) == 0 {
			report.Errors = append(report.Errors, fmt.Sprintf("falta tabla de precios vigente para %s", mineral))
			continue
		}

		sort.Slice(vigentes, func(i, j int) bool {
			return vigentes[i].MinValue.LessThan(vigentes[j].MinValue)
		})
		for i := 1; i < len(vigentes); i++ {
			prev, next := vigentes[i-1], vigentes[i]
			if prev.MaxValue.LessThan(next.MinValue) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: hueco entre %s y %s",
					mineral, prev.MaxValue.String(), next.MinValue.String()))
			}
		}

		top := vigentes[0].MaxValue
		for _, b := range vigentes[1:] {
			if b.MaxValue.GreaterThan(top) {
				top = b.MaxValue
			}
		}
		if top.LessThan(ceiling) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: el rango máximo termina en %s, por debajo de %s",
				mineral, top.String(), ceiling.String()))
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}
