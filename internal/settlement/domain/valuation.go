package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 常用矿物代码
const (
	MineralSilver = "Ag"
	MineralLead   = "Pb"
	MineralZinc   = "Zn"
)

var (
	// TroyOunceGrams 每金衡盎司克数
	TroyOunceGrams = decimal.RequireFromString("31.1034768")
	// DefaultSilverDMGrams 1 DM 银品位折合的 g/t
	DefaultSilverDMGrams = decimal.NewFromInt(23)
)

// ClosingMinerals 结算关闭时计价的矿物：精矿为主矿物与银，原矿批为银、铅、锌
func ClosingMinerals(kind Kind, principal string) []string {
	switch kind {
	case KindConcentrateSale:
		if principal == "" || principal == MineralSilver {
			return []string{MineralSilver}
		}
		return []string{principal, MineralSilver}
	case KindComplexLotSale:
		return []string{MineralSilver, MineralLead, MineralZinc}
	default:
		return nil
	}
}

// PriceLookup 按矿物与品位查找对手方在结算日生效的价格区间
type PriceLookup func(mineral string, grade decimal.Decimal) (PriceBracket, error)

// MineralValue 单一矿物的计价明细
type MineralValue struct {
	Mineral  string
	Grade    decimal.Decimal // 百分比矿物为 %，银为 g/t
	Payable  decimal.Decimal // 精金属吨数或金衡盎司
	PriceUSD decimal.Decimal
	Value    decimal.Decimal
}

// Valuation 结算关闭时的估值结果
type Valuation struct {
	DryWeight decimal.Decimal
	Lines     []MineralValue
	Quotes    []QuoteSnapshot
	Gross     decimal.Decimal
	Pipeline  PipelineResult
}

// agreedGrade 取协商品位；银统一换算为 g/t
func agreedGrade(o *ReconciliationOutcome, mineral string, principal string, silverDMGrams decimal.Decimal) (*decimal.Decimal, string) {
	switch {
	case o.Concentrate != nil && mineral == MineralSilver:
		return o.Concentrate.SilverGradeGPT, "ley_ag_gmt"
	case o.Concentrate != nil && mineral == principal:
		return o.Concentrate.PrincipalGrade, "ley_mineral_principal"
	case o.ComplexLot != nil && mineral == MineralSilver:
		if o.ComplexLot.SilverGradeDM == nil {
			return nil, "ley_ag_dm"
		}
		g := o.ComplexLot.SilverGradeDM.Mul(silverDMGrams)
		return &g, "ley_ag_dm"
	case o.ComplexLot != nil && mineral == MineralLead:
		return o.ComplexLot.LeadGrade, "ley_pb"
	case o.ComplexLot != nil && mineral == MineralZinc:
		return o.ComplexLot.ZincGrade, "ley_zn"
	}
	return nil, mineral
}

// Valuate 计算毛值并执行扣减流水线。
// 干重 = 重量 × (1 − 水分/100)；百分比矿物价值 = 干重 × 品位/100 × 单价；
// 银价值 = 干重 × g/t ÷ 31.1034768 × 单价。candidates 为结算日有效的全部规则版本。
func Valuate(s *Settlement, lookup PriceLookup, candidates []DeductionRule, silverDMGrams decimal.Decimal, at time.Time) (*Valuation, error) {
	if s.Reconciliation == nil {
		return nil, NewValidationError("conciliacion", "no hay reporte acordado")
	}
	if !silverDMGrams.IsPositive() {
		silverDMGrams = DefaultSilverDMGrams
	}

	moisture := s.Reconciliation.Moisture()
	dry := s.Weight.Mul(hundred.Sub(moisture)).Div(hundred)
	if dry.IsNegative() {
		dry = decimal.Zero
	}

	minerals := ClosingMinerals(s.Kind, s.PrincipalMineral)
	v := &Valuation{DryWeight: dry}
	total := decimal.Zero
	for _, mineral := range minerals {
		grade, field := agreedGrade(s.Reconciliation, mineral, s.PrincipalMineral, silverDMGrams)
		if grade == nil {
			return nil, &MissingFieldsError{Kind: s.Kind, Fields: []string{field}}
		}
		bracket, err := lookup(mineral, *grade)
		if err != nil {
			return nil, err
		}

		var payable decimal.Decimal
		if mineral == MineralSilver {
			payable = dry.Mul(*grade).Div(TroyOunceGrams)
		} else {
			payable = dry.Mul(*grade).Div(hundred)
		}
		value := payable.Mul(bracket.PriceUSD)
		total = total.Add(value)

		v.Lines = append(v.Lines, MineralValue{
			Mineral:  mineral,
			Grade:    *grade,
			Payable:  payable,
			PriceUSD: bracket.PriceUSD,
			Value:    value.Round(2),
		})
		v.Quotes = append(v.Quotes, quoteFromBracket(bracket, at))
	}

	v.Gross = total.Round(2)
	v.Pipeline = RunPipeline(v.Gross, s.Currency, SelectRules(candidates, s.Kind, minerals, at))
	return v, nil
}
