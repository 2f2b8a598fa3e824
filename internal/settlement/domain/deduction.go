package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DeductionBase 扣减计算基数
type DeductionBase string

const (
	BaseGrossTotal  DeductionBase = "valor_bruto_total"    // 毛值 × 百分比
	BaseRunningNet  DeductionBase = "valor_neto_acumulado" // 扣除前序扣减后的余额 × 百分比
	BaseFixedAmount DeductionBase = "monto_fijo"           // 固定金额
)

// wildcard 过滤条件通配值
const wildcard = "todos"

// Valid 是否为已知基数
func (b DeductionBase) Valid() bool {
	switch b {
	case BaseGrossTotal, BaseRunningNet, BaseFixedAmount:
		return true
	}
	return false
}

// DeductionRule 扣减规则的一个不可变版本
type DeductionRule struct {
	ID            uint64
	Code          string
	Version       int
	Concept       string
	DeductionType string // 例如 regalia, aporte, retencion
	Category      string
	Mineral       *string // nil 或 "todos" 表示不限
	Kind          *string // nil 或 "todos" 表示不限
	Percentage    decimal.Decimal
	FixedAmount   decimal.Decimal
	Base          DeductionBase
	Active        bool
	Order         int
	ValidFrom     time.Time
	ValidTo       *time.Time
	Notes         string
	LegalSource   string
	CreatedAt     time.Time
}

// Validate 校验规则内容
func (r DeductionRule) Validate() error {
	if r.Code == "" {
		return NewValidationError("codigo", "requerido")
	}
	if r.Concept == "" {
		return NewValidationError("concepto", "requerido")
	}
	if !r.Base.Valid() {
		return NewValidationError("base_calculo", "valor desconocido "+string(r.Base))
	}
	if r.Base == BaseFixedAmount {
		if r.FixedAmount.IsNegative() {
			return NewValidationError("monto_fijo", "no puede ser negativo")
		}
	} else if r.Percentage.IsNegative() || r.Percentage.GreaterThan(decimal.NewFromInt(100)) {
		return NewValidationError("porcentaje", "debe estar entre 0 y 100")
	}
	if r.Kind != nil && *r.Kind != wildcard && !Kind(*r.Kind).Valid() {
		return NewValidationError("tipo_liquidacion", "valor desconocido "+*r.Kind)
	}
	if r.ValidFrom.IsZero() {
		return NewValidationError("fecha_inicio", "requerida")
	}
	if r.ValidTo != nil && dateOnly(*r.ValidTo).Before(dateOnly(r.ValidFrom)) {
		return NewValidationError("fecha_fin", "anterior a fecha_inicio")
	}
	return nil
}

// CoversDate 有效期（含两端）是否覆盖该日期
func (r DeductionRule) CoversDate(at time.Time) bool {
	d := dateOnly(at)
	if d.Before(dateOnly(r.ValidFrom)) {
		return false
	}
	return r.ValidTo == nil || !d.After(dateOnly(*r.ValidTo))
}

func matchesFilter(filter *string, values ...string) bool {
	if filter == nil || *filter == "" || *filter == wildcard {
		return true
	}
	for _, v := range values {
		if *filter == v {
			return true
		}
	}
	return false
}

// Matches 矿物与结算类型过滤是否命中
func (r DeductionRule) Matches(kind Kind, minerals []string) bool {
	return matchesFilter(r.Kind, string(kind)) && matchesFilter(r.Mineral, minerals...)
}

// LatestVersions 每个编码取有效期覆盖该日期的最高版本，按 Order、Code 排序
func LatestVersions(rules []DeductionRule, at time.Time) []DeductionRule {
	latest := make(map[string]DeductionRule)
	for _, r := range rules {
		if !r.CoversDate(at) {
			continue
		}
		if cur, ok := latest[r.Code]; !ok || r.Version > cur.Version {
			latest[r.Code] = r
		}
	}

	out := make([]DeductionRule, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// SelectRules 在 LatestVersions 的基础上按启用状态与过滤条件筛选。
// 停用版本会遮蔽同一编码的旧版本。
func SelectRules(rules []DeductionRule, kind Kind, minerals []string, at time.Time) []DeductionRule {
	latest := LatestVersions(rules, at)
	selected := latest[:0]
	for _, r := range latest {
		if r.Active && r.Matches(kind, minerals) {
			selected = append(selected, r)
		}
	}
	return selected
}

// DeductionRecord 一条规则作用于结算单的结果
type DeductionRecord struct {
	ID           uint64
	SettlementID string
	RuleCode     string
	RuleVersion  int
	Concept      string
	Base         DeductionBase
	Percentage   decimal.Decimal
	FixedAmount  decimal.Decimal
	BaseAmount   decimal.Decimal
	Amount       decimal.Decimal
	Order        int
	Currency     string
	CreatedAt    time.Time
}

// PipelineResult 扣减流水线输出
type PipelineResult struct {
	Gross         decimal.Decimal
	TotalDeducted decimal.Decimal
	Net           decimal.Decimal
	Records       []DeductionRecord
}

var hundred = decimal.NewFromInt(100)

// RunPipeline 按顺序应用已选规则。每笔扣减保留两位小数，且不超过剩余金额，净值不小于 0。
func RunPipeline(gross decimal.Decimal, currency string, rules []DeductionRule) PipelineResult {
	result := PipelineResult{
		Gross:   gross,
		Records: make([]DeductionRecord, 0, len(rules)),
	}
	running := gross
	if running.IsNegative() {
		running = decimal.Zero
	}

	for _, r := range rules {
		var base, amount decimal.Decimal
		switch r.Base {
		case BaseGrossTotal:
			base = gross
			amount = gross.Mul(r.Percentage).Div(hundred)
		case BaseRunningNet:
			base = running
			amount = running.Mul(r.Percentage).Div(hundred)
		case BaseFixedAmount:
			amount = r.FixedAmount
		default:
			continue
		}
		amount = amount.Round(2)
		if amount.GreaterThan(running) {
			amount = running
		}
		running = running.Sub(amount)

		result.Records = append(result.Records, DeductionRecord{
			RuleCode:    r.Code,
			RuleVersion: r.Version,
			Concept:     r.Concept,
			Base:        r.Base,
			Percentage:  r.Percentage,
			FixedAmount: r.FixedAmount,
			BaseAmount:  base,
			Amount:      amount,
			Order:       r.Order,
			Currency:    currency,
		})
		result.TotalDeducted = result.TotalDeducted.Add(amount)
	}

	result.Net = gross.Sub(result.TotalDeducted)
	if result.Net.IsNegative() {
		result.Net = decimal.Zero
	}
	return result
}
