package mysql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"gorm.io/datatypes"
)

// extras 列中对账结果使用的键
const (
	extraAgreedReport   = "reporte_acordado"
	extraRequiresReview = "requiere_revision"
	extraDisagreement   = "diferencia"
	extraReconciledAt   = "conciliado_en"
)

func isReconciliationKey(k string) bool {
	switch k {
	case extraAgreedReport, extraRequiresReview, extraDisagreement, extraReconciledAt:
		return true
	}
	return false
}

// mergeExtras 在已有 extras 上叠加结算单的扩展字段与对账结果，已有键不会被整体清除
func mergeExtras(existing datatypes.JSON, s *domain.Settlement) (datatypes.JSON, error) {
	merged := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("failed to decode extras: %w", err)
		}
	}

	for k, v := range s.Extras {
		if isReconciliationKey(k) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extras %s: %w", k, err)
		}
		merged[k] = raw
	}

	if o := s.Reconciliation; o != nil {
		var agreed any = o.Concentrate
		if o.ComplexLot != nil {
			agreed = o.ComplexLot
		}
		raw, err := json.Marshal(agreed)
		if err != nil {
			return nil, fmt.Errorf("failed to encode agreed report: %w", err)
		}
		merged[extraAgreedReport] = raw
		merged[extraRequiresReview] = json.RawMessage(fmt.Sprintf("%t", o.RequiresReview))
		merged[extraDisagreement] = json.RawMessage(o.Disagreement.String())
		reconciledAt, err := json.Marshal(o.ReconciledAt)
		if err != nil {
			return nil, err
		}
		merged[extraReconciledAt] = reconciledAt
	}

	if len(merged) == 0 {
		return datatypes.JSON("{}"), nil
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extras: %w", err)
	}
	return datatypes.JSON(out), nil
}

// decodeExtras 拆分出对账结果，其余键作为 Extras 返回
func decodeExtras(kind domain.Kind, raw datatypes.JSON) (map[string]any, *domain.ReconciliationOutcome, error) {
	extras := map[string]any{}
	if len(raw) == 0 {
		return extras, nil, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("failed to decode extras: %w", err)
	}
	for k, v := range fields {
		if isReconciliationKey(k) {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, nil, fmt.Errorf("failed to decode extras %s: %w", k, err)
		}
		extras[k] = val
	}

	agreed, ok := fields[extraAgreedReport]
	if !ok {
		return extras, nil, nil
	}

	o := &domain.ReconciliationOutcome{Kind: kind}
	switch kind {
	case domain.KindComplexLotSale:
		o.ComplexLot = &domain.ComplexLotFields{}
		if err := json.Unmarshal(agreed, o.ComplexLot); err != nil {
			return nil, nil, fmt.Errorf("failed to decode agreed report: %w", err)
		}
	default:
		o.Concentrate = &domain.ConcentrateFields{}
		if err := json.Unmarshal(agreed, o.Concentrate); err != nil {
			return nil, nil, fmt.Errorf("failed to decode agreed report: %w", err)
		}
	}
	if v, ok := fields[extraRequiresReview]; ok {
		if err := json.Unmarshal(v, &o.RequiresReview); err != nil {
			return nil, nil, fmt.Errorf("failed to decode %s: %w", extraRequiresReview, err)
		}
	}
	if v, ok := fields[extraDisagreement]; ok {
		var d decimal.Decimal
		if err := json.Unmarshal(v, &d); err != nil {
			return nil, nil, fmt.Errorf("failed to decode %s: %w", extraDisagreement, err)
		}
		o.Disagreement = d
	}
	if v, ok := fields[extraReconciledAt]; ok {
		var at time.Time
		if err := json.Unmarshal(v, &at); err == nil {
			o.ReconciledAt = at
		}
	}
	return extras, o, nil
}
