package domain

import (
	"errors"
	"fmt"
	"strings"
)

// 错误分类哨兵，接口层据此映射状态码
var (
	// ErrValidation 输入非法、缺少必填字段或当前状态不允许该操作
	ErrValidation = errors.New("validation failed")
	// ErrConflict 与已有数据冲突（价格区间重叠、重复提交）
	ErrConflict = errors.New("conflict")
	// ErrNotFound 依赖的实体不存在
	ErrNotFound = errors.New("not found")
	// ErrForbidden 操作者与结算单参与方不匹配
	ErrForbidden = errors.New("forbidden")
)

// ValidationError 字段校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError 创建字段校验错误
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransitionError 当前状态不允许请求的迁移
type InvalidTransitionError struct {
	SettlementID string
	Action       string
	Current      State
	Expected     []State
}

func (e *InvalidTransitionError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("liquidación %s: no se puede %s en estado %q (se esperaba %s)",
		e.SettlementID, e.Action, e.Current, strings.Join(expected, " o "))
}

func (e *InvalidTransitionError) Unwrap() error { return ErrValidation }

// MissingFieldsError 化验报告缺少该结算类型要求的字段
type MissingFieldsError struct {
	Kind   Kind
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("reporte químico para %s incompleto: faltan %s", e.Kind, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error { return ErrValidation }

// BracketOverlapError 候选价格区间与现有有效区间重叠
type BracketOverlapError struct {
	Candidate PriceBracket
	Existing  PriceBracket
}

func (e *BracketOverlapError) Error() string {
	return fmt.Sprintf("el rango %s [%s, %s) se superpone con el rango #%d [%s, %s) vigente %s",
		e.Candidate.Mineral,
		e.Candidate.MinValue.String(), e.Candidate.MaxValue.String(),
		e.Existing.ID,
		e.Existing.MinValue.String(), e.Existing.MaxValue.String(),
		e.Existing.windowString())
}

func (e *BracketOverlapError) Unwrap() error { return ErrConflict }

// DuplicateSubmissionError 同一参与方对同一结算单重复提交报告
type DuplicateSubmissionError struct {
	SettlementID string
	Party        ReportParty
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("liquidación %s: %s ya envió su reporte químico", e.SettlementID, e.Party)
}

func (e *DuplicateSubmissionError) Unwrap() error { return ErrConflict }

// NotFoundError 实体不存在
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s no encontrado", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError 创建实体不存在错误
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ForbiddenError 操作者无权执行该操作
type ForbiddenError struct {
	Action string
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("no autorizado para %s: %s", e.Action, e.Reason)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// IsValidation 判断是否为校验类错误
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict 判断是否为冲突类错误
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound 判断是否为实体不存在错误
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden 判断是否为权限错误
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }
