package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementFilter 结算单查询条件，空值不过滤
type SettlementFilter struct {
	SocioID          string
	CounterpartyType CounterpartyType
	CounterpartyID   string
	Kind             Kind
	State            State
}

// SettlementRepository 结算单仓储接口
type SettlementRepository interface {
	// Save 新建结算单及其实物关联
	Save(ctx context.Context, s *Settlement) error
	// Update 更新结算单，并写入新增的关联、扣减明细与报价快照
	Update(ctx context.Context, s *Settlement) error
	Get(ctx context.Context, id string) (*Settlement, error)
	// GetForUpdate 在事务中锁定结算单行
	GetForUpdate(ctx context.Context, id string) (*Settlement, error)
	List(ctx context.Context, filter SettlementFilter, offset, limit int) ([]*Settlement, int64, error)
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// LabReportRepository 化验报告仓储接口
type LabReportRepository interface {
	// Save 保存报告；(结算单, 提交方) 唯一约束冲突时返回 DuplicateSubmissionError
	Save(ctx context.Context, r *LabReport) error
	Get(ctx context.Context, id string) (*LabReport, error)
	// FindByParty 不存在时返回 nil, nil
	FindByParty(ctx context.Context, settlementID string, party ReportParty) (*LabReport, error)
	ListBySettlement(ctx context.Context, settlementID string) ([]*LabReport, error)
}

// PriceBracketRepository 价格区间仓储接口
type PriceBracketRepository interface {
	Save(ctx context.Context, b *PriceBracket) error
	Get(ctx context.Context, id uint64) (*PriceBracket, error)
	// ListScope 列出对手方某矿物的全部区间，lock 为 true 时加行锁
	ListScope(ctx context.Context, cp Counterparty, mineral string, lock bool) ([]PriceBracket, error)
	ListByCounterparty(ctx context.Context, cp Counterparty) ([]PriceBracket, error)
	ListByMineral(ctx context.Context, mineral string) ([]PriceBracket, error)
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// DeductionRuleRepository 扣减规则仓储接口，只追加不修改
type DeductionRuleRepository interface {
	Create(ctx context.Context, r *DeductionRule) error
	LatestVersion(ctx context.Context, code string) (int, error)
	// ListEffective 有效期覆盖该日期的全部版本
	ListEffective(ctx context.Context, at time.Time) ([]DeductionRule, error)
	ListByCode(ctx context.Context, code string) ([]DeductionRule, error)
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// PhysicalItemStore 实物状态存取，与结算单处于同一事务
type PhysicalItemStore interface {
	Get(ctx context.Context, itemType ItemType, id string) (*PhysicalItem, error)
	// UpdateState 条件更新，当前状态不为 from 时返回校验错误
	UpdateState(ctx context.Context, itemType ItemType, id string, from, to ItemState) error
}

// Severity 通知级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
)

// Notification 面向用户的通知
type Notification struct {
	UserID   string            `json:"user_id"`
	Severity Severity          `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NotificationGateway 通知投递，失败不影响主流程
type NotificationGateway interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditEntry 审计记录
type AuditEntry struct {
	Actor    Actor
	Entity   string
	EntityID string
	Action   string
	Before   any
	After    any
	IP       string
	At       time.Time
}

// AuditLogger 审计日志，尽力写入
type AuditLogger interface {
	Record(ctx context.Context, e AuditEntry) error
}

// EventPublisher 领域事件发布
type EventPublisher interface {
	Publish(ctx context.Context, e SettlementEvent) error
}

// PriceCache 当前价格缓存与价格表写锁
type PriceCache interface {
	GetCurrentPrice(ctx context.Context, mineral string) (decimal.Decimal, bool, error)
	SetCurrentPrice(ctx context.Context, mineral string, price decimal.Decimal) error
	Invalidate(ctx context.Context, mineral string) error
	// LockScope 锁定对手方某矿物的价格表，返回释放函数
	LockScope(ctx context.Context, cp Counterparty, mineral string) (func(), error)
}
