package application

import (
	"context"

	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

const auditEntity = "liquidacion"

// afterCommit 事务提交后发布事件、写审计、发通知；任何失败只记录日志与指标
func (s *SettlementAppService) afterCommit(ctx context.Context, st *domain.Settlement, actor domain.Actor,
	action string, before map[string]any, notes []domain.Notification) {
	for _, ev := range st.PullEvents() {
		s.deps.Metrics.StateTransitions.WithLabelValues(string(ev.Kind), string(ev.From), string(ev.To)).Inc()
		s.logger.InfoContext(ctx, "settlement transitioned",
			"settlement_id", ev.SettlementID, "kind", ev.Kind, "from", ev.From, "to", ev.To, "actor", ev.Actor)

		if s.deps.Events == nil {
			continue
		}
		if err := s.deps.Events.Publish(ctx, ev); err != nil {
			s.sideChannelFailed(ctx, "event", st.ID, err)
		}
	}

	if s.deps.Audit != nil {
		entry := domain.AuditEntry{
			Actor:    actor,
			Entity:   auditEntity,
			EntityID: st.ID,
			Action:   action,
			Before:   before,
			After:    st.Snapshot(),
			IP:       actor.IP,
			At:       s.now(),
		}
		if err := s.deps.Audit.Record(ctx, entry); err != nil {
			s.sideChannelFailed(ctx, "audit", st.ID, err)
		}
	}

	if s.deps.Notifier == nil {
		return
	}
	for _, n := range notes {
		if err := s.deps.Notifier.Notify(ctx, n); err != nil {
			s.sideChannelFailed(ctx, "notification", st.ID, err)
		}
	}
}

func (s *SettlementAppService) sideChannelFailed(ctx context.Context, channel, settlementID string, err error) {
	s.deps.Metrics.SideChannelFailures.WithLabelValues(channel).Inc()
	s.logger.WarnContext(ctx, "side channel failed, mutation kept",
		"channel", channel, "settlement_id", settlementID, "error", err)
}

// observeReconciliation 记录对账结果指标
func (s *SettlementAppService) observeReconciliation(o *domain.ReconciliationOutcome) {
	outcome := "agreed"
	if o.RequiresReview {
		outcome = "requires_review"
	}
	s.deps.Metrics.Reconciliations.WithLabelValues(string(o.Kind), outcome).Inc()
	diff, _ := o.Disagreement.Float64()
	s.deps.Metrics.ReconciliationDisagreement.WithLabelValues(string(o.Kind)).Observe(diff)
}
