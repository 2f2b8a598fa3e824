package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

func TestNewSaleSettlement(t *testing.T) {
	s := newSale(t, domain.KindConcentrateSale)

	assert.Equal(t, domain.StatePendingApproval, s.State)
	assert.True(t, dec("15.5").Equal(s.Weight))
	assert.Equal(t, domain.CounterpartyTrading, s.Counterparty.Type())
	for _, l := range s.Items {
		assert.Equal(t, "LIQ-1", l.SettlementID)
		assert.Equal(t, domain.ItemConcentrate, l.ItemType)
	}
	assert.Len(t, s.ObservationEntries(), 1)

	events := s.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCreated, events[0].Type)
	assert.Empty(t, s.PullEvents())
}

func TestNewSaleSettlement_Guards(t *testing.T) {
	items := func() []*domain.ItemLink { return []*domain.ItemLink{{ItemID: "I1", Weight: dec("1")}} }
	cp := domain.TradingCompany{ID: "C1"}

	_, err := domain.NewSaleSettlement("LIQ-1", domain.KindToll, "S1", cp, "Pb", "USD", now, items(), socio, now)
	assert.True(t, domain.IsValidation(err))

	_, err = domain.NewSaleSettlement("LIQ-1", domain.KindConcentrateSale, "S1", cp, "Pb", "USD", now, items(), buyer, now)
	assert.True(t, domain.IsForbidden(err))

	_, err = domain.NewSaleSettlement("LIQ-1", domain.KindConcentrateSale, "S1", cp, "Pb", "USD", now, nil, socio, now)
	assert.True(t, domain.IsValidation(err))

	bad := []*domain.ItemLink{{ItemID: "I1", Weight: dec("0")}}
	_, err = domain.NewSaleSettlement("LIQ-1", domain.KindConcentrateSale, "S1", cp, "Pb", "USD", now, bad, socio, now)
	assert.True(t, domain.IsValidation(err))

	dup := []*domain.ItemLink{{ItemID: "I1", Weight: dec("1")}, {ItemID: "I1", Weight: dec("2")}}
	_, err = domain.NewSaleSettlement("LIQ-1", domain.KindComplexLotSale, "S1", cp, "", "USD", now, dup, socio, now)
	assert.True(t, domain.IsValidation(err))
}

func TestSaleLifecycle(t *testing.T) {
	s := reconciled(t, domain.KindConcentrateSale)
	assert.Equal(t, domain.StateAwaitingClose, s.State)
	require.NotNil(t, s.Reconciliation)

	v := &domain.Valuation{Gross: dec("1000"), Pipeline: domain.PipelineResult{Gross: dec("1000"), Net: dec("900"), TotalDeducted: dec("100")}}
	require.NoError(t, s.Close(socio, v, now))
	assert.Equal(t, domain.StateClosed, s.State)
	assert.True(t, dec("900").Equal(s.NetValue))

	err := s.RegisterPayment(buyer, domain.Payment{Method: "transferencia"}, now)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, domain.StateClosed, s.State)
	assert.Nil(t, s.Payment)

	require.NoError(t, s.RegisterPayment(buyer, domain.Payment{Method: "transferencia", ReceiptNumber: "N-1", ReceiptURL: "https://x/r.pdf"}, now))
	assert.Equal(t, domain.StatePaid, s.State)
	require.NotNil(t, s.Payment)
	assert.Equal(t, now, s.Payment.PaidAt)

	trs := s.ItemTransitions()
	require.Len(t, trs, 2)
	assert.Equal(t, domain.ConcentrateInSale, trs[0].From)
	assert.Equal(t, domain.ConcentrateSold, trs[0].To)

	types := []string{}
	for _, e := range s.PullEvents() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		domain.EventCreated, domain.EventApproved, domain.EventReportsRequested,
		domain.EventReconciled, domain.EventClosed, domain.EventPaid,
	}, types)
	// 每次变更都追加观察日志
	assert.Len(t, s.ObservationEntries(), 7)
}

func TestTransitionLegality(t *testing.T) {
	tests := []struct {
		name string
		op   func(s *domain.Settlement) error
	}{
		{"close from pending", func(s *domain.Settlement) error { return s.Close(socio, &domain.Valuation{}, now) }},
		{"pay from pending", func(s *domain.Settlement) error {
			return s.RegisterPayment(buyer, domain.Payment{Method: "m", ReceiptNumber: "n", ReceiptURL: "u"}, now)
		}},
		{"reconcile from pending", func(s *domain.Settlement) error {
			return s.ApplyReconciliation(&domain.ReconciliationOutcome{Kind: domain.KindConcentrateSale}, buyer, now)
		}},
		{"report from pending", func(s *domain.Settlement) error {
			_, err := s.AcceptReport(socio, domain.PartySocio, "", "R", "RQ", now)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSale(t, domain.KindConcentrateSale)
			before := s.Observations
			err := tt.op(s)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
			var ite *domain.InvalidTransitionError
			if assert.ErrorAs(t, err, &ite) {
				assert.Equal(t, domain.StatePendingApproval, ite.Current)
				assert.Contains(t, err.Error(), "pendiente_aprobacion")
			}
			assert.Equal(t, domain.StatePendingApproval, s.State)
			assert.Equal(t, before, s.Observations)
		})
	}
}

func TestCounterpartyOnlyActions(t *testing.T) {
	s := newSale(t, domain.KindConcentrateSale)

	err := s.Approve(socio, now)
	assert.True(t, domain.IsForbidden(err))
	err = s.Approve(unknown, now)
	assert.True(t, domain.IsForbidden(err))
	assert.Equal(t, domain.StatePendingApproval, s.State)

	require.NoError(t, s.Approve(buyer, now))
	assert.NotNil(t, s.ApprovedAt)
}

func TestRejectCompensatesAndIsNotRepeatable(t *testing.T) {
	s := newSale(t, domain.KindComplexLotSale)

	err := s.Reject(buyer, "  ", now)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, domain.StatePendingApproval, s.State)

	require.NoError(t, s.Reject(buyer, "leyes bajas", now))
	assert.Equal(t, domain.StateRejected, s.State)
	assert.Equal(t, "leyes bajas", s.RejectionReason)

	trs := s.ItemTransitions()
	require.Len(t, trs, 2)
	for _, tr := range trs {
		assert.Equal(t, domain.LotInSale, tr.From)
		assert.Equal(t, domain.LotTransportComplete, tr.To)
	}

	err = s.Reject(buyer, "otra vez", now)
	var ite *domain.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, domain.StateRejected, ite.Current)
}

func TestTerminalFinality(t *testing.T) {
	paid := reconciled(t, domain.KindConcentrateSale)
	require.NoError(t, paid.Close(socio, &domain.Valuation{}, now))
	require.NoError(t, paid.RegisterPayment(buyer, domain.Payment{Method: "m", ReceiptNumber: "n", ReceiptURL: "u"}, now))

	rejected := newSale(t, domain.KindConcentrateSale)
	require.NoError(t, rejected.Reject(buyer, "no", now))

	for _, s := range []*domain.Settlement{paid, rejected} {
		state := s.State
		assert.True(t, state.IsTerminal())
		assert.Error(t, s.Approve(buyer, now))
		assert.Error(t, s.Reject(buyer, "x", now))
		_, err := s.AcceptReport(socio, domain.PartySocio, "", "R2", "RQ2", now)
		assert.Error(t, err)
		assert.Error(t, s.Close(socio, &domain.Valuation{}, now))
		assert.Error(t, s.RegisterPayment(buyer, domain.Payment{Method: "m", ReceiptNumber: "n", ReceiptURL: "u"}, now))
		assert.Error(t, s.MarkTollAwaitingPayment(buyer, now))
		assert.Equal(t, state, s.State)
	}

	for _, kind := range []domain.Kind{domain.KindToll, domain.KindConcentrateSale, domain.KindComplexLotSale} {
		for _, to := range []domain.State{domain.StateApproved, domain.StateClosed, domain.StatePaid, domain.StateAwaitingPayment} {
			assert.False(t, domain.CanTransition(kind, domain.StatePaid, to))
			assert.False(t, domain.CanTransition(kind, domain.StateRejected, to))
		}
	}
}

func TestAcceptReport(t *testing.T) {
	s := newSale(t, domain.KindConcentrateSale)
	require.NoError(t, s.Approve(buyer, now))

	_, err := s.AcceptReport(socio, domain.PartySocio, "nope", "R1", "RQ1", now)
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, domain.StateApproved, s.State)

	link, err := s.AcceptReport(socio, domain.PartySocio, "I2", "R1", "RQ1", now)
	require.NoError(t, err)
	assert.Equal(t, "I2", link.ItemID)
	assert.Equal(t, domain.StateAwaitingReports, s.State)

	_, err = s.AcceptReport(socio, domain.PartySocio, "", "R2", "RQ2", now)
	var dup *domain.DuplicateSubmissionError
	require.ErrorAs(t, err, &dup)
	assert.True(t, domain.IsConflict(err))

	_, err = s.AcceptReport(buyer, domain.PartyCounterparty, "I2", "R3", "RQ3", now)
	require.NoError(t, err)
	sr, cr := s.ReportIDs()
	require.NotNil(t, sr)
	require.NotNil(t, cr)
	assert.Equal(t, "R1", *sr)
	assert.Equal(t, "R3", *cr)
	assert.Equal(t, domain.StateAwaitingReports, s.State)
}

func TestPartyOf(t *testing.T) {
	s := newSale(t, domain.KindConcentrateSale)

	p, err := s.PartyOf(socio)
	require.NoError(t, err)
	assert.Equal(t, domain.PartySocio, p)

	p, err = s.PartyOf(buyer)
	require.NoError(t, err)
	assert.Equal(t, domain.PartyCounterparty, p)

	_, err = s.PartyOf(unknown)
	assert.True(t, domain.IsForbidden(err))
}

func TestTollLifecycle(t *testing.T) {
	items := []*domain.ItemLink{{ItemID: "K1", Weight: dec("3")}}
	_, err := domain.NewTollSettlement("LIQ-2", "S1", domain.ProcessingPlant{ID: "P1"}, "BOB", now, dec("1500"), items, socio, now)
	assert.True(t, domain.IsForbidden(err))

	s, err := domain.NewTollSettlement("LIQ-2", "S1", domain.ProcessingPlant{ID: "P1"}, "BOB", now, dec("1500.456"), items, plant, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingProcessing, s.State)
	assert.True(t, dec("1500.46").Equal(s.GrossValue))
	assert.True(t, s.GrossValue.Equal(s.NetValue))

	pay := domain.Payment{Method: "efectivo", ReceiptNumber: "R-9", ReceiptURL: "https://r"}
	err = s.RegisterTollPayment(socio, pay, now)
	assert.True(t, domain.IsValidation(err))

	assert.True(t, domain.IsForbidden(s.MarkTollAwaitingPayment(socio, now)))
	require.NoError(t, s.MarkTollAwaitingPayment(plant, now))
	assert.Equal(t, domain.StateAwaitingPayment, s.State)

	assert.True(t, domain.IsValidation(s.RegisterPayment(plant, pay, now)))
	assert.True(t, domain.IsForbidden(s.RegisterTollPayment(plant, pay, now)))
	require.NoError(t, s.RegisterTollPayment(socio, pay, now))
	assert.Equal(t, domain.StatePaid, s.State)

	trs := s.ItemTransitions()
	require.Len(t, trs, 1)
	assert.Equal(t, domain.ConcentrateAwaitingPayment, trs[0].From)
	assert.Equal(t, domain.ConcentrateReadyForSale, trs[0].To)
}

func TestCloseRequiresSocio(t *testing.T) {
	s := reconciled(t, domain.KindComplexLotSale)
	assert.True(t, domain.IsForbidden(s.Close(buyer, &domain.Valuation{}, now)))
	assert.Equal(t, domain.StateAwaitingClose, s.State)
}
