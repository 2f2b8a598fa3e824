package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

var (
	now     = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	socio   = domain.Actor{UserID: "u-socio", Role: domain.RoleSocio, PartyID: "S1"}
	buyer   = domain.Actor{UserID: "u-buyer", Role: domain.RoleComercializadora, PartyID: "C1"}
	plant   = domain.Actor{UserID: "u-plant", Role: domain.RolePlanta, PartyID: "P1"}
	unknown = domain.Actor{UserID: "u-other", Role: domain.RoleComercializadora, PartyID: "C9"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pdec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newSale(t *testing.T, kind domain.Kind) *domain.Settlement {
	t.Helper()
	items := []*domain.ItemLink{
		{ID: "L1", ItemID: "I1", Weight: dec("10")},
		{ID: "L2", ItemID: "I2", Weight: dec("5.5")},
	}
	s, err := domain.NewSaleSettlement("LIQ-1", kind, "S1", domain.TradingCompany{ID: "C1"}, "Pb", "USD", now, items, socio, now)
	require.NoError(t, err)
	return s
}

func concentrateReport(party domain.ReportParty, principal string) *domain.LabReport {
	return &domain.LabReport{
		ID:             "R-" + string(party),
		Number:         "RQ-" + string(party),
		SettlementID:   "LIQ-1",
		SubmittedBy:    party,
		Kind:           domain.KindConcentrateSale,
		PrincipalGrade: pdec(principal),
		SilverGradeGPT: pdec("300"),
		Moisture:       pdec("8"),
	}
}

func complexReport(party domain.ReportParty, lead string) *domain.LabReport {
	return &domain.LabReport{
		ID:            "R-" + string(party),
		Number:        "RQ-" + string(party),
		SettlementID:  "LIQ-1",
		SubmittedBy:   party,
		Kind:          domain.KindComplexLotSale,
		SilverGradeDM: pdec("10"),
		LeadGrade:     pdec(lead),
		ZincGrade:     pdec("12"),
	}
}

// reconciled 把销售结算推进到等待关闭
func reconciled(t *testing.T, kind domain.Kind) *domain.Settlement {
	t.Helper()
	s := newSale(t, kind)
	require.NoError(t, s.Approve(buyer, now))
	_, err := s.AcceptReport(socio, domain.PartySocio, "", "R-socio", "RQ-socio", now)
	require.NoError(t, err)
	_, err = s.AcceptReport(buyer, domain.PartyCounterparty, "", "R-contraparte", "RQ-contraparte", now)
	require.NoError(t, err)

	var a, b *domain.LabReport
	if kind == domain.KindConcentrateSale {
		a, b = concentrateReport(domain.PartySocio, "50"), concentrateReport(domain.PartyCounterparty, "52")
	} else {
		a, b = complexReport(domain.PartySocio, "20"), complexReport(domain.PartyCounterparty, "21")
	}
	out, err := domain.Reconcile(kind, a, b, domain.DefaultThresholds(), now)
	require.NoError(t, err)
	require.NoError(t, s.ApplyReconciliation(out, buyer, now))
	return s
}
