package mysql_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/internal/settlement/infrastructure/persistence/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	now   = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	socio = domain.Actor{UserID: "u-socio", Role: domain.RoleSocio, PartyID: "S1"}
	buyer = domain.Actor{UserID: "u-buyer", Role: domain.RoleComercializadora, PartyID: "C1"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pdec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, mysql.AutoMigrate(gdb))
	return gdb
}

func newSale(t *testing.T, id string, kind domain.Kind) *domain.Settlement {
	t.Helper()
	items := []*domain.ItemLink{
		{ID: id + "-L1", ItemID: id + "-I1", Weight: dec("10")},
		{ID: id + "-L2", ItemID: id + "-I2", Weight: dec("5.5")},
	}
	s, err := domain.NewSaleSettlement(id, kind, "S1", domain.TradingCompany{ID: "C1"}, "Pb", "USD", now, items, socio, now)
	require.NoError(t, err)
	return s
}

func TestSettlementRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewSettlementRepo(newTestDB(t))

	s := newSale(t, "LIQ-1", domain.KindConcentrateSale)
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.Get(ctx, "LIQ-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingApproval, got.State)
	assert.Equal(t, domain.KindConcentrateSale, got.Kind)
	assert.Equal(t, "C1", got.Counterparty.PartyID())
	assert.Equal(t, domain.CounterpartyTrading, got.Counterparty.Type())
	assert.True(t, got.Weight.Equal(dec("15.5")))
	require.Len(t, got.Items, 2)
	assert.Equal(t, domain.ItemConcentrate, got.Items[0].ItemType)
	assert.Nil(t, got.Reconciliation)

	_, err = repo.Get(ctx, "LIQ-404")
	assert.True(t, domain.IsNotFound(err))
}

func TestSettlementRepo_UpdateMergesExtras(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewSettlementRepo(newTestDB(t))

	s := newSale(t, "LIQ-1", domain.KindConcentrateSale)
	s.Extras["canal"] = "web"
	require.NoError(t, repo.Save(ctx, s))

	loaded, err := repo.GetForUpdate(ctx, "LIQ-1")
	require.NoError(t, err)
	loaded.Extras = map[string]any{}
	loaded.State = domain.StateApproved
	loaded.Reconciliation = &domain.ReconciliationOutcome{
		Kind: domain.KindConcentrateSale,
		Concentrate: &domain.ConcentrateFields{
			PrincipalGrade: pdec("51"),
			SilverGradeGPT: pdec("300"),
			Moisture:       pdec("8"),
		},
		Disagreement: dec("2"),
		ReconciledAt: now,
	}
	require.NoError(t, repo.Update(ctx, loaded))

	got, err := repo.Get(ctx, "LIQ-1")
	require.NoError(t, err)
	assert.Equal(t, "web", got.Extras["canal"])
	assert.Equal(t, domain.StateApproved, got.State)
	require.NotNil(t, got.Reconciliation)
	assert.False(t, got.Reconciliation.RequiresReview)
	assert.True(t, got.Reconciliation.Disagreement.Equal(dec("2")))
	require.NotNil(t, got.Reconciliation.Concentrate)
	assert.True(t, got.Reconciliation.Concentrate.PrincipalGrade.Equal(dec("51")))
	assert.NotContains(t, got.Extras, "reporte_acordado")
}

func TestSettlementRepo_AppendsDeductionsAndQuotesOnce(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewSettlementRepo(newTestDB(t))
	require.NoError(t, repo.Save(ctx, newSale(t, "LIQ-1", domain.KindConcentrateSale)))

	loaded, err := repo.Get(ctx, "LIQ-1")
	require.NoError(t, err)
	loaded.Deductions = append(loaded.Deductions, domain.DeductionRecord{
		SettlementID: "LIQ-1",
		RuleCode:     "REGALIA",
		RuleVersion:  1,
		Concept:      "Regalía minera",
		Base:         domain.BaseGrossTotal,
		Percentage:   dec("5"),
		BaseAmount:   dec("17983.72"),
		Amount:       dec("899.19"),
		Order:        1,
		Currency:     "USD",
		CreatedAt:    now,
	})
	loaded.Quotes = append(loaded.Quotes, domain.QuoteSnapshot{
		SettlementID: "LIQ-1",
		Mineral:      "Pb",
		PriceUSD:     dec("2000"),
		Unit:         domain.UnitUSDPerFineTon,
		Source:       "tabla_precios:1",
		QuoteDate:    now,
	})
	require.NoError(t, repo.Update(ctx, loaded))
	assert.NotZero(t, loaded.Deductions[0].ID)
	assert.NotZero(t, loaded.Quotes[0].ID)

	again, err := repo.Get(ctx, "LIQ-1")
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, again))

	got, err := repo.Get(ctx, "LIQ-1")
	require.NoError(t, err)
	require.Len(t, got.Deductions, 1)
	require.Len(t, got.Quotes, 1)
	assert.Equal(t, "REGALIA", got.Deductions[0].RuleCode)
	assert.True(t, got.Deductions[0].Amount.Equal(dec("899.19")))
	assert.True(t, got.Quotes[0].PriceUSD.Equal(dec("2000")))
}

func TestSettlementRepo_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewSettlementRepo(newTestDB(t))
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, repo.Save(txCtx, newSale(t, "LIQ-1", domain.KindConcentrateSale)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.Get(ctx, "LIQ-1")
	assert.True(t, domain.IsNotFound(err))
}

func TestSettlementRepo_List(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewSettlementRepo(newTestDB(t))
	require.NoError(t, repo.Save(ctx, newSale(t, "LIQ-1", domain.KindConcentrateSale)))
	require.NoError(t, repo.Save(ctx, newSale(t, "LIQ-2", domain.KindComplexLotSale)))
	require.NoError(t, repo.Save(ctx, newSale(t, "LIQ-3", domain.KindConcentrateSale)))

	out, total, err := repo.List(ctx, domain.SettlementFilter{Kind: domain.KindConcentrateSale}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, out, 1)

	out, total, err = repo.List(ctx, domain.SettlementFilter{SocioID: "S1", CounterpartyID: "C1"}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, out, 3)

	_, total, err = repo.List(ctx, domain.SettlementFilter{SocioID: "S2"}, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func labReport(id, number string, party domain.ReportParty) *domain.LabReport {
	return &domain.LabReport{
		ID:             id,
		Number:         number,
		SettlementID:   "LIQ-1",
		SubmittedBy:    party,
		Kind:           domain.KindConcentrateSale,
		PrincipalGrade: pdec("50"),
		SilverGradeGPT: pdec("300"),
		Moisture:       pdec("8"),
		CreatedAt:      now,
	}
}

func TestLabReportRepo_OnePerParty(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewLabReportRepo(newTestDB(t))

	require.NoError(t, repo.Save(ctx, labReport("R1", "RQ-1", domain.PartySocio)))

	err := repo.Save(ctx, labReport("R2", "RQ-2", domain.PartySocio))
	var dup *domain.DuplicateSubmissionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, domain.PartySocio, dup.Party)

	err = repo.Save(ctx, labReport("R3", "RQ-1", domain.PartyCounterparty))
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
	assert.False(t, errors.As(err, &dup))

	found, err := repo.FindByParty(ctx, "LIQ-1", domain.PartySocio)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.PrincipalGrade.Equal(dec("50")))

	missing, err := repo.FindByParty(ctx, "LIQ-1", domain.PartyCounterparty)
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := repo.ListBySettlement(ctx, "LIQ-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeductionRuleRepo_Versions(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewDeductionRuleRepo(newTestDB(t))

	latest, err := repo.LatestVersion(ctx, "REGALIA")
	require.NoError(t, err)
	assert.Zero(t, latest)

	rule := func(version int, from time.Time) *domain.DeductionRule {
		return &domain.DeductionRule{
			Code:       "REGALIA",
			Version:    version,
			Concept:    "Regalía minera",
			Percentage: dec("5"),
			Base:       domain.BaseGrossTotal,
			Active:     true,
			Order:      1,
			ValidFrom:  from,
			CreatedAt:  now,
		}
	}
	require.NoError(t, repo.Create(ctx, rule(1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, repo.Create(ctx, rule(2, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))))

	latest, err = repo.LatestVersion(ctx, "REGALIA")
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	err = repo.Create(ctx, rule(2, now))
	assert.True(t, domain.IsConflict(err))

	effective, err := repo.ListEffective(ctx, now)
	require.NoError(t, err)
	require.Len(t, effective, 1)
	assert.Equal(t, 1, effective[0].Version)

	history, err := repo.ListByCode(ctx, "REGALIA")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[1].Version)
}

func TestPriceBracketRepo_Scope(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewPriceBracketRepo(newTestDB(t))
	trader := domain.TradingCompany{ID: "C1"}
	plant := domain.ProcessingPlant{ID: "P1"}

	bracket := func(cp domain.Counterparty, min, max, price string) *domain.PriceBracket {
		return &domain.PriceBracket{
			Counterparty: cp,
			Mineral:      "Pb",
			MinValue:     dec(min),
			MaxValue:     dec(max),
			PriceUSD:     dec(price),
			ValidFrom:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Active:       true,
		}
	}
	a := bracket(trader, "40", "60", "2000")
	require.NoError(t, repo.Save(ctx, a))
	assert.NotZero(t, a.ID)
	require.NoError(t, repo.Save(ctx, bracket(trader, "60", "100", "2100")))
	require.NoError(t, repo.Save(ctx, bracket(plant, "40", "60", "1900")))

	scope, err := repo.ListScope(ctx, trader, "Pb", true)
	require.NoError(t, err)
	require.Len(t, scope, 2)
	assert.True(t, scope[0].MinValue.Equal(dec("40")))

	a.Active = false
	require.NoError(t, repo.Save(ctx, a))
	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, trader, got.Counterparty)

	byMineral, err := repo.ListByMineral(ctx, "Pb")
	require.NoError(t, err)
	assert.Len(t, byMineral, 3)

	byPlant, err := repo.ListByCounterparty(ctx, plant)
	require.NoError(t, err)
	assert.Len(t, byPlant, 1)

	_, err = repo.Get(ctx, 999)
	assert.True(t, domain.IsNotFound(err))
}

func TestItemStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := mysql.NewItemStore(newTestDB(t))
	require.NoError(t, store.Register(ctx, domain.PhysicalItem{
		ID: "I1", Type: domain.ItemConcentrate, SocioID: "S1",
		State: domain.ConcentrateReadyForSale, Mineral: "Pb", Weight: dec("10"),
	}))

	require.NoError(t, store.UpdateState(ctx, domain.ItemConcentrate, "I1", domain.ConcentrateReadyForSale, domain.ConcentrateInSale))
	item, err := store.Get(ctx, domain.ItemConcentrate, "I1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConcentrateInSale, item.State)

	err = store.UpdateState(ctx, domain.ItemConcentrate, "I1", domain.ConcentrateReadyForSale, domain.ConcentrateInSale)
	assert.True(t, domain.IsValidation(err))

	_, err = store.Get(ctx, domain.ItemLot, "I1")
	assert.True(t, domain.IsNotFound(err))

	err = store.UpdateState(ctx, domain.ItemLot, "missing", domain.LotInSale, domain.LotSold)
	assert.True(t, domain.IsNotFound(err))
}

func TestAuditRepo_Record(t *testing.T) {
	ctx := context.Background()
	repo := mysql.NewAuditRepo(newTestDB(t))

	require.NoError(t, repo.Record(ctx, domain.AuditEntry{
		Actor:    buyer,
		Entity:   "liquidacion",
		EntityID: "LIQ-1",
		Action:   "aprobar",
		Before:   map[string]any{"estado": "pendiente_aprobacion"},
		After:    map[string]any{"estado": "aprobado"},
		IP:       "10.0.0.2",
		At:       now,
	}))

	entries, err := repo.ListByEntity(ctx, "liquidacion", "LIQ-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "aprobar", entries[0].Action)
	assert.Equal(t, "C1", entries[0].PartyID)

	var after map[string]string
	require.NoError(t, json.Unmarshal(entries[0].After, &after))
	assert.Equal(t, "aprobado", after["estado"])
}
