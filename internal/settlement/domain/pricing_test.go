package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
)

var buyerCP = domain.TradingCompany{ID: "C1"}

func bracket(id uint64, mineral, min, max, price string, from time.Time, to *time.Time) domain.PriceBracket {
	return domain.PriceBracket{
		ID:           id,
		Counterparty: buyerCP,
		Mineral:      mineral,
		MinValue:     dec(min),
		MaxValue:     dec(max),
		PriceUSD:     dec(price),
		ValidFrom:    from,
		ValidTo:      to,
		Active:       true,
	}
}

func ptime(t time.Time) *time.Time { return &t }

func TestCheckOverlap(t *testing.T) {
	from, to := date(2025, 1, 1), ptime(date(2025, 12, 31))
	existing := []domain.PriceBracket{bracket(1, "Pb", "15", "25", "1000", from, to)}

	err := domain.CheckOverlap(bracket(0, "Pb", "10", "20", "900", from, to), existing)
	var overlap *domain.BracketOverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, uint64(1), overlap.Existing.ID)
	assert.True(t, domain.IsConflict(err))
	assert.Contains(t, err.Error(), "#1")

	existing = []domain.PriceBracket{bracket(1, "Pb", "20", "30", "1000", from, to)}
	assert.NoError(t, domain.CheckOverlap(bracket(0, "Pb", "10", "20", "900", from, to), existing))
}

func TestCheckOverlap_Scope(t *testing.T) {
	from, to := date(2025, 1, 1), ptime(date(2025, 6, 30))
	candidate := bracket(0, "Pb", "10", "20", "900", from, to)

	tests := []struct {
		name     string
		existing domain.PriceBracket
		conflict bool
	}{
		{"other mineral", bracket(1, "Zn", "10", "20", "1", from, to), false},
		{"inactive", func() domain.PriceBracket {
			b := bracket(1, "Pb", "10", "20", "1", from, to)
			b.Active = false
			return b
		}(), false},
		{"other counterparty", func() domain.PriceBracket {
			b := bracket(1, "Pb", "10", "20", "1", from, to)
			b.Counterparty = domain.TradingCompany{ID: "C2"}
			return b
		}(), false},
		{"disjoint window", bracket(1, "Pb", "10", "20", "1", date(2025, 7, 1), nil), false},
		{"touching window end day", bracket(1, "Pb", "10", "20", "1", date(2025, 6, 30), nil), true},
		{"open ended earlier", bracket(1, "Pb", "0", "11", "1", date(2020, 1, 1), nil), true},
		{"self", bracket(7, "Pb", "10", "20", "1", from, to), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := candidate
			if tt.name == "self" {
				c.ID = 7
			}
			err := domain.CheckOverlap(c, []domain.PriceBracket{tt.existing})
			assert.Equal(t, tt.conflict, err != nil, "err=%v", err)
		})
	}
}

func TestPriceBracketValidate(t *testing.T) {
	b := bracket(0, "Pb", "10", "20", "100", date(2025, 1, 1), nil)
	require.NoError(t, b.Validate())

	bad := b
	bad.MaxValue = dec("10")
	assert.True(t, domain.IsValidation(bad.Validate()))

	bad = b
	bad.ValidTo = ptime(date(2024, 12, 31))
	assert.True(t, domain.IsValidation(bad.Validate()))

	bad = b
	bad.PriceUSD = dec("-1")
	assert.True(t, domain.IsValidation(bad.Validate()))
}

func TestFindBracket(t *testing.T) {
	brackets := []domain.PriceBracket{
		bracket(1, "Pb", "0", "50", "1500", date(2025, 1, 1), nil),
		bracket(2, "Pb", "50", "100", "2000", date(2025, 1, 1), nil),
		bracket(3, "Pb", "50", "100", "2500", date(2026, 1, 1), nil),
	}

	b, ok := domain.FindBracket(brackets, "Pb", dec("50"), date(2025, 5, 1))
	require.True(t, ok)
	assert.Equal(t, uint64(2), b.ID)

	b, ok = domain.FindBracket(brackets, "Pb", dec("49.99"), date(2025, 5, 1))
	require.True(t, ok)
	assert.Equal(t, uint64(1), b.ID)

	_, ok = domain.FindBracket(brackets, "Pb", dec("100"), date(2025, 5, 1))
	assert.False(t, ok)

	_, ok = domain.FindBracket(brackets, "Pb", dec("10"), date(2024, 12, 31))
	assert.False(t, ok)
}

func TestCurrentPrice(t *testing.T) {
	brackets := []domain.PriceBracket{
		bracket(1, "Zn", "0", "50", "1500", date(2025, 1, 1), nil),
		bracket(2, "Zn", "50", "100", "2100", date(2025, 1, 1), nil),
		bracket(3, "Pb", "50", "100", "9999", date(2025, 1, 1), nil),
	}
	assert.True(t, dec("2100").Equal(domain.CurrentPrice(brackets, "Zn")))
	assert.True(t, domain.CurrentPrice(brackets, "Sn").IsZero())
}

func TestValidateCatalog(t *testing.T) {
	at := date(2025, 5, 1)
	brackets := []domain.PriceBracket{
		bracket(1, "Pb", "0", "30", "1", date(2025, 1, 1), nil),
		bracket(2, "Pb", "35", "100", "1", date(2025, 1, 1), nil),
		bracket(3, "Zn", "0", "60", "1", date(2025, 1, 1), nil),
		bracket(4, "Ag", "0", "100", "1", date(2024, 1, 1), ptime(date(2024, 12, 31))),
	}

	report := domain.ValidateCatalog(brackets, []string{"Pb", "Zn", "Ag"}, domain.DefaultBracketCeiling, at)

	assert.False(t, report.Valid)
	assert.Equal(t, map[string]int{"Pb": 2, "Zn": 1, "Ag": 0}, report.Counts)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Ag")
	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], "Pb")
	assert.Contains(t, report.Warnings[1], "Zn")

	ok := domain.ValidateCatalog(brackets[:2], []string{"Pb"}, domain.DefaultBracketCeiling, at)
	assert.True(t, ok.Valid)
	assert.Len(t, ok.Warnings, 1)
}
