package milestones

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
)

func ms(pt ProductType, total, paid int64) Milestone {
	return Milestone{
		ProductType:   pt,
		DisplayName:   string(pt),
		TotalAmount:   decimal.NewFromInt(total),
		TotalPaid:     decimal.NewFromInt(paid),
		PendingAmount: decimal.NewFromInt(total - paid),
	}
}

func sampleCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]Milestone{
		ms(ProductFET, 3000, 0),
		ms(ProductRegistration, 1000, 1000),
		ms(ProductTrigger, 2000, 500),
		ms(ProductDayOne, 1500, 0),
	})
	require.NoError(t, err)
	return c
}

func productTypes(items []Milestone) []ProductType {
	out := make([]ProductType, 0, len(items))
	for _, m := range items {
		out = append(out, m.ProductType)
	}
	return out
}

func TestNewCatalogSortsCanonically(t *testing.T) {
	c := sampleCatalog(t)
	assert.Equal(t,
		[]ProductType{ProductRegistration, ProductDayOne, ProductTrigger, ProductFET},
		productTypes(c.All()))
}

func TestNewCatalogUnknownTypesSortLast(t *testing.T) {
	c, err := NewCatalog([]Milestone{ms("ZZZ_EXTRA", 10, 0), ms("AAA_EXTRA", 10, 0), ms(ProductFET, 10, 0)})
	require.NoError(t, err)
	assert.Equal(t, []ProductType{ProductFET, "AAA_EXTRA", "ZZZ_EXTRA"}, productTypes(c.All()))
}

func TestNewCatalogValidation(t *testing.T) {
	bad := ms(ProductTrigger, 2000, 500)
	bad.PendingAmount = decimal.NewFromInt(1000)

	cases := []struct {
		name  string
		items []Milestone
		want  error
	}{
		{"pending mismatch", []Milestone{bad}, ErrInvalidMilestone},
		{"overpaid", []Milestone{{ProductType: ProductFET, TotalAmount: decimal.NewFromInt(10), TotalPaid: decimal.NewFromInt(20), PendingAmount: decimal.NewFromInt(-10)}}, ErrInvalidMilestone},
		{"negative total", []Milestone{ms(ProductFET, -5, 0)}, ErrInvalidMilestone},
		{"empty product", []Milestone{ms("", 10, 0)}, ErrInvalidMilestone},
		{"duplicate", []Milestone{ms(ProductFET, 10, 0), ms(ProductFET, 20, 0)}, ErrDuplicateMilestone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCatalog(tc.items)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPendingAndSettled(t *testing.T) {
	c := sampleCatalog(t)
	assert.Equal(t, []ProductType{ProductDayOne, ProductTrigger, ProductFET}, productTypes(c.Pending()))
	assert.Equal(t, []ProductType{ProductRegistration}, productTypes(c.Settled()))

	reg, ok := c.Lookup("REGISTRATION")
	require.True(t, ok)
	assert.True(t, reg.TotalPaid.Equal(decimal.NewFromInt(1000)))
	assert.ErrorIs(t, c.Selectable("REGISTRATION"), ErrSettled)
	assert.ErrorIs(t, c.Selectable("FREEZING"), ErrNotFound)
	assert.NoError(t, c.Selectable("TRIGGER"))
}

func TestEffectivePayable(t *testing.T) {
	m := ms(ProductTrigger, 2000, 500)
	sel := billing.NewPayableSelection()

	assert.True(t, EffectivePayable(m, sel, true).Equal(decimal.NewFromInt(1500)), "admin without entry pays in full")

	sel.Set(m.Key(), decimal.NewFromInt(400), m.PendingAmount)
	assert.True(t, EffectivePayable(m, sel, true).Equal(decimal.NewFromInt(400)))
	assert.True(t, EffectivePayable(m, sel, false).Equal(decimal.NewFromInt(1500)), "non-admin ignores entry")

	sel.Set(m.Key(), decimal.NewFromInt(9000), m.PendingAmount)
	assert.True(t, EffectivePayable(m, sel, true).Equal(decimal.NewFromInt(1500)))

	sel.Set(m.Key(), decimal.NewFromInt(-3), m.PendingAmount)
	assert.True(t, EffectivePayable(m, sel, true).IsZero())
}

func TestPayables(t *testing.T) {
	c := sampleCatalog(t)
	sel := billing.NewPayableSelection()
	sel.Set("FET", decimal.NewFromInt(1200), decimal.NewFromInt(3000))

	got, err := c.Payables([]billing.Key{"FET", "DAY_ONE"}, sel, true)
	require.NoError(t, err)
	assert.True(t, got["FET"].Equal(decimal.NewFromInt(1200)))
	assert.True(t, got["DAY_ONE"].Equal(decimal.NewFromInt(1500)))

	_, err = c.Payables(nil, sel, true)
	assert.ErrorIs(t, err, billing.ErrNothingSelected)
	_, err = c.Payables([]billing.Key{"REGISTRATION"}, sel, false)
	assert.ErrorIs(t, err, ErrSettled)
}

func TestDateColumnAndRank(t *testing.T) {
	assert.Equal(t, "triggerDate", DateColumn(ProductTrigger))
	assert.Equal(t, "CUSTOM", DateColumn("CUSTOM"))
	assert.Less(t, Rank(ProductRegistration), Rank(ProductFET))
	assert.Equal(t, len(canonicalOrder), Rank("CUSTOM"))

	c := sampleCatalog(t)
	assert.Equal(t, Rank(ProductTrigger), c.Rank("TRIGGER"))
}
