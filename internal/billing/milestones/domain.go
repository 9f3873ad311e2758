package milestones

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
)

// ProductType names a milestone within a treatment package.
type ProductType string

const (
	ProductRegistration ProductType = "REGISTRATION"
	ProductDayOne       ProductType = "DAY_ONE"
	ProductTrigger      ProductType = "TRIGGER"
	ProductFreezing     ProductType = "FREEZING"
	ProductFET          ProductType = "FET"
)

// canonicalOrder is the treatment sequence. Earlier milestones absorb
// discount first.
var canonicalOrder = []ProductType{
	ProductRegistration,
	ProductDayOne,
	ProductTrigger,
	ProductFreezing,
	ProductFET,
}

// dateColumns names the ledger column the order service stamps when the
// milestone is paid.
var dateColumns = map[ProductType]string{
	ProductRegistration: "registrationDate",
	ProductDayOne:       "dayOneDate",
	ProductTrigger:      "triggerDate",
	ProductFreezing:     "freezingDate",
	ProductFET:          "fetDate",
}

var (
	ErrInvalidMilestone   = errors.New("milestones: invalid milestone")
	ErrDuplicateMilestone = errors.New("milestones: duplicate product type")
	ErrNotFound           = errors.New("milestones: milestone not found")
	ErrSettled            = errors.New("milestones: milestone already settled")
)

// Milestone is a sequenced billing checkpoint of a treatment package.
type Milestone struct {
	ProductType   ProductType     `json:"productTypeEnum"`
	DisplayName   string          `json:"displayName"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	TotalPaid     decimal.Decimal `json:"totalPaid"`
	PendingAmount decimal.Decimal `json:"pendingAmount"`
	StartedDate   *time.Time      `json:"startedDate,omitempty"`
}

// Key returns the selection key of the milestone.
func (m Milestone) Key() billing.Key {
	return billing.Key(m.ProductType)
}

// Settled reports whether nothing is left to pay.
func (m Milestone) Settled() bool {
	return !m.PendingAmount.IsPositive()
}

// DateColumn returns the ledger column updated on payment.
func (m Milestone) DateColumn() string {
	return DateColumn(m.ProductType)
}

// DateColumn maps a product type to its ledger date column; unknown types
// fall back to the raw product type.
func DateColumn(pt ProductType) string {
	if col, ok := dateColumns[pt]; ok {
		return col
	}
	return string(pt)
}

// Rank returns the canonical position of pt. Unknown types sort after every
// known milestone.
func Rank(pt ProductType) int {
	for i, known := range canonicalOrder {
		if known == pt {
			return i
		}
	}
	return len(canonicalOrder)
}
