package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treatment-billing/internal/billing"
)

// Status enumerates line item states.
type Status string

const (
	StatusDue      Status = "DUE"
	StatusPaid     Status = "PAID"
	StatusOptedOut Status = "OPTED_OUT"
)

// Scope tells whether an item is billed to the patient or the spouse.
type Scope string

const (
	ScopePatient Scope = "PATIENT"
	ScopeSpouse  Scope = "SPOUSE"
)

// BillType categorises a bill group.
type BillType string

const (
	BillTypeLab      BillType = "LAB"
	BillTypeScan     BillType = "SCAN"
	BillTypePharmacy BillType = "PHARMACY"
	BillTypeOther    BillType = "OTHER"
)

var (
	ErrUnknownBillType = errors.New("ledger: unknown bill type")
	ErrInvalidStatus   = errors.New("ledger: invalid status")
	ErrInvalidScope    = errors.New("ledger: invalid scope")
	ErrItemNotFound    = errors.New("ledger: item not found")
	ErrDuplicateItem   = errors.New("ledger: duplicate item id")
)

// Valid reports whether the bill type is one of the known categories.
func (b BillType) Valid() bool {
	switch b {
	case BillTypeLab, BillTypeScan, BillTypePharmacy, BillTypeOther:
		return true
	}
	return false
}

// OptOutEligible reports whether items of this bill type may be opted out.
func (b BillType) OptOutEligible() bool {
	return b == BillTypeLab || b == BillTypeScan
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDue || s == StatusPaid || s == StatusOptedOut
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopePatient || s == ScopeSpouse
}

// LineItem is a single billable entry on a bill.
type LineItem struct {
	ID                 string          `json:"id"`
	RefID              string          `json:"refId"`
	Name               string          `json:"name"`
	Amount             decimal.Decimal `json:"amount"`
	Status             Status          `json:"status"`
	Scope              Scope           `json:"scope"`
	BillType           BillType        `json:"billTypeId"`
	PrescribedQuantity *int            `json:"prescribedQuantity,omitempty"`
}

// Key returns the selection key of the item.
func (i LineItem) Key() billing.Key {
	return billing.Key(i.ID)
}

// BillTypeGroup groups the items of one bill category.
type BillTypeGroup struct {
	BillTypeID   BillType   `json:"billTypeId"`
	BillTypeName string     `json:"billTypeName"`
	Items        []LineItem `json:"items"`
}

// Partitioned splits items by status.
type Partitioned struct {
	Due      []LineItem `json:"due"`
	Paid     []LineItem `json:"paid"`
	OptedOut []LineItem `json:"optedOut"`
}
