package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionDirection represents debit or credit postings against a
// customer balance. A DEBIT raises what the customer owes, a CREDIT lowers
// it.
type TransactionDirection string

const (
	TransactionDirectionDebit  TransactionDirection = "DEBIT"
	TransactionDirectionCredit TransactionDirection = "CREDIT"
)

type TransactionType string

const (
	// ======================
	// Charges
	// ======================
	TransactionTypeInvoice        TransactionType = "INVOICE"         // subscription invoice charge
	TransactionTypeBillGeneration TransactionType = "BILL_GENERATION" // ad-hoc bill with caller items
	TransactionTypeAddOnBill      TransactionType = "ADD_ON_BILL"     // one-off add-on charge

	// ======================
	// Collections
	// ======================
	TransactionTypePayment TransactionType = "PAYMENT" // collected payment

	// ======================
	// Corrections
	// ======================
	TransactionTypeBalanceAdjustment TransactionType = "BALANCE_ADJUSTMENT" // manual balance correction

	// ======================
	// Pending charges (no operation emits these today)
	// ======================
	TransactionTypePendingChargeAdded   TransactionType = "PENDING_CHARGE_ADDED"
	TransactionTypePendingChargeApplied TransactionType = "PENDING_CHARGE_APPLIED"
)

// Valid reports whether t is a member of the closed transaction type set.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeInvoice,
		TransactionTypeBillGeneration,
		TransactionTypeAddOnBill,
		TransactionTypePayment,
		TransactionTypeBalanceAdjustment,
		TransactionTypePendingChargeAdded,
		TransactionTypePendingChargeApplied:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusActive TransactionStatus = "ACTIVE"
	TransactionStatusVoided TransactionStatus = "VOIDED"
)

type ReferenceType string

const (
	ReferenceTypeNone    ReferenceType = "NONE"
	ReferenceTypeInvoice ReferenceType = "INVOICE"
	ReferenceTypePayment ReferenceType = "PAYMENT"
)

// Reference points a transaction at the document it settles or bills.
// Transactions are inserted without a reference and patched once the
// document row exists.
type Reference struct {
	Type ReferenceType
	ID   snowflake.ID
}

func NoReference() Reference {
	return Reference{Type: ReferenceTypeNone}
}

func InvoiceReference(id snowflake.ID) Reference {
	return Reference{Type: ReferenceTypeInvoice, ID: id}
}

func PaymentReference(id snowflake.ID) Reference {
	return Reference{Type: ReferenceTypePayment, ID: id}
}

// Transaction is one link in a customer's balance chain. Amounts are minor
// units. BalanceBefore must equal the balance_after of the previous active
// transaction in (transaction_date, id) order.
type Transaction struct {
	ID              snowflake.ID         `gorm:"primaryKey" json:"id"`
	CompanyID       snowflake.ID         `gorm:"not null;index" json:"company_id"`
	CustomerID      snowflake.ID         `gorm:"not null;index:ix_transactions_chain,priority:1" json:"customer_id"`
	Type            TransactionType      `gorm:"type:text;not null" json:"type"`
	Direction       TransactionDirection `gorm:"type:text;not null" json:"direction"`
	Amount          int64                `gorm:"not null" json:"amount"`
	BalanceBefore   int64                `gorm:"column:balance_before;not null" json:"balance_before"`
	BalanceAfter    int64                `gorm:"column:balance_after;not null" json:"balance_after"`
	Description     string               `gorm:"column:description;not null;default:''" json:"description"`
	ReferenceType   ReferenceType        `gorm:"column:reference_type;type:text;not null;default:'NONE'" json:"reference_type"`
	ReferenceID     *snowflake.ID        `gorm:"column:reference_id" json:"reference_id,omitempty"`
	TransactionDate time.Time            `gorm:"column:transaction_date;not null;index:ix_transactions_chain,priority:2" json:"transaction_date"`
	RecordedAt      time.Time            `gorm:"column:recorded_at;not null" json:"recorded_at"`
	CreatedBy       *snowflake.ID        `gorm:"column:created_by" json:"created_by,omitempty"`
	Status          TransactionStatus    `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	VoidedAt        *time.Time           `gorm:"column:voided_at" json:"voided_at,omitempty"`
	CreatedAt       time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Reference reassembles the stored reference columns.
func (t Transaction) Reference() Reference {
	if t.ReferenceType == "" || t.ReferenceType == ReferenceTypeNone || t.ReferenceID == nil {
		return NoReference()
	}
	return Reference{Type: t.ReferenceType, ID: *t.ReferenceID}
}

// ApplyDirection computes the balance after posting amount in the given
// direction. Credits never push the balance below zero; overpayment is
// clamped.
func ApplyDirection(before int64, direction TransactionDirection, amount int64) int64 {
	if direction == TransactionDirectionDebit {
		return before + amount
	}
	after := before - amount
	if after < 0 {
		return 0
	}
	return after
}
