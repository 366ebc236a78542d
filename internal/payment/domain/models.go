package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentMethod string

const (
	PaymentMethodUPI          PaymentMethod = "UPI"
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCheque       PaymentMethod = "CHEQUE"
	PaymentMethodOnline       PaymentMethod = "ONLINE"
)

// Valid reports whether m is a member of the closed payment method set.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodUPI,
		PaymentMethodCash,
		PaymentMethodCard,
		PaymentMethodBankTransfer,
		PaymentMethodCheque,
		PaymentMethodOnline:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusActive PaymentStatus = "ACTIVE"
	PaymentStatusVoided PaymentStatus = "VOIDED"
)

// Payment is the collection document behind a credit transaction. The
// ledger credit is amount minus discount. InvoiceID is informational; the
// credit settles the whole balance chain, not one invoice.
type Payment struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	CompanyID     snowflake.ID  `gorm:"not null;index" json:"company_id"`
	CustomerID    snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	TransactionID snowflake.ID  `gorm:"column:transaction_id;not null;uniqueIndex:ux_payments_transaction" json:"transaction_id"`
	PaymentNumber string        `gorm:"column:payment_number;not null;uniqueIndex:ux_payments_number" json:"payment_number"`
	InvoiceID     *snowflake.ID `gorm:"column:invoice_id;index" json:"invoice_id,omitempty"`
	Amount        int64         `gorm:"not null" json:"amount"`
	Discount      int64         `gorm:"not null;default:0" json:"discount"`
	Method        PaymentMethod `gorm:"type:text;not null" json:"method"`
	CollectedBy   *snowflake.ID `gorm:"column:collected_by" json:"collected_by,omitempty"`
	CollectedAt   time.Time     `gorm:"column:collected_at;not null" json:"collected_at"`
	Comments      string        `gorm:"type:text" json:"comments,omitempty"`
	Status        PaymentStatus `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }
