package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceType string

const (
	InvoiceTypeSubscription InvoiceType = "SUBSCRIPTION"
	InvoiceTypeAdjusted     InvoiceType = "ADJUSTED"
)

type InvoiceStatus string

const (
	InvoiceStatusActive InvoiceStatus = "ACTIVE"
	InvoiceStatusVoided InvoiceStatus = "VOIDED"
)

// Invoice is the billing document behind a debit transaction. Money columns
// are minor units. InvoiceNumber is a per-company sequence.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	CompanyID      snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoices_company_number,priority:1" json:"company_id"`
	CustomerID     snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	TransactionID  snowflake.ID  `gorm:"column:transaction_id;not null;uniqueIndex:ux_invoices_transaction" json:"transaction_id"`
	InvoiceNumber  int64         `gorm:"column:invoice_number;not null;uniqueIndex:ux_invoices_company_number,priority:2" json:"invoice_number"`
	Type           InvoiceType   `gorm:"type:text;not null" json:"type"`
	SubscriptionID *snowflake.ID `gorm:"column:subscription_id;index" json:"subscription_id,omitempty"`
	PeriodStart    *time.Time    `gorm:"column:period_start" json:"period_start,omitempty"`
	PeriodEnd      *time.Time    `gorm:"column:period_end" json:"period_end,omitempty"`
	Subtotal       int64         `gorm:"not null" json:"subtotal"`
	TaxAmount      int64         `gorm:"column:tax_amount;not null;default:0" json:"tax_amount"`
	Discount       int64         `gorm:"not null;default:0" json:"discount"`
	AmountTotal    int64         `gorm:"column:amount_total;not null" json:"amount_total"`
	PrevBalance    int64         `gorm:"column:prev_balance;not null;default:0" json:"prev_balance"`
	DueAt          *time.Time    `gorm:"column:due_at" json:"due_at,omitempty"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Items []InvoiceItem `gorm:"-" json:"items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is one ordered line on an invoice.
type InvoiceItem struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID snowflake.ID `gorm:"column:invoice_id;not null;index" json:"invoice_id"`
	Position  int          `gorm:"not null" json:"position"`
	Name      string       `gorm:"not null" json:"name"`
	Quantity  int64        `gorm:"not null;default:1" json:"quantity"`
	UnitPrice int64        `gorm:"column:unit_price;not null" json:"unit_price"`
	Amount    int64        `gorm:"not null" json:"amount"`
	Category  string       `gorm:"type:text" json:"category,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
