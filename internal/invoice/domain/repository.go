package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository exposes the invoice writes used inside billing transactions and
// the reads behind the list/get endpoints.
type Repository interface {
	// NextInvoiceNumber allocates the next per-company sequence value. Must
	// run inside a transaction holding the customer chain lock so concurrent
	// billing cannot allocate the same number twice.
	NextInvoiceNumber(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (int64, error)
	Insert(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	InsertItems(ctx context.Context, tx *gorm.DB, items []InvoiceItem) error
	Deactivate(ctx context.Context, tx *gorm.DB, companyID, invoiceID snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*Invoice, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, companyID, transactionID snowflake.ID) (*Invoice, error)
	ItemsByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	List(ctx context.Context, db *gorm.DB, companyID snowflake.ID, filter ListInvoiceRequest, page pagination.Pagination) ([]*Invoice, error)
}
