package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, payment *Payment) error
	Deactivate(ctx context.Context, tx *gorm.DB, companyID, paymentID snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*Payment, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, companyID, transactionID snowflake.ID) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, companyID snowflake.ID, filter ListPaymentRequest, page pagination.Pagination) ([]*Payment, error)
}
