package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*Subscription, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, companyID, customerID snowflake.ID) ([]Subscription, error)
	// ClaimDueForRenewal locks and returns subscriptions whose next renewal
	// is at or before now. Rows locked by another worker are skipped.
	ClaimDueForRenewal(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	UpdateRenewalDates(ctx context.Context, db *gorm.DB, sub *Subscription) error
}
