package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/internal/subscription/domain"
	"github.com/smallbiznis/netbill/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, sub *domain.Subscription) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, company_id, customer_id, plan_id, agreed_monthly_price,
			additional_charge, discount, billing_cycle_value, status,
			start_date, last_renewal_date, next_renewal_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.CompanyID,
		sub.CustomerID,
		sub.PlanID,
		sub.AgreedMonthlyPrice,
		sub.AdditionalCharge,
		sub.Discount,
		sub.BillingCycleValue,
		sub.Status,
		sub.StartDate,
		sub.LastRenewalDate,
		sub.NextRenewalDate,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, companyID, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE company_id = ? AND id = ?`,
		companyID,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) ListByCustomer(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := tx.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("company_id = ? AND customer_id = ?", companyID, customerID).
		Order("created_at asc, id asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) ClaimDueForRenewal(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}

	var subs []domain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions
		 WHERE status = ? AND next_renewal_date IS NOT NULL AND next_renewal_date <= ?
		 ORDER BY next_renewal_date ASC
		 LIMIT ?`+db.SkipLockedClause(tx),
		domain.SubscriptionStatusActive,
		now.UTC(),
		limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) UpdateRenewalDates(ctx context.Context, tx *gorm.DB, sub *domain.Subscription) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET last_renewal_date = ?, next_renewal_date = ?, updated_at = ?
		 WHERE company_id = ? AND id = ?`,
		sub.LastRenewalDate,
		sub.NextRenewalDate,
		time.Now().UTC(),
		sub.CompanyID,
		sub.ID,
	).Error
}
