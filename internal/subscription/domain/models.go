package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused    SubscriptionStatus = "PAUSED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

// Subscription binds a customer to a plan with agreed terms. The agreed
// price may differ from the plan list price; AdditionalCharge and Discount
// adjust each renewal amount. Money columns are minor units.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	CompanyID          snowflake.ID       `gorm:"not null;index" json:"company_id"`
	CustomerID         snowflake.ID       `gorm:"not null;index" json:"customer_id"`
	PlanID             snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	AgreedMonthlyPrice int64              `gorm:"column:agreed_monthly_price;not null" json:"agreed_monthly_price"`
	AdditionalCharge   int64              `gorm:"column:additional_charge;not null;default:0" json:"additional_charge"`
	Discount           int64              `gorm:"column:discount;not null;default:0" json:"discount"`
	BillingCycleValue  int                `gorm:"column:billing_cycle_value;not null;default:1" json:"billing_cycle_value"`
	Status             SubscriptionStatus `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	StartDate          time.Time          `gorm:"column:start_date;not null" json:"start_date"`
	LastRenewalDate    *time.Time         `gorm:"column:last_renewal_date" json:"last_renewal_date,omitempty"`
	NextRenewalDate    *time.Time         `gorm:"column:next_renewal_date;index" json:"next_renewal_date,omitempty"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// RenewalAmount is the charge for one billing period. The additional charge
// and discount apply per month, so the net monthly rate is multiplied by the
// cycle length. Never below zero.
func (s Subscription) RenewalAmount() int64 {
	months := int64(s.BillingCycleValue)
	if months <= 0 {
		months = 1
	}
	amount := (s.AgreedMonthlyPrice + s.AdditionalCharge - s.Discount) * months
	if amount < 0 {
		return 0
	}
	return amount
}
