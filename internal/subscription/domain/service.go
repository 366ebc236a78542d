package domain

import (
	"context"
	"errors"
)

type CreateSubscriptionRequest struct {
	CustomerID         string `json:"customer_id"`
	PlanID             string `json:"plan_id"`
	AgreedMonthlyPrice *int64 `json:"agreed_monthly_price"`
	AdditionalCharge   int64  `json:"additional_charge"`
	Discount           int64  `json:"discount"`
	BillingCycleValue  int    `json:"billing_cycle_value"`
	StartDate          string `json:"start_date"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Subscription, error)
}

var (
	ErrInvalidCompany      = errors.New("invalid_company")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrInvalidStartDate    = errors.New("invalid_start_date")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("not_found")
)
