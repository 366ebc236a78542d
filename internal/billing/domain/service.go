package domain

import (
	"context"
	"errors"

	invoicedomain "github.com/smallbiznis/netbill/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/netbill/internal/payment/domain"
)

// BillingResult pairs a ledger transaction with the invoice it references.
type BillingResult struct {
	Transaction ledgerdomain.Transaction `json:"transaction"`
	Invoice     *invoicedomain.Invoice   `json:"invoice,omitempty"`
}

// GenerateBillResult additionally carries the settling payment when the
// caller asked to collect in the same unit.
type GenerateBillResult struct {
	Transaction ledgerdomain.Transaction  `json:"transaction"`
	Invoice     *invoicedomain.Invoice    `json:"invoice,omitempty"`
	Payment     *paymentdomain.Payment    `json:"payment,omitempty"`
	Settlement  *ledgerdomain.Transaction `json:"settlement,omitempty"`
}

type DeleteTransactionResult struct {
	Transaction ledgerdomain.Transaction `json:"transaction"`
	Invoice     *invoicedomain.Invoice   `json:"invoice,omitempty"`
	Payment     *paymentdomain.Payment   `json:"payment,omitempty"`
}

type BillItemInput struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Category  string `json:"category"`
}

type GenerateBillRequest struct {
	CustomerID      string          `json:"-"`
	Items           []BillItemInput `json:"items"`
	PeriodStart     string          `json:"period_start"`
	PeriodEnd       string          `json:"period_end"`
	TaxAmount       int64           `json:"tax_amount"`
	Discount        int64           `json:"discount"`
	TransactionDate string          `json:"transaction_date"`
	// PlanIDs optionally opens subscriptions for the billed plans in the
	// same unit.
	PlanIDs []string `json:"plan_ids"`
	// CollectNow settles the generated bill with a payment in the same
	// unit.
	CollectNow    bool   `json:"collect_now"`
	PaymentMethod string `json:"payment_method"`
}

type AddOnChargeRequest struct {
	CustomerID      string `json:"-"`
	Name            string `json:"name"`
	Amount          int64  `json:"amount"`
	TransactionDate string `json:"transaction_date"`
}

type AdjustBalanceRequest struct {
	CustomerID    string `json:"-"`
	TargetBalance int64  `json:"target_balance"`
	Comments      string `json:"comments"`
}

// Service orchestrates ledger, invoice, payment and subscription writes into
// single transactional units.
type Service interface {
	CreateInitialInvoice(ctx context.Context, subscriptionID string) (BillingResult, error)
	RenewSubscription(ctx context.Context, subscriptionID string) (BillingResult, error)
	GenerateBill(ctx context.Context, req GenerateBillRequest) (GenerateBillResult, error)
	AddOnCharge(ctx context.Context, req AddOnChargeRequest) (BillingResult, error)
	AdjustBalance(ctx context.Context, req AdjustBalanceRequest) (BillingResult, error)
	DeleteTransaction(ctx context.Context, transactionID string) (DeleteTransactionResult, error)
}

var (
	ErrInvalidCompany       = errors.New("invalid_company")
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrInvalidItems         = errors.New("invalid_items")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidMethod        = errors.New("invalid_method")
	ErrInvalidID            = errors.New("invalid_id")
	ErrZeroAdjustment       = errors.New("zero_adjustment")
	ErrNotFound             = errors.New("not_found")
	ErrLockContention       = errors.New("lock_contention")
)
