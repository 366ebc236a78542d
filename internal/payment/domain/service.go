package domain

import (
	"context"
	"errors"

	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
)

type RecordPaymentRequest struct {
	CustomerID  string `json:"-"`
	InvoiceID   string `json:"invoice_id"`
	Amount      int64  `json:"amount"`
	Discount    int64  `json:"discount"`
	Method      string `json:"method"`
	CollectedAt string `json:"collected_at"`
	Comments    string `json:"comments"`
}

// RecordPaymentResult pairs the payment document with the ledger credit it
// produced.
type RecordPaymentResult struct {
	Payment     Payment                  `json:"payment"`
	Transaction ledgerdomain.Transaction `json:"transaction"`
}

type DeletePaymentResult struct {
	Payment     Payment                  `json:"payment"`
	Transaction ledgerdomain.Transaction `json:"transaction"`
}

type ListPaymentRequest struct {
	PageToken  string
	PageSize   int
	CustomerID string
	Method     string
	Status     string
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type Service interface {
	Record(ctx context.Context, req RecordPaymentRequest) (RecordPaymentResult, error)
	// Delete voids the payment and its ledger credit in one unit. Only the
	// payment whose transaction is chain-latest can be deleted.
	Delete(ctx context.Context, paymentID string) (DeletePaymentResult, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
	GetByID(ctx context.Context, id string) (Payment, error)
}

var (
	ErrInvalidCompany     = errors.New("invalid_company")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidDiscount    = errors.New("invalid_discount")
	ErrInvalidMethod      = errors.New("invalid_method")
	ErrInvalidInvoice     = errors.New("invalid_invoice")
	ErrInvalidCollectedAt = errors.New("invalid_collected_at")
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
	ErrNotFound           = errors.New("not_found")
	ErrAlreadyVoided      = errors.New("already_voided")
)
