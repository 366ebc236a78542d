package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netbill/pkg/db/pagination"
	"gorm.io/gorm"
)

// AppendInput describes one transaction to append to a customer chain. The
// caller resolves BalanceBefore under the chain lock; Append derives
// BalanceAfter from the direction.
type AppendInput struct {
	CompanyID       snowflake.ID
	CustomerID      snowflake.ID
	Type            TransactionType
	Direction       TransactionDirection
	Amount          int64
	BalanceBefore   int64
	Description     string
	TransactionDate time.Time
	CreatedBy       *snowflake.ID
	Reference       Reference
}

type ListTransactionsRequest struct {
	CustomerID    string
	PageToken     string
	PageSize      int
	IncludeVoided bool
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

// Service owns the customer balance chain. The tx-scoped methods must be
// called inside a database transaction after LockChain, so all writes to one
// chain are serialized.
type Service interface {
	CurrentBalance(ctx context.Context, customerID string) (int64, error)
	List(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	FindByID(ctx context.Context, tx *gorm.DB, companyID, txnID snowflake.ID) (*Transaction, error)

	// LockChain serializes writers on one customer chain and returns the
	// current balance read under the lock.
	LockChain(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID) (int64, error)
	// Append inserts one transaction at the head of the chain. A transaction
	// dated before the current head would order interior to existing rows,
	// so it is rejected with ErrBackdatedTransaction.
	Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*Transaction, error)
	AttachReference(ctx context.Context, tx *gorm.DB, companyID, txnID snowflake.ID, ref Reference) error
	// Void flips the chain-latest transaction to VOIDED. Latest is judged
	// over voided rows too: once a later transaction exists, even a voided
	// one, everything before it is fixed history and cannot be removed.
	Void(ctx context.Context, tx *gorm.DB, companyID, customerID, txnID snowflake.ID) (*Transaction, error)
	// Recalculate rebuilds balance_before/balance_after for every active
	// transaction in chain order. Not reachable from any HTTP route.
	Recalculate(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID) error
}

var (
	ErrInvalidCompany       = errors.New("invalid_company")
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidType          = errors.New("invalid_type")
	ErrInvalidDirection     = errors.New("invalid_direction")
	ErrInvalidReference     = errors.New("invalid_reference")
	ErrInvalidID            = errors.New("invalid_id")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
	ErrNotFound             = errors.New("not_found")
	ErrNotLatestTransaction = errors.New("not_latest_transaction")
	ErrAlreadyVoided        = errors.New("already_voided")
	ErrBackdatedTransaction = errors.New("backdated_transaction")
	ErrChainIntegrity       = errors.New("chain_integrity_failure")
)
