package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/netbill/internal/clock"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	customerrepo "github.com/smallbiznis/netbill/internal/customer/repository"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/netbill/internal/ledger/service"
	"github.com/smallbiznis/netbill/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/netbill/internal/payment/repository"
	"github.com/smallbiznis/netbill/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type paymentFixture struct {
	db         *gorm.DB
	svc        domain.Service
	ledger     ledgerdomain.Service
	companyID  snowflake.ID
	customerID snowflake.ID
	ctx        context.Context
}

func setupPaymentTest(t *testing.T) *paymentFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&ledgerdomain.Transaction{},
		&domain.Payment{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	companyID := node.Generate()
	customerID := node.Generate()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&customerdomain.Customer{
		ID:        customerID,
		CompanyID: companyID,
		Name:      "Ravi Kumar",
		Email:     "ravi@example.com",
		Status:    customerdomain.CustomerStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
	})

	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Repo:         paymentrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Ledger:       ledgerSvc,
	})

	return &paymentFixture{
		db:         db,
		svc:        svc,
		ledger:     ledgerSvc,
		companyID:  companyID,
		customerID: customerID,
		ctx:        tenantctx.WithCompany(context.Background(), companyID),
	}
}

func (f *paymentFixture) seedDebit(t *testing.T, amount int64) {
	t.Helper()

	err := f.db.Transaction(func(tx *gorm.DB) error {
		balance, err := f.ledger.LockChain(f.ctx, tx, f.companyID, f.customerID)
		if err != nil {
			return err
		}
		_, err = f.ledger.Append(f.ctx, tx, ledgerdomain.AppendInput{
			CompanyID:       f.companyID,
			CustomerID:      f.customerID,
			Type:            ledgerdomain.TransactionTypeInvoice,
			Direction:       ledgerdomain.TransactionDirectionDebit,
			Amount:          amount,
			BalanceBefore:   balance,
			TransactionDate: time.Now().UTC().Add(-time.Hour),
			Reference:       ledgerdomain.NoReference(),
		})
		return err
	})
	require.NoError(t, err)
}

func TestRecordPaymentSettlesBalance(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 39900)

	result, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     39900,
		Method:     "UPI",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Payment.PaymentNumber, "PAY-"))
	assert.Equal(t, domain.PaymentStatusActive, result.Payment.Status)
	assert.Equal(t, ledgerdomain.TransactionDirectionCredit, result.Transaction.Direction)
	assert.Equal(t, int64(39900), result.Transaction.Amount)
	assert.Equal(t, int64(39900), result.Transaction.BalanceBefore)
	assert.Equal(t, int64(0), result.Transaction.BalanceAfter)

	// Two-phase write leaves the transaction pointing at the payment.
	var stored ledgerdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", result.Transaction.ID).First(&stored).Error)
	assert.Equal(t, ledgerdomain.ReferenceTypePayment, stored.ReferenceType)
	require.NotNil(t, stored.ReferenceID)
	assert.Equal(t, result.Payment.ID, *stored.ReferenceID)

	balance, err := f.ledger.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestRecordPaymentDiscountReducesCredit(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 50000)

	result, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     50000,
		Discount:   10000,
		Method:     "CASH",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(40000), result.Transaction.Amount)
	assert.Equal(t, int64(10000), result.Transaction.BalanceAfter)
}

func TestRecordPaymentOverpaymentClampsAtZero(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 100)

	result, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     9999,
		Method:     "CARD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Transaction.BalanceAfter)
}

func TestRecordPaymentRejectsUnknownMethod(t *testing.T) {
	f := setupPaymentTest(t)

	_, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     100,
		Method:     "BARTER",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMethod)
}

func TestRecordPaymentRejectsDiscountAboveAmount(t *testing.T) {
	f := setupPaymentTest(t)

	_, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     100,
		Discount:   200,
		Method:     "UPI",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDiscount)
}

func TestRecordPaymentRejectsBackdatedCollectedAt(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 1000)

	// The seeded debit is dated an hour ago; collecting before that would
	// slot the credit behind the chain head.
	backdated := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	_, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID:  f.customerID.String(),
		Amount:      500,
		Method:      "UPI",
		CollectedAt: backdated,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrBackdatedTransaction)

	balance, err := f.ledger.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestRecordPaymentCarriesCommentsToTransaction(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 1000)

	result, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     1000,
		Method:     "CASH",
		Comments:   "collected at doorstep",
	})
	require.NoError(t, err)
	assert.Equal(t, "collected at doorstep", result.Payment.Comments)
	assert.Equal(t, "collected at doorstep", result.Transaction.Description)
}

func TestDeletePaymentVoidsDocumentAndTransaction(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 1000)

	recorded, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     1000,
		Method:     "UPI",
	})
	require.NoError(t, err)

	deleted, err := f.svc.Delete(f.ctx, recorded.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusVoided, deleted.Payment.Status)
	assert.Equal(t, ledgerdomain.TransactionStatusVoided, deleted.Transaction.Status)

	// Voiding the credit restores the owed balance.
	balance, err := f.ledger.CurrentBalance(f.ctx, f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestDeletePaymentRejectedWhenNotChainLatest(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 1000)

	recorded, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     500,
		Method:     "UPI",
	})
	require.NoError(t, err)

	// A later debit makes the payment an interior transaction.
	err = f.db.Transaction(func(tx *gorm.DB) error {
		balance, err := f.ledger.LockChain(f.ctx, tx, f.companyID, f.customerID)
		if err != nil {
			return err
		}
		_, err = f.ledger.Append(f.ctx, tx, ledgerdomain.AppendInput{
			CompanyID:       f.companyID,
			CustomerID:      f.customerID,
			Type:            ledgerdomain.TransactionTypeAddOnBill,
			Direction:       ledgerdomain.TransactionDirectionDebit,
			Amount:          200,
			BalanceBefore:   balance,
			TransactionDate: time.Now().UTC(),
			Reference:       ledgerdomain.NoReference(),
		})
		return err
	})
	require.NoError(t, err)

	_, err = f.svc.Delete(f.ctx, recorded.Payment.ID.String())
	assert.ErrorIs(t, err, ledgerdomain.ErrNotLatestTransaction)

	// Payment document must stay active when the void is rejected.
	stored, err := f.svc.GetByID(f.ctx, recorded.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusActive, stored.Status)
}

func TestDeletePaymentTwiceFails(t *testing.T) {
	f := setupPaymentTest(t)
	f.seedDebit(t, 1000)

	recorded, err := f.svc.Record(f.ctx, domain.RecordPaymentRequest{
		CustomerID: f.customerID.String(),
		Amount:     1000,
		Method:     "UPI",
	})
	require.NoError(t, err)

	_, err = f.svc.Delete(f.ctx, recorded.Payment.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Delete(f.ctx, recorded.Payment.ID.String())
	assert.ErrorIs(t, err, domain.ErrAlreadyVoided)
}
